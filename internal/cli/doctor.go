package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sbctool/sbctool/internal/doctor"
	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/ui"
	"github.com/spf13/cobra"
)

// DoctorOutput represents the JSON output for doctor command.
type DoctorOutput struct {
	Categories []CategoryOutput `json:"categories"`
	Summary    SummaryOutput    `json:"summary"`
}

// CategoryOutput represents a category of check results.
type CategoryOutput struct {
	Name    string               `json:"name"`
	Results []doctor.CheckResult `json:"results"`
}

// SummaryOutput summarizes the check results.
type SummaryOutput struct {
	Pass     int  `json:"pass"`
	Warn     int  `json:"warn"`
	Fail     int  `json:"fail"`
	Fixable  int  `json:"fixable"`
	AllClear bool `json:"all_clear"`
}

func (a *app) doctorCmd() *cobra.Command {
	var asJSON, fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, SSH and ADB prerequisites",
		Long: `Run local preflight checks without connecting to a board:
the config file, SSH keys and agent, SSH config aliases, the adb key,
the adb server, and direct USB access.

Examples:
  sbctool doctor
  sbctool doctor --fix
  sbctool doctor --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.opts.noColor || !isTerminal(os.Stdout) {
				ui.DisableColors()
			}

			// A broken config is reported by the checks, not returned.
			cfg, err := loadConfig(cmd, &a.opts)
			if err != nil {
				cfg = nil
			}

			checks := doctor.NewChecks(a.opts.configPath, cfg)
			results := doctor.RunAll(cmd.Context(), checks)
			if fix {
				results = doctor.FixAll(cmd.Context(), checks, results)
			}

			if asJSON {
				if err := writeDoctorJSON(cmd.OutOrStdout(), checks, results); err != nil {
					return err
				}
			} else {
				writeDoctorText(cmd.OutOrStdout(), checks, results, fix)
			}
			// The report already says what failed.
			if doctor.HasFailures(results) {
				return errors.NewExitError(errors.ExitGeneric)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&fix, "fix", false, "attempt automatic fixes where possible")
	return cmd
}

// groupResults returns result indices per category, in report order.
func groupResults(checks []doctor.Check) map[string][]int {
	grouped := make(map[string][]int)
	for i, check := range checks {
		grouped[check.Category()] = append(grouped[check.Category()], i)
	}
	return grouped
}

func writeDoctorJSON(w io.Writer, checks []doctor.Check, results []doctor.CheckResult) error {
	grouped := groupResults(checks)

	output := DoctorOutput{Categories: make([]CategoryOutput, 0, len(doctor.Categories))}
	for _, cat := range doctor.Categories {
		indices := grouped[cat]
		if len(indices) == 0 {
			continue
		}
		co := CategoryOutput{Name: cat}
		for _, i := range indices {
			co.Results = append(co.Results, results[i])
		}
		output.Categories = append(output.Categories, co)
	}

	counts := doctor.CountByStatus(results)
	output.Summary = SummaryOutput{
		Pass:     counts[doctor.StatusPass],
		Warn:     counts[doctor.StatusWarn],
		Fail:     counts[doctor.StatusFail],
		Fixable:  doctor.FixableCount(results),
		AllClear: !doctor.HasIssues(results),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func writeDoctorText(w io.Writer, checks []doctor.Check, results []doctor.CheckResult, fixed bool) {
	successStyle := lipgloss.NewStyle().Foreground(ui.ColorSuccess)
	errorStyle := lipgloss.NewStyle().Foreground(ui.ColorError)
	warnStyle := lipgloss.NewStyle().Foreground(ui.ColorWarning)
	mutedStyle := lipgloss.NewStyle().Foreground(ui.ColorMuted)
	headerStyle := lipgloss.NewStyle().Bold(true)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("sbctool Diagnostic Report"))
	fmt.Fprintln(w)

	grouped := groupResults(checks)
	for _, category := range doctor.Categories {
		indices := grouped[category]
		if len(indices) == 0 {
			continue
		}

		fmt.Fprintln(w, headerStyle.Render(category))
		for _, idx := range indices {
			result := results[idx]

			symbol, style := ui.SymbolComplete, successStyle
			switch result.Status {
			case doctor.StatusWarn:
				style = warnStyle
			case doctor.StatusFail:
				symbol, style = ui.SymbolFail, errorStyle
			}
			fmt.Fprintf(w, "  %s %s\n", style.Render(symbol), result.Message)

			if result.Suggestion != "" && result.Status != doctor.StatusPass {
				for _, line := range strings.Split(result.Suggestion, "\n") {
					fmt.Fprintf(w, "    %s\n", mutedStyle.Render(line))
				}
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("━", 60))
	fmt.Fprintln(w)

	if !doctor.HasIssues(results) {
		fmt.Fprintf(w, "%s %s\n", successStyle.Render(ui.SymbolSuccess), doctor.Summary(results))
	} else {
		fmt.Fprintf(w, "%s %s\n", errorStyle.Render(ui.SymbolFail), doctor.Summary(results))
		if doctor.FixableCount(results) > 0 && !fixed {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "  Run with %s to attempt automatic fixes where possible.\n",
				mutedStyle.Render("--fix"))
		}
	}
	fmt.Fprintln(w)
}
