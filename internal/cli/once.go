package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sbctool/sbctool/internal/errors"
	"github.com/sbctool/sbctool/internal/facts"
	"github.com/sbctool/sbctool/internal/monitor"
	"github.com/sbctool/sbctool/internal/session"
	"github.com/sbctool/sbctool/internal/transport"
	"gopkg.in/yaml.v3"
)

// Report is the --once output.
type Report struct {
	Target  string         `yaml:"target"`
	Devices []DeviceReport `yaml:"devices"`
}

// DeviceReport is one device's snapshot or the reason there is none.
type DeviceReport struct {
	Device      string       `yaml:"device"`
	Via         string       `yaml:"via,omitempty"`
	CollectedAt *time.Time   `yaml:"collected_at,omitempty"`
	Facts       *facts.Facts `yaml:"facts,omitempty"`
	Error       string       `yaml:"error,omitempty"`
}

// deviceConnector is the part of *transport.Selector the report needs.
type deviceConnector interface {
	Select(ctx context.Context, target transport.Target) ([]transport.Strategy, error)
	ConnectEach(ctx context.Context, strategies []transport.Strategy, fn func(device string, sess session.Session, err error))
}

func (a *app) runOnce(ctx context.Context, out io.Writer, target transport.Target) error {
	selector := transport.NewSelector(a.cfg, a.logger("transport"))
	selector.SetEventHandler(logEvents(a.logger("transport")))

	report, err := collectReport(ctx, selector, target, facts.Batch{}, a.cfg.CommandTimeout, time.Now)
	if report != nil {
		if werr := writeReport(out, report); werr != nil {
			return werr
		}
	}
	return err
}

// collectReport takes one snapshot per device. The error is non-nil only
// when no device produced facts; it is the first device's error so its
// exit code is preserved.
func collectReport(ctx context.Context, c deviceConnector, target transport.Target, ex facts.Extractor, timeout time.Duration, now func() time.Time) (*Report, error) {
	strategies, err := c.Select(ctx, target)
	if err != nil {
		return nil, err
	}

	report := &Report{Target: target.String()}
	var firstErr error
	c.ConnectEach(ctx, strategies, func(device string, sess session.Session, err error) {
		entry := DeviceReport{Device: device}
		if err == nil {
			entry.Via = sess.String()
			var f facts.Facts
			f, err = monitor.Collect(ctx, sess, ex, timeout)
			_ = sess.Close()
			if err == nil {
				at := now()
				entry.Facts = &f
				entry.CollectedAt = &at
			}
		}
		if err != nil {
			entry.Error = strings.TrimPrefix(errors.Summary(err), "✗ ")
			if firstErr == nil {
				firstErr = err
			}
		}
		report.Devices = append(report.Devices, entry)
	})

	for _, d := range report.Devices {
		if d.Facts != nil {
			return report, nil
		}
	}
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return report, firstErr
}

func writeReport(w io.Writer, report *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return enc.Close()
}
