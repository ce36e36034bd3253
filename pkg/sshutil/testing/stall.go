package testing

import (
	"net"
	"sync"
	"sync/atomic"
)

// StallProxy forwards TCP to a target until Stall is called. From then on
// it reads and discards everything in both directions without closing
// either side, like a cable pulled mid-session.
type StallProxy struct {
	listener net.Listener
	target   string
	stalled  atomic.Bool

	mu     sync.Mutex
	conns  []net.Conn
	closed bool
	wg     sync.WaitGroup
}

// NewStallProxy listens on a loopback port and forwards to target.
func NewStallProxy(target string) (*StallProxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	p := &StallProxy{listener: ln, target: target}
	p.wg.Add(1)
	go p.acceptLoop()
	return p, nil
}

// Addr returns the host:port clients should dial.
func (p *StallProxy) Addr() string {
	return p.listener.Addr().String()
}

// Stall starts dropping bytes.
func (p *StallProxy) Stall() {
	p.stalled.Store(true)
}

// Close stops the listener and closes every forwarded connection.
func (p *StallProxy) Close() error {
	err := p.listener.Close()
	p.mu.Lock()
	p.closed = true
	for _, c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return err
}

func (p *StallProxy) acceptLoop() {
	defer p.wg.Done()
	for {
		down, err := p.listener.Accept()
		if err != nil {
			return
		}
		up, err := net.Dial("tcp", p.target)
		if err != nil {
			down.Close()
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			down.Close()
			up.Close()
			return
		}
		p.conns = append(p.conns, down, up)
		p.mu.Unlock()

		p.wg.Add(2)
		go p.pump(up, down)
		go p.pump(down, up)
	}
}

func (p *StallProxy) pump(dst, src net.Conn) {
	defer p.wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if err != nil {
			dst.Close()
			return
		}
		if p.stalled.Load() {
			continue
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			src.Close()
			return
		}
	}
}
