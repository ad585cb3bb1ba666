// Package scpitest provides an in-process mock SCPI instrument server for
// tests: a line-oriented TCP listener plus stateful command handlers that
// mimic the power supply and multimeter dialects.
package scpitest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Handler interprets one SCPI command line. The second return value reports
// whether a reply line should be written (set commands reply nothing).
type Handler func(cmd string) (string, bool)

// Server is a line-oriented TCP listener that feeds every received line to
// a Handler. Connections are persistent: multiple commands per session.
type Server struct {
	l  net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Serve starts a server on a random loopback port.
func Serve(h Handler) (*Server, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{l: l}
	s.wg.Add(1)
	go s.acceptLoop(h)
	return s, nil
}

// Addr returns the HOST:PORT the server listens on.
func (s *Server) Addr() string { return s.l.Addr().String() }

func (s *Server) acceptLoop(h Handler) {
	defer s.wg.Done()
	for {
		conn, err := s.l.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
				cmd := strings.TrimSpace(scanner.Text())
				if resp, ok := h(cmd); ok {
					if _, err := conn.Write([]byte(resp + "\n")); err != nil {
						return
					}
				}
			}
		}()
	}
}

// Close stops the listener and waits for open sessions to drain.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.l.Close()
	s.wg.Wait()
}

// PSUState is a scriptable SPD3303X-E lookalike.
type PSUState struct {
	mu      sync.Mutex
	IDN     string
	Volt    float64
	Curr    float64
	On      bool
	history []string

	// MeasureVoltage overrides the reported voltage when non-nil,
	// called once per MEAS:VOLT? with the tick index.
	MeasureVoltage func(call int) float64
	measCalls      int
}

// NewPSUState returns a mock supply with the stock identity string.
func NewPSUState() *PSUState {
	return &PSUState{IDN: "SIGLENT,SPD3303X-E,MOCK,1.00", Volt: 5.0, Curr: 1.0}
}

// History returns all commands seen so far.
func (p *PSUState) History() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.history))
	copy(out, p.history)
	return out
}

// Handle implements Handler.
func (p *PSUState) Handle(cmd string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, cmd)
	switch {
	case cmd == "*IDN?":
		return p.IDN, true
	case strings.HasPrefix(cmd, "CH1:VOLT "):
		p.Volt, _ = strconv.ParseFloat(lastField(cmd), 64)
		return "", false
	case strings.HasPrefix(cmd, "CH1:CURR "):
		p.Curr, _ = strconv.ParseFloat(lastField(cmd), 64)
		return "", false
	case cmd == "MEAS:VOLT? CH1":
		v := p.Volt
		if p.On {
			v -= 0.01
		}
		if p.MeasureVoltage != nil {
			v = p.MeasureVoltage(p.measCalls)
			p.measCalls++
		}
		return strconv.FormatFloat(v, 'f', 6, 64), true
	case cmd == "MEAS:CURR? CH1":
		if p.On {
			return strconv.FormatFloat(p.Curr, 'f', 6, 64), true
		}
		return "0.000000", true
	case cmd == "OUTP CH1,ON":
		p.On = true
		return "", false
	case cmd == "OUTP CH1,OFF":
		p.On = false
		return "", false
	case cmd == "*OPC?":
		return "1", true
	case cmd == "SYST:ERR?":
		return "0,No error", true
	}
	return "", false
}

// DMMState is a scriptable SDM3045X lookalike.
type DMMState struct {
	mu       sync.Mutex
	IDN      string
	Func     string
	Range    float64
	Readings []float64
	reads    int
}

// NewDMMState returns a mock multimeter that answers READ? from the given
// sequence, repeating the last value once exhausted.
func NewDMMState(readings ...float64) *DMMState {
	if len(readings) == 0 {
		readings = []float64{5.0}
	}
	return &DMMState{IDN: "SIGLENT,SDM3045X,MOCK,1.00", Func: "VOLT:DC", Range: 10.0, Readings: readings}
}

// Handle implements Handler.
func (d *DMMState) Handle(cmd string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case cmd == "*IDN?":
		return d.IDN, true
	case strings.HasPrefix(cmd, `FUNC "`):
		d.Func = strings.Trim(cmd[len("FUNC "):], `"`)
		return "", false
	case strings.HasPrefix(cmd, "CONF:VOLT:DC"):
		if fields := strings.Fields(cmd); len(fields) == 2 {
			if r, err := strconv.ParseFloat(fields[1], 64); err == nil {
				d.Range = r
			}
		}
		return "", false
	case cmd == "READ?":
		i := d.reads
		if i >= len(d.Readings) {
			i = len(d.Readings) - 1
		}
		d.reads++
		return strconv.FormatFloat(d.Readings[i], 'f', 6, 64), true
	case cmd == "SYST:ERR?":
		return "0,No error", true
	}
	return "", false
}

func lastField(cmd string) string {
	fields := strings.Fields(cmd)
	return fields[len(fields)-1]
}
