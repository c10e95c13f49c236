// Package simulator answers the icepap command protocol for a virtual
// device with a handful of axes.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/icepap"
	"github.com/w1xm/ecam_trigger/motion"
	"golang.org/x/sync/errgroup"
)

type output struct {
	Level, Mode string
}

type axis struct {
	status  icepap.Status
	outputs map[string]output
	table   []float64
}

type Simulator struct {
	// Log defaults to the standard logger.
	Log logrus.FieldLogger

	conn io.ReadWriteCloser

	mu       sync.Mutex
	axes     map[int]*axis
	pmux     []motion.Assignment
	failNext int
}

// New returns a simulator with powered axes and the client end of its
// connection.
func New(axes ...int) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return NewWithConn(a, axes...), b
}

// NewWithConn returns a simulator whose Run serves conn.
func NewWithConn(conn io.ReadWriteCloser, axes ...int) *Simulator {
	s := NewDevice(axes...)
	s.conn = conn
	return s
}

// NewDevice returns a simulator without a connection, to be reached
// through Listen or Serve.
func NewDevice(axes ...int) *Simulator {
	s := &Simulator{Log: logrus.StandardLogger(), axes: make(map[int]*axis)}
	for _, n := range axes {
		s.axes[n] = &axis{
			status:  icepap.Status{Present: true, Alive: true, Ready: true, PowerOn: true},
			outputs: make(map[string]output),
		}
	}
	return s
}

// Run serves the connection given to New or NewWithConn.
func (s *Simulator) Run(ctx context.Context) error {
	return s.Serve(ctx, s.conn)
}

// Serve answers requests on conn until it is closed or ctx is done. Several
// connections may be served at once; they share the device state.
func (s *Simulator) Serve(ctx context.Context, conn io.ReadWriteCloser) error {
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-done:
		}
		return conn.Close()
	})
	g.Go(func() error {
		defer close(done)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("reading port: %w", err)
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			answer := s.handle(line)
			if answer == "" {
				continue
			}
			if _, err := io.WriteString(conn, answer); err != nil {
				return err
			}
		}
	})
	return g.Wait()
}

// Listen accepts TCP connections on addr until ctx is done. It returns the
// listening address.
func (s *Simulator) Listen(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() == nil {
					s.Log.WithError(err).Warn("failed to accept")
				}
				continue
			}
			log := s.Log.WithField("remote", conn.RemoteAddr())
			log.Info("accepted connection")
			go func() {
				if err := s.Serve(ctx, conn); err != nil {
					log.WithError(err).Warn("connection failed")
				}
			}()
		}
	}()
	return ln.Addr(), nil
}

func errorAnswer(word, format string, args ...interface{}) string {
	return fmt.Sprintf("%s ERROR %s\n", word, fmt.Sprintf(format, args...))
}

func (s *Simulator) handle(line string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ack := strings.HasPrefix(line, "#")
	query := strings.HasPrefix(line, "?")
	if ack {
		line = line[1:]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR empty command\n"
	}
	word := fields[0]
	if s.failNext > 0 {
		s.failNext--
		if ack || query {
			return errorAnswer(word, "simulated failure")
		}
		return ""
	}
	answer, err := s.dispatch(strings.ToUpper(word), fields[1:])
	if !ack && !query {
		return ""
	}
	if err != nil {
		return errorAnswer(word, "%v", err)
	}
	if ack {
		return word + " OK\n"
	}
	return word + " " + answer + "\n"
}

func (s *Simulator) axis(name string) (int, *axis, error) {
	n, err := strconv.Atoi(name)
	if err != nil {
		return 0, nil, fmt.Errorf("bad axis %q", name)
	}
	a, ok := s.axes[n]
	if !ok {
		return 0, nil, fmt.Errorf("axis %d not present", n)
	}
	return n, a, nil
}

func (s *Simulator) dispatch(word string, args []string) (string, error) {
	switch word {
	case "?FSTATUS":
		if len(args) != 1 {
			return "", fmt.Errorf("expected one axis")
		}
		_, a, err := s.axis(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("0x%08x", a.status.Encode()), nil
	case "?PMUX":
		var b strings.Builder
		b.WriteString("$\n")
		for _, p := range s.pmux {
			b.WriteString(icepap.FormatAssignment(p.Source, p.Line, p.AssignOptions))
			b.WriteString("\n")
		}
		b.WriteString("$")
		return b.String(), nil
	case "PMUX":
		return "", s.setPMUX(args)
	}
	// Axis commands look like "3:SYNCAUX".
	parts := strings.SplitN(word, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("unknown command")
	}
	_, a, err := s.axis(parts[0])
	if err != nil {
		return "", err
	}
	switch parts[1] {
	case "SYNCAUX", "INFOA", "INFOB", "INFOC":
		if len(args) != 2 {
			return "", fmt.Errorf("expected level and mode")
		}
		switch args[0] {
		case "LOW", "HIGH", "ECAM":
		default:
			return "", fmt.Errorf("bad level %q", args[0])
		}
		a.outputs[strings.ToLower(parts[1])] = output{Level: strings.ToLower(args[0]), Mode: strings.ToLower(args[1])}
		return "", nil
	case "ECAMDAT":
		if len(args) < 1 {
			return "", fmt.Errorf("missing table length")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n != len(args)-1 {
			return "", fmt.Errorf("bad table length %q", args[0])
		}
		table := make([]float64, n)
		for i, v := range args[1:] {
			if table[i], err = strconv.ParseFloat(v, 64); err != nil {
				return "", fmt.Errorf("bad position %q", v)
			}
			if i > 0 && table[i] < table[i-1] {
				return "", fmt.Errorf("table not increasing")
			}
		}
		a.table = table
		return "", nil
	}
	return "", fmt.Errorf("unknown command")
}

func (s *Simulator) setPMUX(args []string) error {
	if len(args) == 2 && args[0] == "REMOVE" {
		var kept []motion.Assignment
		for _, p := range s.pmux {
			if p.Line != args[1] {
				kept = append(kept, p)
			}
		}
		s.pmux = kept
		return nil
	}
	p, err := icepap.ParseAssignment(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if _, ok := s.axes[p.Source]; !ok {
		return fmt.Errorf("axis %d not present", p.Source)
	}
	for _, q := range s.pmux {
		if q.Line == p.Line && q.Hard {
			return fmt.Errorf("line %s already driven by B%d", q.Line, q.Source)
		}
	}
	s.pmux = append(s.pmux, p)
	s.Log.WithField("pmux", strings.Join(args, " ")).Debug("line assigned")
	return nil
}

// FailNext makes the next n requests fail.
func (s *Simulator) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

func (s *Simulator) SetStatus(n int, st icepap.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.axes[n]; ok {
		a.status = st
	}
}

func (s *Simulator) Table(n int) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.axes[n]; ok {
		return append([]float64(nil), a.table...)
	}
	return nil
}

// Output returns the level and mode last written to channel of axis n.
func (s *Simulator) Output(n int, channel string) (level, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.axes[n]; ok {
		o := a.outputs[strings.ToLower(channel)]
		return o.Level, o.Mode
	}
	return "", ""
}

func (s *Simulator) Assignments() []motion.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]motion.Assignment(nil), s.pmux...)
}
