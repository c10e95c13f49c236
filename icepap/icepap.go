// Package icepap talks to a motor-control device over its ASCII command
// protocol.
//
// Every request is one line. Queries start with '?' and are answered by the
// echoed command word followed by the value; acknowledged commands start with
// '#' and are answered by the echoed word followed by OK or ERROR. A value
// ending in '$' opens a multi-line answer closed by a line holding only '$'.
package icepap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/w1xm/ecam_trigger/motion"
)

// Client implements motion.Device.
type Client struct {
	mu      sync.Mutex
	conn    io.ReadWriteCloser
	r       *bufio.Reader
	timeout time.Duration
	// dial reconnects after a failed exchange; nil for connections that
	// cannot be reopened, which are drained instead.
	dial func() (io.ReadWriteCloser, error)
	// dirty is set when an answer may still be in flight.
	dirty bool
}

var _ motion.Device = (*Client)(nil)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// flusher discards unread input, as serial ports do.
type flusher interface {
	Flush() error
}

// NewClient speaks the protocol over conn. If conn supports deadlines every
// exchange must complete within timeout.
func NewClient(conn io.ReadWriteCloser, timeout time.Duration) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}
}

func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
	}
	dial := func() (io.ReadWriteCloser, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", addr, err)
		}
		return conn, nil
	}
	conn, err := dial()
	if err != nil {
		return nil, err
	}
	c := NewClient(conn, timeout)
	c.dial = dial
	return c, nil
}

// OpenSerial opens the device's serial line. The read timeout of the port
// bounds every exchange.
func OpenSerial(port string, baud int, timeout time.Duration) (*Client, error) {
	c := &serial.Config{Name: port, Baud: baud, ReadTimeout: timeout}
	s, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", port, err)
	}
	return NewClient(s, timeout), nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// ErrDevice is wrapped by errors the device reports itself.
var ErrDevice = errors.New("device error")

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.dirty = true
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// resync discards whatever a failed exchange may still receive, so that the
// next answer read belongs to the next request.
func (c *Client) resync() error {
	if c.dial != nil {
		c.conn.Close()
		conn, err := c.dial()
		if err != nil {
			return err
		}
		c.conn = conn
		c.r.Reset(conn)
		c.dirty = false
		return nil
	}
	if f, ok := c.conn.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	} else if d, ok := c.conn.(deadliner); ok && c.timeout > 0 {
		d.SetDeadline(time.Now().Add(c.timeout))
		for {
			if _, err := c.r.ReadString('\n'); err != nil {
				break
			}
		}
	}
	c.r.Reset(c.conn)
	c.dirty = false
	return nil
}

// exchange sends cmd and returns the answer with the echoed command word
// removed.
func (c *Client) exchange(cmd string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty {
		if err := c.resync(); err != nil {
			return nil, fmt.Errorf("sending %q: %w", cmd, err)
		}
	}
	if d, ok := c.conn.(deadliner); ok && c.timeout > 0 {
		d.SetDeadline(time.Now().Add(c.timeout))
		defer d.SetDeadline(time.Time{})
	}
	if _, err := io.WriteString(c.conn, cmd+"\n"); err != nil {
		c.dirty = true
		return nil, fmt.Errorf("sending %q: %w", cmd, err)
	}
	line, err := c.readLine()
	if err != nil {
		return nil, fmt.Errorf("reading answer to %q: %w", cmd, err)
	}
	word := strings.Fields(cmd)[0]
	if cmd[0] == '#' {
		word = word[1:]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.EqualFold(fields[0], word) {
		c.dirty = true
		return nil, fmt.Errorf("unexpected answer to %q: %q", cmd, line)
	}
	value := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
	if strings.HasPrefix(value, "ERROR") {
		return nil, fmt.Errorf("%w: %s: %s", ErrDevice, cmd, strings.TrimSpace(strings.TrimPrefix(value, "ERROR")))
	}
	if !strings.HasSuffix(value, "$") {
		return []string{value}, nil
	}
	var lines []string
	if first := strings.TrimSpace(strings.TrimSuffix(value, "$")); first != "" {
		lines = append(lines, first)
	}
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, fmt.Errorf("reading answer to %q: %w", cmd, err)
		}
		if strings.TrimSpace(line) == "$" {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

func (c *Client) query(cmd string) ([]string, error) {
	return c.exchange("?" + cmd)
}

func (c *Client) command(cmd string) error {
	answer, err := c.exchange("#" + cmd)
	if err != nil {
		return err
	}
	if len(answer) != 1 || answer[0] != "OK" {
		return fmt.Errorf("unexpected answer to %q: %q", cmd, answer)
	}
	return nil
}

func (c *Client) ReadAxisState(axis int) (motion.AxisState, error) {
	s, err := c.ReadStatus(axis)
	if err != nil {
		return motion.AxisState{}, err
	}
	return s.AxisState(), nil
}

// ReadStatus returns the full status word of axis.
func (c *Client) ReadStatus(axis int) (Status, error) {
	answer, err := c.query(fmt.Sprintf("FSTATUS %d", axis))
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(answer[0])
}

func (c *Client) WriteOutput(axis int, channel, level, mode string) error {
	return c.command(fmt.Sprintf("%d:%s %s %s", axis, strings.ToUpper(channel), strings.ToUpper(level), strings.ToUpper(mode)))
}

// UploadTable loads table into the ECAM comparator of axis. The device
// refuses tables that are not increasing, so they are rejected here first.
func (c *Client) UploadTable(axis int, table []float64) error {
	if len(table) == 0 {
		return errors.New("empty ECAM table")
	}
	for i := 1; i < len(table); i++ {
		if table[i] < table[i-1] {
			return fmt.Errorf("ECAM table decreases at position %d", i)
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d:ECAMDAT %d", axis, len(table))
	for _, v := range table {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return c.command(b.String())
}

func (c *Client) Assignments() ([]motion.Assignment, error) {
	answer, err := c.query("PMUX")
	if err != nil {
		return nil, err
	}
	var out []motion.Assignment
	for _, line := range answer {
		if strings.TrimSpace(line) == "" {
			continue
		}
		a, err := ParseAssignment(line)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ParseAssignment parses one multiplexer line, e.g. "HARD POS AUX B3 E0".
func ParseAssignment(line string) (motion.Assignment, error) {
	fields := strings.Fields(strings.ToUpper(line))
	if len(fields) < 2 {
		return motion.Assignment{}, fmt.Errorf("bad multiplexer line %q", line)
	}
	var a motion.Assignment
	for _, f := range fields[:len(fields)-2] {
		switch f {
		case "POS":
			a.Pos = true
		case "AUX":
			a.Aux = true
		case "HARD":
			a.Hard = true
		default:
			return motion.Assignment{}, fmt.Errorf("bad multiplexer option %q in %q", f, line)
		}
	}
	src := fields[len(fields)-2]
	if !strings.HasPrefix(src, "B") {
		return motion.Assignment{}, fmt.Errorf("bad multiplexer source %q", src)
	}
	axis, err := strconv.Atoi(src[1:])
	if err != nil {
		return motion.Assignment{}, fmt.Errorf("bad multiplexer source %q: %w", src, err)
	}
	a.Source = axis
	a.Line = fields[len(fields)-1]
	return a, nil
}

// FormatAssignment is the inverse of ParseAssignment.
func FormatAssignment(axis int, line string, opts motion.AssignOptions) string {
	var parts []string
	if opts.Hard {
		parts = append(parts, "HARD")
	}
	if opts.Pos {
		parts = append(parts, "POS")
	}
	if opts.Aux {
		parts = append(parts, "AUX")
	}
	parts = append(parts, fmt.Sprintf("B%d", axis), strings.ToUpper(line))
	return strings.Join(parts, " ")
}

func (c *Client) ClearAssignment(line string) error {
	return c.command("PMUX REMOVE " + strings.ToUpper(line))
}

func (c *Client) AddAssignment(axis int, line string, opts motion.AssignOptions) error {
	return c.command("PMUX " + FormatAssignment(axis, line, opts))
}
