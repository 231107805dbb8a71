package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
)

const (
	// DefaultTimeout replaces the 2s VISA default; presets and multi-sweep
	// triggers regularly take longer than that.
	DefaultTimeout = 10 * time.Second

	socketPort = "5025" // standard SCPI raw socket port
)

var (
	ErrTimeout    = errors.New("scpi: timeout waiting for instrument")
	ErrClosed     = errors.New("scpi: channel closed")
	ErrIncomplete = errors.New("scpi: operation not complete")
)

// Channel is a command/response conduit to a single instrument.
type Channel interface {
	Write(cmd string) error
	Read() (string, error)
	Query(cmd string) (string, error)
	Timeout() time.Duration
	SetTimeout(d time.Duration)
	Clear() error
	Close() error
}

// ParseVISA turns a VISA resource string into a TCP address.
// Supported forms:
//
//	TCPIP0::169.254.15.18::inst0::INSTR  -> 169.254.15.18:5025
//	TCPIP::10.0.0.5::5025::SOCKET        -> 10.0.0.5:5025
//	10.0.0.5:5025
func ParseVISA(resource string) (string, error) {
	resource = strings.TrimSpace(resource)
	if !strings.Contains(resource, "::") {
		if _, _, err := net.SplitHostPort(resource); err != nil {
			return "", fmt.Errorf("invalid instrument address %q: %w", resource, err)
		}
		return resource, nil
	}

	parts := strings.Split(resource, "::")
	if len(parts) < 2 || !strings.HasPrefix(strings.ToUpper(parts[0]), "TCPIP") {
		return "", fmt.Errorf("unsupported VISA resource %q (only TCPIP resources)", resource)
	}
	host := parts[1]
	if host == "" {
		return "", fmt.Errorf("VISA resource %q has no host", resource)
	}
	port := socketPort
	if len(parts) == 4 && strings.EqualFold(parts[3], "SOCKET") {
		port = parts[2]
	}
	return net.JoinHostPort(host, port), nil
}

// TCP is a Channel talking to the instrument over a raw SCPI socket.
type TCP struct {
	Address string

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// Dial opens a raw socket session to the instrument named by resource.
func Dial(ctx context.Context, resource string, timeout time.Duration) (*TCP, error) {
	addr, err := ParseVISA(resource)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to instrument at %s: %w", addr, err)
	}
	glog.V(1).Infof("connected to instrument at %s", addr)
	return &TCP{
		Address: addr,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

func (t *TCP) Write(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(cmd)
}

func (t *TCP) writeLocked(cmd string) error {
	if t.conn == nil {
		return ErrClosed
	}
	glog.V(2).Infof("scpi > %s", cmd)
	t.conn.SetWriteDeadline(time.Now().Add(t.timeout))
	if _, err := t.conn.Write([]byte(cmd + "\n")); err != nil {
		return wrapNetErr(fmt.Sprintf("write %q", cmd), err)
	}
	return nil
}

func (t *TCP) Read() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readLocked()
}

func (t *TCP) readLocked() (string, error) {
	if t.conn == nil {
		return "", ErrClosed
	}
	t.conn.SetReadDeadline(time.Now().Add(t.timeout))
	resp, err := t.reader.ReadString('\n')
	if err != nil {
		return "", wrapNetErr("read", err)
	}
	resp = strings.TrimSpace(resp)
	glog.V(2).Infof("scpi < %s", resp)
	return resp, nil
}

func (t *TCP) Query(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.writeLocked(cmd); err != nil {
		return "", err
	}
	return t.readLocked()
}

func (t *TCP) Timeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

func (t *TCP) SetTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeout = d
}

// Clear discards any reply bytes still buffered from the instrument.
func (t *TCP) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrClosed
	}
	t.reader.Reset(t.conn)
	return nil
}

func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func wrapNetErr(op string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// OPC appends the operation complete query to cmd and blocks until the
// instrument reports completion. A zero timeout keeps the channel's own.
func OPC(ch Channel, cmd string, timeout time.Duration) error {
	if timeout > 0 {
		prev := ch.Timeout()
		ch.SetTimeout(timeout)
		defer ch.SetTimeout(prev)
	}
	resp, err := ch.Query(cmd + ";*OPC?")
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	done, err := ParseInt(resp)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if done != 1 {
		return fmt.Errorf("%s: %w (*OPC? returned %d)", cmd, ErrIncomplete, done)
	}
	return nil
}
