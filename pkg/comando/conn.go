package comando

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "comando")

// Handler receives the decoded arguments of an unsolicited frame.
type Handler func(args []Value)

// pollInterval is how long a blocking trigger sleeps when no bytes arrived.
const pollInterval = time.Millisecond

// Conn speaks the protocol over a byte stream. Writes may come from any
// goroutine; HandleStream and BlockingTrigger must be called from one reader.
type Conn struct {
	rw    io.ReadWriter
	table *Table

	wmu sync.Mutex

	mu       sync.Mutex
	handlers map[byte]Handler
	text     func(string)

	buf     []byte
	scratch [256]byte
	waiting map[byte]*reply
}

type reply struct {
	values []Value
	done   bool
}

// NewConn wraps rw using the given command table.
func NewConn(rw io.ReadWriter, table *Table) *Conn {
	return &Conn{
		rw:       rw,
		table:    table,
		handlers: make(map[byte]Handler),
		waiting:  make(map[byte]*reply),
		text:     func(msg string) { log.WithField("text", msg).Debug("device message") },
	}
}

// Table returns the command table.
func (c *Conn) Table() *Table {
	return c.table
}

// On registers the handler for frames carrying the named command.
func (c *Conn) On(name string, h Handler) error {
	cmd, err := c.table.Lookup(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.handlers[cmd.ID] = h
	c.mu.Unlock()
	return nil
}

// OnText replaces the handler for text frames.
func (c *Conn) OnText(h func(string)) {
	c.mu.Lock()
	c.text = h
	c.mu.Unlock()
}

// Trigger sends the named command without waiting for a reply.
func (c *Conn) Trigger(name string, args ...Value) error {
	cmd, err := c.table.Lookup(name)
	if err != nil {
		return err
	}
	if err := cmd.Check(args); err != nil {
		return err
	}
	frame, err := CommandFrame(cmd.ID, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rw.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// BlockingTrigger sends the named command and waits for the device to answer
// with a frame of the same command. Other frames arriving meanwhile are
// dispatched to their handlers.
func (c *Conn) BlockingTrigger(ctx context.Context, name string, args ...Value) ([]Value, error) {
	cmd, err := c.table.Lookup(name)
	if err != nil {
		return nil, err
	}

	r := &reply{}
	c.mu.Lock()
	c.waiting[cmd.ID] = r
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.Trigger(name, args...); err != nil {
		return nil, err
	}

	for {
		n, err := c.handleStream()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		done := r.done
		c.mu.Unlock()
		if done {
			return r.values, nil
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w: %w", name, ErrTimeout, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

// HandleStream consumes the bytes currently available and dispatches every
// complete frame in order. A corrupt or unknown frame is dropped and reported.
func (c *Conn) HandleStream() error {
	_, err := c.handleStream()
	return err
}

// Buffered returns a copy of the bytes waiting for the rest of their frame.
func (c *Conn) Buffered() []byte {
	return append([]byte(nil), c.buf...)
}

func (c *Conn) handleStream() (int, error) {
	read := 0
	for {
		n, err := c.rw.Read(c.scratch[:])
		c.buf = append(c.buf, c.scratch[:n]...)
		read += n
		if err != nil && !errors.Is(err, io.EOF) {
			return read, fmt.Errorf("read: %w", err)
		}
		if n == 0 || err != nil {
			break
		}
	}

	for {
		payload, n, err := NextFrame(c.buf)
		if n == 0 && err == nil {
			return read, nil
		}
		payload = append([]byte(nil), payload...)
		c.buf = c.buf[n:]
		if err != nil {
			return read, err
		}
		if err := c.dispatch(payload); err != nil {
			return read, err
		}
	}
}

func (c *Conn) dispatch(payload []byte) error {
	switch payload[0] {
	case ProtocolText:
		c.mu.Lock()
		h := c.text
		c.mu.Unlock()
		h(string(payload[1:]))
		return nil
	case ProtocolCommand:
	default:
		return fmt.Errorf("%w: unknown protocol %d", ErrMalformed, payload[0])
	}

	if len(payload) < 2 {
		return fmt.Errorf("%w: command frame without id", ErrMalformed)
	}
	cmd, err := c.table.ByID(payload[1])
	if err != nil {
		return err
	}
	args, err := DecodeArgs(cmd.Returns, payload[2:])
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}

	c.mu.Lock()
	if r, ok := c.waiting[cmd.ID]; ok && !r.done {
		r.values, r.done = args, true
		c.mu.Unlock()
		return nil
	}
	h := c.handlers[cmd.ID]
	c.mu.Unlock()

	if h != nil {
		h(args)
	}
	return nil
}
