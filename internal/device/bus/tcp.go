package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/hapticore/internal/logger"
)

// DefaultTimeout bounds a request when ctx carries no deadline.
const DefaultTimeout = 5 * time.Millisecond

// TCP is a Bus over a stream connection to a device bridge. Requests are
// serialized; posts go through a one-slot mailbox that always holds the newest
// command, so a slow link drops stale commands instead of queueing them.
//
// Frames carry no sequence numbers, so after any failed read or write the
// stream position is unknown. The connection is then dropped and every later
// call fails with ErrBroken rather than pairing a request with a late reply.
type TCP struct {
	conn    net.Conn
	timeout time.Duration
	log     *zap.Logger

	reqMu sync.Mutex // one request in flight
	wmu   sync.Mutex // frame writes

	mailbox chan Frame
	done    chan struct{}
	wg      sync.WaitGroup

	errMu  sync.Mutex
	broken error
	closed bool
}

// Dial connects to a bridge at addr. timeout bounds requests without a ctx
// deadline; zero means DefaultTimeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*TCP, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return NewTCP(conn, timeout), nil
}

// NewTCP wraps an established connection.
func NewTCP(conn net.Conn, timeout time.Duration) *TCP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &TCP{
		conn:    conn,
		timeout: timeout,
		log:     logger.Named("bus").With(zap.String("remote", conn.RemoteAddr().String())),
		mailbox: make(chan Frame, 1),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.writer()
	return t
}

// Request writes f and waits for the bridge's reply.
func (t *TCP) Request(ctx context.Context, f Frame) (Frame, error) {
	if err := t.err(); err != nil {
		return Frame{}, err
	}
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.timeout)
	}
	if err := t.write(f, deadline); err != nil {
		t.fail(err)
		return Frame{}, err
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		t.fail(err)
		return Frame{}, err
	}
	reply, err := ReadFrame(t.conn)
	if err != nil {
		t.fail(err)
		return Frame{}, fmt.Errorf("reading reply to 0x%04X: %w", f.ID, err)
	}
	return reply, nil
}

// Post queues f, replacing any command not yet written.
func (t *TCP) Post(f Frame) error {
	if err := t.err(); err != nil {
		return err
	}
	for {
		select {
		case t.mailbox <- f:
			return nil
		default:
		}
		select {
		case <-t.mailbox:
		default:
		}
	}
}

// Close stops the writer and closes the connection.
func (t *TCP) Close() error {
	t.errMu.Lock()
	if t.closed {
		t.errMu.Unlock()
		return nil
	}
	t.closed = true
	t.errMu.Unlock()

	close(t.done)
	t.wg.Wait()
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// fail marks the link broken and drops the connection. Only the first cause
// is kept.
func (t *TCP) fail(cause error) {
	t.errMu.Lock()
	first := t.broken == nil && !t.closed
	if first {
		t.broken = fmt.Errorf("%w: %v", ErrBroken, cause)
	}
	t.errMu.Unlock()
	if first {
		t.log.Warn("Dropping bridge connection", zap.Error(cause))
		_ = t.conn.Close()
	}
}

func (t *TCP) writer() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case f := <-t.mailbox:
			if err := t.write(f, time.Now().Add(t.timeout)); err != nil {
				t.log.Warn("Post failed", zap.Uint16("frame", f.ID), zap.Error(err))
				t.fail(err)
			}
		}
	}
}

func (t *TCP) write(f Frame, deadline time.Time) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write(f.Encode())
	return err
}

func (t *TCP) err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return t.broken
}

// Serve answers frames on every connection accepted from ln with h until ln
// is closed. It emulates a device bridge for tests and the simulator daemon.
func Serve(ln net.Listener, h Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			serveConn(conn, h)
		}()
	}
}

func serveConn(conn net.Conn, h Handler) {
	for {
		req, err := ReadFrame(conn)
		if err != nil {
			return
		}
		reply, err := h(req)
		if err != nil {
			logger.Named("bus").Debug("Handler failed", zap.Uint16("frame", req.ID), zap.Error(err))
			continue
		}
		if reply.ID == NoReply {
			continue
		}
		if _, err := conn.Write(reply.Encode()); err != nil {
			return
		}
	}
}
