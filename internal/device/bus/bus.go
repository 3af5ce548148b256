package bus

import (
	"context"
	"sync"
)

// Bus is a device transport. Request is a blocking round trip bounded by ctx;
// Post queues a command without waiting and may drop an older queued one.
type Bus interface {
	Request(ctx context.Context, f Frame) (Frame, error)
	Post(f Frame) error
	Close() error
}

// Handler answers a frame on the bridge side. Returning a frame with ID
// NoReply sends nothing back.
type Handler func(req Frame) (Frame, error)

// Loopback is an in-process Bus that dispatches straight to a Handler.
type Loopback struct {
	h Handler

	mu     sync.Mutex
	posted []Frame
	closed bool
}

// NewLoopback returns a Loopback serving h.
func NewLoopback(h Handler) *Loopback {
	return &Loopback{h: h}
}

// Request calls the handler.
func (l *Loopback) Request(ctx context.Context, f Frame) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return Frame{}, ErrClosed
	}
	return l.h(f)
}

// Post records f and hands it to the handler, ignoring any reply.
func (l *Loopback) Post(f Frame) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.posted = append(l.posted, f)
	l.mu.Unlock()
	_, err := l.h(f)
	return err
}

// Posted returns every frame posted so far.
func (l *Loopback) Posted() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Frame(nil), l.posted...)
}

// Close marks the bus closed.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
