package bus

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncode(t *testing.T) {
	f := Int32Frame(Encoders, 1, -2, 0x01020304)
	data := f.Encode()

	require.Len(t, data, HeaderSize+12)
	if data[0] != 0x02 || data[1] != 0x01 {
		t.Errorf("expected frame ID 0x0102, got %02x%02x", data[1], data[0])
	}
	assert.Equal(t, uint16(12), ReadUint16(data, 2))
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, data[12:16])

	got, n, err := Decode(append(data, 0xEE))
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	vals, err := got.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, 0x01020304}, vals)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"empty", nil, ErrShortFrame},
		{"header only", []byte{0x01, 0x01, 0x04}, ErrShortFrame},
		{"truncated body", []byte{0x01, 0x01, 0x04, 0x00, 0xAA}, ErrShortFrame},
		{"too large", []byte{0x01, 0x01, 0xFF, 0xFF}, ErrFrameTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.buf)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPayloadHelpers(t *testing.T) {
	f := Int16Frame(SetCurrents, -1, 300, 32767)
	vals, err := f.Int16s()
	require.NoError(t, err)
	assert.Equal(t, []int16{-1, 300, 32767}, vals)

	w, err := WordFrame(StatusReply, 0xDEADBEEF).Word()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), w)

	_, err = Frame{ID: StatusReply, Payload: []byte{1}}.Word()
	assert.ErrorIs(t, err, ErrShortFrame)
	assert.ErrorIs(t, f.Expect(Encoders), ErrUnexpectedFrame)
	assert.NoError(t, f.Expect(SetCurrents))
}

func TestReadFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(WordFrame(ButtonsReply, 5).Encode())
	buf.Write(Frame{ID: Ack}.Encode())

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, ButtonsReply, f.ID)
	f, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, Ack, f.ID)
	assert.Nil(t, f.Payload)
}

func TestLoopback(t *testing.T) {
	l := NewLoopback(func(req Frame) (Frame, error) {
		if req.ID == ReadStatus {
			return WordFrame(StatusReply, 7), nil
		}
		return Frame{ID: NoReply}, nil
	})
	reply, err := l.Request(context.Background(), Frame{ID: ReadStatus})
	require.NoError(t, err)
	w, _ := reply.Word()
	assert.Equal(t, uint32(7), w)

	require.NoError(t, l.Post(Int16Frame(SetCurrents, 1, 2, 3)))
	assert.Len(t, l.Posted(), 1)

	require.NoError(t, l.Close())
	_, err = l.Request(context.Background(), Frame{ID: ReadStatus})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.Post(Frame{ID: SetCurrents}), ErrClosed)
}

func TestTCPRequestAndPost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var currents [][]int16
	posted := make(chan struct{}, 16)
	go Serve(ln, func(req Frame) (Frame, error) {
		switch req.ID {
		case ReadEncoders:
			return Int32Frame(Encoders, 10, 20, 30), nil
		case SetCurrents:
			v, err := req.Int16s()
			if err != nil {
				return Frame{}, err
			}
			mu.Lock()
			currents = append(currents, v)
			mu.Unlock()
			posted <- struct{}{}
			return Frame{ID: NoReply}, nil
		}
		return Frame{}, errors.New("unknown frame")
	})
	defer ln.Close()

	b, err := Dial(context.Background(), ln.Addr().String(), 200*time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	reply, err := b.Request(context.Background(), Frame{ID: ReadEncoders})
	require.NoError(t, err)
	vals, err := reply.Int32s()
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 20, 30}, vals)

	require.NoError(t, b.Post(Int16Frame(SetCurrents, 4, 5, 6)))
	select {
	case <-posted:
	case <-time.After(2 * time.Second):
		t.Fatal("post never reached the bridge")
	}
	mu.Lock()
	assert.Equal(t, []int16{4, 5, 6}, currents[len(currents)-1])
	mu.Unlock()
}

func TestTCPRequestTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go Serve(ln, func(req Frame) (Frame, error) {
		return Frame{ID: NoReply}, nil // bridge never answers
	})

	b, err := Dial(context.Background(), ln.Addr().String(), 20*time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Request(context.Background(), Frame{ID: ReadEncoders})
	require.Error(t, err)
	var ne net.Error
	require.True(t, errors.As(err, &ne))
	assert.True(t, ne.Timeout())
}

func TestTCPLateReplyBreaksLink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var calls atomic.Int32
	go Serve(ln, func(req Frame) (Frame, error) {
		if calls.Add(1) == 1 {
			time.Sleep(30 * time.Millisecond) // answers after the caller gave up
			return Int32Frame(Encoders, 1, 2, 3), nil
		}
		return Frame{ID: StatusReply, Payload: []byte{0, 0, 0, 0}}, nil
	})

	b, err := Dial(context.Background(), ln.Addr().String(), 10*time.Millisecond)
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Request(context.Background(), Frame{ID: ReadEncoders})
	var ne net.Error
	require.True(t, errors.As(err, &ne), "got %v", err)
	assert.True(t, ne.Timeout())

	// The stale encoder reply must never be handed to the next request.
	time.Sleep(40 * time.Millisecond)
	for i := 0; i < 3; i++ {
		reply, err := b.Request(context.Background(), Frame{ID: ReadStatus})
		assert.ErrorIs(t, err, ErrBroken, "request %d got frame 0x%04X", i, reply.ID)
	}
	assert.ErrorIs(t, b.Post(Int16Frame(SetCurrents, 0, 0, 0)), ErrBroken)
	assert.NoError(t, b.Close())
}

func TestTCPClosed(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	b := NewTCP(client, time.Millisecond)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Post(Frame{ID: SetCurrents}), ErrClosed)
	_, err := b.Request(context.Background(), Frame{ID: ReadStatus})
	assert.ErrorIs(t, err, ErrClosed)
}
