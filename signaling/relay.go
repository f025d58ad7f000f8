package signaling

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshcall/framecrypt/crypto/aead"
	"github.com/meshcall/framecrypt/keystore"
)

// BinaryTransport is a minimal context-aware binary message channel, wide
// enough to be satisfied by a websocket connection or a test double.
type BinaryTransport interface {
	ReadBinary(ctx context.Context) ([]byte, error)
	WriteBinary(ctx context.Context, b []byte) error
	Close() error
}

// WebSocketBinaryTransport adapts a gorilla/websocket connection to
// BinaryTransport, translating context deadlines/cancellation into the
// connection's read/write deadlines since gorilla/websocket has no native
// context support.
type WebSocketBinaryTransport struct {
	c *websocket.Conn
}

// NewWebSocketBinaryTransport wraps a websocket connection for binary frames.
func NewWebSocketBinaryTransport(c *websocket.Conn) *WebSocketBinaryTransport {
	return &WebSocketBinaryTransport{c: c}
}

// applyDeadline mirrors ctx onto the connection via setDeadline: a deadline
// on ctx becomes the connection's deadline, and no deadline clears it. The
// resolved values are returned so a later timeout error can be classified
// against them.
func applyDeadline(ctx context.Context, setDeadline func(time.Time) error) (deadline time.Time, hasDeadline bool) {
	deadline, hasDeadline = ctx.Deadline()
	if hasDeadline {
		_ = setDeadline(deadline)
	} else {
		_ = setDeadline(time.Time{})
	}
	return deadline, hasDeadline
}

// armCancelWake forces a call blocked inside setDeadline's connection to
// return once ctx is canceled: gorilla/websocket only reacts to an I/O
// deadline, never to ctx.Done() directly. The returned disarm func must run
// once the blocking call has returned, via CompareAndSwap rather than a
// plain load-then-store so a cancellation racing the call's own completion
// can only ever fire the wake-up once.
func armCancelWake(ctx context.Context, setDeadline func(time.Time) error) (disarm func()) {
	if ctx.Done() == nil {
		return func() {}
	}
	var waiting atomic.Bool
	waiting.Store(true)
	stop := context.AfterFunc(ctx, func() {
		if waiting.CompareAndSwap(true, false) {
			_ = setDeadline(time.Now())
		}
	})
	return func() {
		waiting.Store(false)
		stop()
	}
}

// mapTimeoutError classifies an I/O timeout raised after applyDeadline
// against ctx: a deadline that has actually elapsed wins over a merely
// pending cancellation, falling back to ctx.Err() and finally to err
// itself for a timeout with no corresponding context signal.
func mapTimeoutError(err error, ctx context.Context, deadline time.Time, hasDeadline bool) error {
	ne, ok := err.(net.Error)
	if !ok || !ne.Timeout() {
		return err
	}
	if hasDeadline && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func (t *WebSocketBinaryTransport) ReadBinary(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deadline, hasDeadline := applyDeadline(ctx, t.c.SetReadDeadline)
	defer armCancelWake(ctx, t.c.SetReadDeadline)()

	for {
		mt, b, err := t.c.ReadMessage()
		if err != nil {
			return nil, mapTimeoutError(err, ctx, deadline, hasDeadline)
		}
		switch mt {
		case websocket.BinaryMessage:
			return b, nil
		case websocket.TextMessage:
			// A key-broadcast envelope is JSON text by nature; the relay
			// still sends it as a binary frame for a single wire contract.
			return nil, errors.New("signaling: unexpected ws text message")
		default:
			continue
		}
	}
}

func (t *WebSocketBinaryTransport) WriteBinary(ctx context.Context, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := applyDeadline(ctx, t.c.SetWriteDeadline)
	defer armCancelWake(ctx, t.c.SetWriteDeadline)()

	if err := t.c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return mapTimeoutError(err, ctx, deadline, hasDeadline)
	}
	return nil
}

func (t *WebSocketBinaryTransport) Close() error { return t.c.Close() }

// Relay pushes key-broadcast envelopes from a local keystore.Store to a
// remote peer over a BinaryTransport, and applies envelopes received from
// the peer into a local keystore.Store. The two directions may target the
// same store (a symmetric peer) or different stores (a one-way relay).
type Relay struct {
	transport BinaryTransport
	codec     *Codec
	sink      *keystore.Store
}

// NewRelay constructs a Relay that applies received envelopes into sink.
func NewRelay(transport BinaryTransport, sink *keystore.Store) *Relay {
	return &Relay{transport: transport, codec: NewCodec(), sink: sink}
}

// Broadcast encodes and sends the current key of src as a key-broadcast
// envelope.
func (r *Relay) Broadcast(ctx context.Context, src *keystore.Store) error {
	raw, err := src.ExportCurrent()
	if err != nil {
		return err
	}
	gen, _ := src.CurrentGeneration()
	key, err := aead.ImportKey(raw[:])
	if err != nil {
		return err
	}
	env, err := r.codec.Encode(key, gen)
	if err != nil {
		return err
	}
	return r.transport.WriteBinary(ctx, env)
}

// Receive blocks for one envelope and applies it to the relay's sink.
func (r *Relay) Receive(ctx context.Context) error {
	b, err := r.transport.ReadBinary(ctx)
	if err != nil {
		return err
	}
	key, gen, err := r.codec.Decode(b)
	if err != nil {
		return err
	}
	return r.sink.Set(key, gen)
}

// Close closes the underlying transport.
func (r *Relay) Close() error { return r.transport.Close() }
