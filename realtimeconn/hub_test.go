package realtimeconn

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshcall/framecrypt/crypto/aead"
	"github.com/meshcall/framecrypt/signaling"
)

func dialRelay(t *testing.T, wsURL string) *signaling.WebSocketBinaryTransport {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	return signaling.NewWebSocketBinaryTransport(c)
}

func TestHubBroadcastsToOtherPeersNotSender(t *testing.T) {
	hub := NewHub(1 << 16)
	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay"
	a := dialRelay(t, wsURL)
	b := dialRelay(t, wsURL)
	c := dialRelay(t, wsURL)
	t.Cleanup(func() { _ = a.Close(); _ = b.Close(); _ = c.Close() })

	time.Sleep(50 * time.Millisecond) // let the server register all three peers

	key, err := aead.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	codec := signaling.NewCodec()
	env, err := codec.Encode(key, 1)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.WriteBinary(ctx, env); err != nil {
		t.Fatalf("WriteBinary failed: %v", err)
	}

	for name, peer := range map[string]*signaling.WebSocketBinaryTransport{"b": b, "c": c} {
		got, err := peer.ReadBinary(ctx)
		if err != nil {
			t.Fatalf("%s: ReadBinary failed: %v", name, err)
		}
		if !bytes.Equal(got, env) {
			t.Fatalf("%s: envelope mismatch", name)
		}
	}
}

func TestHubRejectsOversizedMessage(t *testing.T) {
	hub := NewHub(8)
	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/relay"
	a := dialRelay(t, wsURL)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.WriteBinary(ctx, bytes.Repeat([]byte{1}, 64)); err != nil {
		t.Fatalf("WriteBinary failed: %v", err)
	}
	// The oversized frame should close the connection server-side; the
	// next read should observe a close rather than hang.
	if _, err := a.ReadBinary(ctx); err == nil {
		t.Fatalf("expected read error after server-side close on oversized message")
	}
}

func TestNotFoundForWrongPath(t *testing.T) {
	hub := NewHub(1 << 16)
	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/wrong")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}
