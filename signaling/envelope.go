// Package signaling is a reference implementation of the key-broadcast
// envelope the media-frame core expects from an external signaling
// collaborator: a JSON document carrying a base64-encoded AEAD key and its
// generation, relayed here over a websocket as one demonstration of wiring
// a keystore.Store to a transport. Only the key-exchange/key-broadcast
// payload is modeled; the broader signaling protocol (room membership,
// SDP offer/answer, ICE candidates) is out of scope.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/meshcall/framecrypt/crypto/aead"
	"github.com/meshcall/framecrypt/internal/base64url"
)

// EnvelopeType is the fixed message-type tag this package emits.
const EnvelopeType = "key-broadcast"

// Envelope is the wire JSON document: {"type": "key-broadcast",
// "generation": N, "key_b64": "..."}.
type Envelope struct {
	Type       string `json:"type"`
	Generation uint8  `json:"generation"`
	KeyB64     string `json:"key_b64"`
}

// Codec encodes and decodes Envelope documents.
type Codec struct{}

// NewCodec constructs a Codec.
func NewCodec() *Codec { return &Codec{} }

// Encode renders a key and generation as a key-broadcast envelope.
func (Codec) Encode(key aead.Key, generation uint8) ([]byte, error) {
	raw := key.Export()
	env := Envelope{
		Type:       EnvelopeType,
		Generation: generation,
		KeyB64:     base64url.Encode(raw[:]),
	}
	return json.Marshal(env)
}

// Decode parses a key-broadcast envelope and imports the carried key.
func (Codec) Decode(b []byte) (aead.Key, uint8, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return aead.Key{}, 0, fmt.Errorf("signaling: decode envelope: %w", err)
	}
	if env.Type != EnvelopeType {
		return aead.Key{}, 0, fmt.Errorf("signaling: unexpected envelope type %q", env.Type)
	}
	raw, err := base64url.Decode(env.KeyB64)
	if err != nil {
		return aead.Key{}, 0, fmt.Errorf("signaling: decode key_b64: %w", err)
	}
	key, err := aead.ImportKey(raw)
	if err != nil {
		return aead.Key{}, 0, fmt.Errorf("signaling: import key: %w", err)
	}
	return key, env.Generation, nil
}
