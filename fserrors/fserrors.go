// Package fserrors defines the stable error taxonomy shared by every
// component of the media-frame crypto core: a typed Code per failure kind,
// a Component identifying which piece raised it, and a Recoverable flag
// that callers use to decide whether to keep a session alive.
package fserrors

import "fmt"

// Component identifies which part of the crypto core raised an error.
type Component string

const (
	ComponentAEAD      Component = "aead"       // C1
	ComponentAgreement Component = "agreement"  // C2
	ComponentFrame     Component = "mediaframe" // C3
	ComponentKeyStore  Component = "keystore"   // C4
	ComponentReplay    Component = "replay"     // C5
	ComponentProcessor Component = "processor"  // C6
	ComponentSession   Component = "session"    // C7
	ComponentSignaling Component = "signaling"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeBrowserNotSupported Code = "browser-not-supported"
	CodeKeyGenerationFailed Code = "key-generation-failed"
	CodeKeyExchangeFailed   Code = "key-exchange-failed"
	CodeKeyNotFound         Code = "key-not-found"
	CodeKeyExpired          Code = "key-expired"
	CodeInvalidKey          Code = "invalid-key"
	CodeEncryptionFailed    Code = "encryption-failed"
	CodeDecryptionFailed    Code = "decryption-failed"
	CodeInvalidFrame        Code = "invalid-frame"
	CodeReplayDetected      Code = "replay-detected"
	CodeDestroyed           Code = "destroyed"
	CodeInvalidTransition   Code = "invalid-transition"
)

// Error is a structured, programmatically identifiable error.
type Error struct {
	Component   Component
	Code        Code
	Err         error
	Recoverable bool
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Component, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Component, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap constructs an *Error. destroyed is the one code that is never
// recoverable regardless of the recoverable argument.
func Wrap(component Component, code Code, err error, recoverable bool) error {
	if code == CodeDestroyed {
		recoverable = false
	}
	return &Error{Component: component, Code: code, Err: err, Recoverable: recoverable}
}
