package wapp

import "errors"

// ErrSessionNotFound means no active session exists for the account. The
// caller must initialize the session first; this is an expected error for
// accounts that were never started or were torn down.
var ErrSessionNotFound = errors.New("session not initialized")

// ErrGatewayConstruction wraps factory failures during session setup. No
// reconnect is scheduled for this path; the caller decides.
var ErrGatewayConstruction = errors.New("gateway construction failed")

// ErrPairingExceeded means the account used up its pairing-code budget
// without completing the pairing. The session was force-reset and a new
// one must be started explicitly.
var ErrPairingExceeded = errors.New("pairing code retries exceeded")
