package wapp

import (
	"errors"

	"github.com/zapfield/zapfield/internal/gateway"
)

// CloseReason is the three-way classification of a closed connection.
// Downstream behavior (credential clearing, reconnection) depends on it.
type CloseReason int

const (
	// CloseTransient: network blip, server restart, unknown error.
	// Credentials are preserved and the account reconnects silently.
	CloseTransient CloseReason = iota

	// CloseLoggedOut: explicit logout signal. Credentials are cleared and
	// the account re-pairs from scratch after reconnecting.
	CloseLoggedOut

	// CloseBlocked: provider block. Credentials are cleared and no
	// reconnect is attempted.
	CloseBlocked
)

func (r CloseReason) String() string {
	switch r {
	case CloseLoggedOut:
		return "logged-out"
	case CloseBlocked:
		return "blocked"
	default:
		return "transient"
	}
}

// Gateway status codes with dedicated handling.
const (
	codeLoggedOut = 401
	codeBlocked   = 403
)

// ClassifyClose maps the close error of a connection into a CloseReason
// plus the best-effort extracted status code. Anything unrecognized is
// transient: the safe default is to keep credentials and retry.
func ClassifyClose(err error) (CloseReason, int) {
	if err == nil {
		return CloseTransient, 0
	}

	code := 0
	var de *gateway.DisconnectError
	if errors.As(err, &de) {
		code = de.Code
	} else {
		code = gateway.ParseStreamCode(err.Error())
	}

	switch code {
	case codeBlocked:
		return CloseBlocked, code
	case codeLoggedOut:
		return CloseLoggedOut, code
	default:
		return CloseTransient, code
	}
}
