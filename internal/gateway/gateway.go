// Package gateway defines the contract between the session lifecycle
// manager and the messaging-network client library, plus the
// whatsmeow-backed implementation of that contract.
package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Phase is the connection phase reported by the gateway.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseOpen
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseClosed:
		return "closed"
	default:
		return "connecting"
	}
}

// ConnectionUpdate is a lifecycle event from the gateway. PairingCode is
// set when a new pairing code was issued; LastError carries the close
// reason when Phase is PhaseClosed.
type ConnectionUpdate struct {
	Phase       Phase
	PairingCode string
	LastError   error
}

// CredentialsUpdate signals that authentication material changed and
// should be persisted. No state transition is implied.
type CredentialsUpdate struct {
	Blob []byte
}

// Handler receives gateway events (*ConnectionUpdate or *CredentialsUpdate).
// A given connection delivers its events in order.
type Handler func(evt any)

// QuoteOptions references an earlier message to quote in a reply.
type QuoteOptions struct {
	MessageID string
	Sender    string
	Text      string
}

// Client is a live duplex connection to the gateway.
type Client interface {
	// Subscribe attaches an event handler. The returned cancel function
	// detaches it; after cancel returns no further events are delivered.
	Subscribe(h Handler) (cancel func())

	// Connect starts the connection attempt. Events arrive asynchronously.
	Connect(ctx context.Context) error

	// SendText sends a text message to the given JID and returns the
	// message ID assigned by the gateway.
	SendText(ctx context.Context, jid, text string, quote *QuoteOptions) (string, error)

	// Logout performs a protocol-level logout, invalidating credentials.
	Logout(ctx context.Context) error

	// Close tears down the transport without logging out.
	Close()
}

// AccountRef identifies the account a connection belongs to.
type AccountRef struct {
	ID       uuid.UUID
	TenantID string
	Name     string
}

// Factory constructs gateway clients from stored credentials. A nil or
// empty creds blob means the account has never paired and the connection
// will go through the pairing flow.
type Factory interface {
	Dial(ctx context.Context, acc AccountRef, creds []byte) (Client, error)
}

// DisconnectError is the close reason attached to a PhaseClosed update.
// Code is the gateway status code (401 logged out, 403 blocked, others
// transient); 0 means unknown.
type DisconnectError struct {
	Code   int
	Reason string
}

func (e *DisconnectError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (code %d)", e.Code)
	}
	return fmt.Sprintf("connection closed (code %d): %s", e.Code, e.Reason)
}

// ParseStreamCode extracts a numeric status code from a stream error code
// string, best effort. Returns 0 when no number is found.
func ParseStreamCode(code string) int {
	for _, field := range strings.Fields(strings.Map(digitsAndSpaces, code)) {
		if n, err := strconv.Atoi(field); err == nil {
			return n
		}
	}
	return 0
}

func digitsAndSpaces(r rune) rune {
	if r >= '0' && r <= '9' {
		return r
	}
	return ' '
}
