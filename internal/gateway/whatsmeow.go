package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"
)

// credentialBlob is what the adapter persists through the credential
// store: just enough to find the device row in the sqlstore container on
// a silent reconnect.
type credentialBlob struct {
	JID string `json:"jid"`
}

// MeowFactory builds whatsmeow-backed gateway clients. Device state
// (signal keys, identity) lives in the sqlstore container; the session
// layer only sees the opaque credential blob.
type MeowFactory struct {
	container *sqlstore.Container
}

// NewMeowFactory opens the whatsmeow device container. Dialect is
// "sqlite" (standalone, modernc driver) or "postgres" (managed).
func NewMeowFactory(ctx context.Context, dialect, address string) (*MeowFactory, error) {
	container, err := sqlstore.New(ctx, dialect, address, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open device container: %w", err)
	}
	return &MeowFactory{container: container}, nil
}

func (f *MeowFactory) Dial(ctx context.Context, acc AccountRef, creds []byte) (Client, error) {
	device := f.container.NewDevice()

	if len(creds) > 0 {
		var blob credentialBlob
		if err := json.Unmarshal(creds, &blob); err != nil {
			slog.Warn("unreadable credential blob, pairing from scratch",
				"account", acc.ID, "error", err)
		} else if jid, err := types.ParseJID(blob.JID); err == nil {
			stored, err := f.container.GetDevice(ctx, jid)
			if err != nil {
				return nil, fmt.Errorf("load device %s: %w", blob.JID, err)
			}
			if stored != nil {
				device = stored
			}
		}
	}

	cli := whatsmeow.NewClient(device, waLog.Noop)
	mc := &meowClient{
		cli:      cli,
		account:  acc,
		handlers: make(map[int]Handler),
	}
	mc.meowHandlerID = cli.AddEventHandler(mc.dispatchMeow)
	return mc, nil
}

// meowClient adapts a whatsmeow client to the gateway.Client contract.
type meowClient struct {
	cli     *whatsmeow.Client
	account AccountRef

	mu            sync.Mutex
	handlers      map[int]Handler
	nextID        int
	meowHandlerID uint32
}

func (mc *meowClient) Subscribe(h Handler) (cancel func()) {
	mc.mu.Lock()
	id := mc.nextID
	mc.nextID++
	mc.handlers[id] = h
	mc.mu.Unlock()

	return func() {
		mc.mu.Lock()
		delete(mc.handlers, id)
		mc.mu.Unlock()
	}
}

func (mc *meowClient) Connect(ctx context.Context) error {
	if mc.cli.Store.ID == nil {
		// Not paired yet: the QR channel must be requested before Connect.
		qrChan, err := mc.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go mc.forwardQR(qrChan)
	}

	if err := mc.cli.Connect(); err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	return nil
}

func (mc *meowClient) forwardQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			mc.emit(&ConnectionUpdate{Phase: PhaseConnecting, PairingCode: item.Code})
		case "timeout":
			mc.emit(&ConnectionUpdate{
				Phase:     PhaseClosed,
				LastError: &DisconnectError{Code: 408, Reason: "pairing timeout"},
			})
		}
		// "success" is followed by events.Connected from the main stream.
	}
}

func (mc *meowClient) dispatchMeow(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		if id := mc.cli.Store.ID; id != nil {
			blob, _ := json.Marshal(credentialBlob{JID: id.String()})
			mc.emit(&CredentialsUpdate{Blob: blob})
		}
		mc.emit(&ConnectionUpdate{Phase: PhaseOpen})

	case *events.PairSuccess:
		blob, _ := json.Marshal(credentialBlob{JID: e.ID.String()})
		mc.emit(&CredentialsUpdate{Blob: blob})

	case *events.LoggedOut:
		mc.emit(&ConnectionUpdate{
			Phase:     PhaseClosed,
			LastError: &DisconnectError{Code: 401, Reason: "logged out"},
		})

	case *events.ConnectFailure:
		mc.emit(&ConnectionUpdate{
			Phase:     PhaseClosed,
			LastError: &DisconnectError{Code: int(e.Reason), Reason: e.Message},
		})

	case *events.StreamError:
		mc.emit(&ConnectionUpdate{
			Phase:     PhaseClosed,
			LastError: &DisconnectError{Code: ParseStreamCode(e.Code), Reason: "stream error " + e.Code},
		})

	case *events.Disconnected:
		mc.emit(&ConnectionUpdate{
			Phase:     PhaseClosed,
			LastError: &DisconnectError{Reason: "transport disconnected"},
		})
	}
}

func (mc *meowClient) emit(evt any) {
	mc.mu.Lock()
	handlers := make([]Handler, 0, len(mc.handlers))
	for _, h := range mc.handlers {
		handlers = append(handlers, h)
	}
	mc.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (mc *meowClient) SendText(ctx context.Context, jid, text string, quote *QuoteOptions) (string, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return "", fmt.Errorf("parse jid %q: %w", jid, err)
	}

	var msg *waE2E.Message
	if quote != nil {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(text),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(quote.MessageID),
					Participant:   proto.String(quote.Sender),
					QuotedMessage: &waE2E.Message{Conversation: proto.String(quote.Text)},
				},
			},
		}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(text)}
	}

	resp, err := mc.cli.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return string(resp.ID), nil
}

func (mc *meowClient) Logout(ctx context.Context) error {
	return mc.cli.Logout(ctx)
}

func (mc *meowClient) Close() {
	mc.cli.RemoveEventHandlers()
	mc.cli.Disconnect()
}
