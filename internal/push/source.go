package push

import (
	"context"
	"fmt"

	"smart-queue/internal/status"
)

// Transport names a push channel implementation.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportPubNub    Transport = "pubnub"
	TransportNATS      Transport = "nats"
)

// Source delivers raw text frames from the server. Frames is closed when
// the underlying connection ends.
type Source interface {
	Frames() <-chan []byte
	Close() error
}

// Config carries what every transport may need. Each transport reads only
// its own fields.
type Config struct {
	// Access is the bearer token presented to the channel.
	Access string

	// UserID addresses the per-user channel.
	UserID int64

	// ServiceIDs adds staff channels for the given services.
	ServiceIDs []int64

	// WebSocket
	WSURL string

	// PubNub
	PubNubSubscribeKey string
	PubNubCipherKey    string
	PubNubUUID         string

	// NATS
	NATSURL       string
	NATSSubjectNS string
}

// NewSource opens a source for transport.
func NewSource(ctx context.Context, transport Transport, cfg Config) (Source, error) {
	switch transport {
	case TransportWebSocket, "":
		return dialWebSocket(ctx, cfg)

	case TransportPubNub:
		return subscribePubNub(ctx, cfg)

	case TransportNATS:
		return subscribeNATS(ctx, cfg)

	default:
		return nil, fmt.Errorf("%w: %s", status.ErrUnsupportedSource, transport)
	}
}

// SupportedTransports lists the transports NewSource accepts.
func SupportedTransports() []Transport {
	return []Transport{
		TransportWebSocket,
		TransportPubNub,
		TransportNATS,
	}
}

// ParseTransport validates a configured transport name.
func ParseTransport(raw string) (Transport, error) {
	for _, t := range SupportedTransports() {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", status.ErrUnsupportedSource, raw)
}

func userChannel(userID int64) string {
	return fmt.Sprintf("user-%d", userID)
}

func staffChannel(serviceID int64) string {
	return fmt.Sprintf("staff-%d", serviceID)
}
