package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"smart-queue/utils"

	pubnub "github.com/pubnub/go/v7"
)

type pubnubSource struct {
	pn       *pubnub.PubNub
	listener *pubnub.Listener
	channels []string
	frames   chan []byte
	cancel   context.CancelFunc
	once     sync.Once
}

// subscribePubNub listens on the user's channel and on one staff channel
// per service.
func subscribePubNub(ctx context.Context, cfg Config) (*pubnubSource, error) {
	if cfg.PubNubSubscribeKey == "" {
		return nil, fmt.Errorf("pubnub: subscribe key is required")
	}

	uuid := cfg.PubNubUUID
	if uuid == "" {
		uuid = utils.InstanceID(userChannel(cfg.UserID))
	}
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(uuid))
	pnCfg.SubscribeKey = cfg.PubNubSubscribeKey
	pnCfg.CipherKey = cfg.PubNubCipherKey
	pnCfg.AuthKey = cfg.Access

	channels := []string{userChannel(cfg.UserID)}
	for _, id := range cfg.ServiceIDs {
		channels = append(channels, staffChannel(id))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &pubnubSource{
		pn:       pubnub.NewPubNub(pnCfg),
		listener: pubnub.NewListener(),
		channels: channels,
		frames:   make(chan []byte, 16),
		cancel:   cancel,
	}
	s.pn.AddListener(s.listener)
	go s.processSubscription(ctx)

	s.pn.Subscribe().Channels(channels).Execute()
	return s, nil
}

func (s *pubnubSource) processSubscription(ctx context.Context) {
	defer close(s.frames)

	listener := s.listener
	for {
		select {
		case st := <-listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("connected to pubnub", "channels", s.channels)

			case pubnub.PNReconnectedCategory:
				slog.Info("reconnected to pubnub")

			case pubnub.PNDisconnectedCategory:
				slog.Info("disconnected from pubnub")
				return

			case pubnub.PNAccessDeniedCategory:
				slog.Error("pubnub access denied", "channels", s.channels)
				return

			case pubnub.PNBadRequestCategory:
				slog.Error("pubnub bad request")

			case pubnub.PNTimeoutCategory:
				slog.Warn("pubnub timeout")

			default:
				slog.Debug("pubnub status", "category", st.Category)
			}

		case message := <-listener.Message:
			data, err := messageBytes(message.Message)
			if err != nil {
				slog.Warn("pubnub message", "channel", message.Channel, "error", err)
				continue
			}

			select {
			case s.frames <- data:
			case <-ctx.Done():
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// messageBytes returns the frame carried by a PubNub message. Publishers may
// send the JSON frame as a string or as an object.
func messageBytes(msg interface{}) ([]byte, error) {
	switch m := msg.(type) {
	case string:
		return []byte(m), nil
	case []byte:
		return m, nil
	case nil:
		return nil, fmt.Errorf("empty message")
	default:
		return json.Marshal(m)
	}
}

func (s *pubnubSource) Frames() <-chan []byte {
	return s.frames
}

func (s *pubnubSource) Close() error {
	s.once.Do(func() {
		s.pn.Unsubscribe().Channels(s.channels).Execute()
		s.pn.RemoveListener(s.listener)
		s.cancel()
	})
	return nil
}
