package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsSource struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// dialWebSocket connects to the notifications endpoint, authenticating with
// the access token as a query parameter.
func dialWebSocket(ctx context.Context, cfg Config) (*wsSource, error) {
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("websocket: url is required")
	}
	u, err := url.Parse(cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("websocket: parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", cfg.Access)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket: dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket: dial: %w", err)
	}

	s := &wsSource{
		conn:   conn,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()

	slog.Debug("websocket connected", "host", u.Host, "path", u.Path)
	return s, nil
}

func (s *wsSource) readLoop() {
	defer close(s.frames)
	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.Info("websocket closed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}

func (s *wsSource) Frames() <-chan []byte {
	return s.frames
}

func (s *wsSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
