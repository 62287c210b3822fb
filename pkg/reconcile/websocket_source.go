package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ridedispatch/internal/models"
	"ridedispatch/pkg/logger"

	"github.com/gorilla/websocket"
)

// WebSocketSource reads push envelopes from the server hub and redials
// with exponential backoff whenever the connection drops.
type WebSocketSource struct {
	url        string
	token      string
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *logger.Logger
}

func NewWebSocketSource(url, token string, minBackoff, maxBackoff time.Duration, log *logger.Logger) *WebSocketSource {
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &WebSocketSource{
		url:   url,
		token: token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		logger:     log.WithField("component", "push_source"),
	}
}

func (s *WebSocketSource) Run(ctx context.Context, onEvent func(models.Event), onState func(ConnState)) error {
	backoff := s.minBackoff
	for {
		onState(StateConnecting)
		conn, err := s.dial(ctx)
		if err == nil {
			backoff = s.minBackoff
			onState(StateConnected)
			err = s.read(ctx, conn, onEvent)
		}
		onState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}
		s.logger.WithError(err).WithField("retry_in", backoff.String()).Warn("Push connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *WebSocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s: %w", s.url, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", s.url, err)
	}
	return conn, nil
}

// read pumps frames until the connection fails or ctx is done. Frames that
// do not decode are skipped.
func (s *WebSocketSource) read(ctx context.Context, conn *websocket.Conn, onEvent func(models.Event)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		_, event, err := models.DecodeEnvelope(payload)
		if err != nil {
			if !errors.Is(err, models.ErrUnknownEvent) {
				s.logger.WithError(err).Debug("Skipping malformed push frame")
			}
			continue
		}
		onEvent(event)
	}
}

// PushURL derives the websocket endpoint from the API base URL.
func PushURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
