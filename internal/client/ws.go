package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/analytics"
)

const maxBackoff = 30 * time.Second

// WatchURL turns a server base URL into its dashboard WebSocket URL.
func WatchURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Watch streams dashboard snapshots into out until ctx is done, reconnecting
// with exponential backoff when the connection drops.
func Watch(ctx context.Context, wsURL string, out chan<- analytics.Snapshot) error {
	backoff := time.Second

	for {
		received, err := watchOnce(ctx, wsURL, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			backoff = time.Second
		}
		log.Warn().Err(err).Dur("backoff", backoff).Msg("dashboard stream lost, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func watchOnce(ctx context.Context, wsURL string, out chan<- analytics.Snapshot) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)

	// Unblock the read when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	received := false
	for {
		var snap analytics.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			return received, fmt.Errorf("read snapshot: %w", err)
		}
		received = true

		select {
		case out <- snap:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}
