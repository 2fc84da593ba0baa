// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package zotero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/pdiddy/zotexport/internal/ctxlog"
)

// Streaming API event names.
const (
	eventConnected            = "connected"
	eventSubscriptionsCreated = "subscriptionsCreated"
	eventTopicUpdated         = "topicUpdated"
)

type streamRequest struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	APIKey string   `json:"apiKey"`
	Topics []string `json:"topics"`
}

type subscriptionError struct {
	APIKey string `json:"apiKey"`
	Topic  string `json:"topic"`
	Error  string `json:"error"`
}

// streamEvent is the union of the events the streaming API sends. Which
// fields are set depends on Event.
type streamEvent struct {
	Event         string              `json:"event"`
	Retry         int                 `json:"retry,omitempty"`
	Subscriptions []subscription      `json:"subscriptions,omitempty"`
	Errors        []subscriptionError `json:"errors,omitempty"`
	Topic         string              `json:"topic,omitempty"`
	Version       uint64              `json:"version,omitempty"`
}

// LibraryUpdate is a change notification for a subscribed library.
type LibraryUpdate struct {
	Topic   string
	Version uint64
}

// Stream is an open, subscribed connection to the streaming API.
type Stream struct {
	conn *websocket.Conn
}

// Subscribe connects to the streaming API and subscribes to the given
// user's library. It fails unless the server acknowledges the subscription
// without errors. Cancelling ctx aborts the handshake.
func (c *Client) Subscribe(ctx context.Context, userID string) (*Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to streaming API: %w", err)
	}
	s := &Stream{conn: conn}

	// Closing the connection unblocks a read waiting on a silent server.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	err = s.subscribe(c.APIKey, userID)
	cancelled := !stop()
	if cancelled || err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("subscribing to library updates: %w", ctx.Err())
		}
		return nil, err
	}

	ctxlog.FromContext(ctx).Debug("subscribed to library updates", "user_id", userID)
	return s, nil
}

// subscribe performs the handshake: wait for "connected", request the
// user topic, then check the "subscriptionsCreated" reply.
func (s *Stream) subscribe(apiKey, userID string) error {
	ev, err := s.read()
	if err != nil {
		return err
	}
	if ev.Event != eventConnected {
		return fmt.Errorf("streaming API: expected %q, got %q", eventConnected, ev.Event)
	}

	req := streamRequest{
		Action: "createSubscriptions",
		Subscriptions: []subscription{{
			APIKey: apiKey,
			Topics: []string{"/users/" + userID},
		}},
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("sending subscription request: %w", err)
	}

	ev, err = s.read()
	if err != nil {
		return err
	}
	if ev.Event != eventSubscriptionsCreated {
		return fmt.Errorf("streaming API: expected %q, got %q", eventSubscriptionsCreated, ev.Event)
	}
	if len(ev.Errors) > 0 {
		return fmt.Errorf("streaming API refused subscription to %s: %s", ev.Errors[0].Topic, ev.Errors[0].Error)
	}
	return nil
}

// Watch blocks, calling notify once per library change, until ctx is
// cancelled (returns nil) or the connection fails. notify runs on the
// reading goroutine and must not block.
func (s *Stream) Watch(ctx context.Context, notify func(LibraryUpdate)) error {
	log := ctxlog.FromContext(ctx)

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		ev, err := s.read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		// Only topicUpdated signals new library content. topicAdded and
		// topicRemoved (key permissions changing) and any future event types
		// are logged and skipped; losing access surfaces as an HTTP error on
		// the next export instead.
		if ev.Event != eventTopicUpdated {
			log.Debug("ignoring streaming event", "event", ev.Event, "topic", ev.Topic)
			continue
		}
		log.Info("library changed", "topic", ev.Topic, "version", ev.Version)
		notify(LibraryUpdate{Topic: ev.Topic, Version: ev.Version})
	}
}

// Close closes the connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}

// read returns the next JSON event, skipping non-text frames.
func (s *Stream) read() (*streamEvent, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil, fmt.Errorf("streaming API closed the connection: %w", err)
			}
			return nil, fmt.Errorf("reading from streaming API: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("parsing streaming event: %w", err)
		}
		return &ev, nil
	}
}
