package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Message is one live feed event. Type is "action" or "reload".
type Message struct {
	Type      string         `json:"type"`
	CanvasID  string         `json:"canvas_id"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Seq       int64          `json:"seq,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Watch streams live messages for a canvas until ctx is done or the server
// closes the feed. The returned channel is closed when the stream ends.
func (c *Client) Watch(ctx context.Context, id string) (<-chan Message, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/ws/canvas/" + url.PathEscape(id)

	dialer := websocket.Dialer{HandshakeTimeout: c.http.Timeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Kind: resp.Status, Detail: fmt.Sprintf("watch %s", id)}
		}
		return nil, fmt.Errorf("watch %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Message, 64)
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer cancel()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
