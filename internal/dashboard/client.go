package dashboard

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/driftsync/engine/internal/infra/jsonx"
)

// DialRemote connects to a running engine's /dashboard/ws endpoint and
// decodes each JSON text frame into an Event, for a `watch` process
// observing an engine it doesn't share a process with.
func DialRemote(ctx context.Context, url string) (<-chan Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dashboard: dial %s: %w", url, err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if err := jsonx.Unmarshal(data, &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	return out, nil
}
