package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ressKim-io/goeats/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The edge gateway terminates browsers; on the internal network
	// every origin behind it is trusted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// Handler upgrades the connection and streams status events as JSON
// lines until the client disconnects. Subscriptions are
// connection-scoped and independent of the saga's durability path.
func (n *Notifier) Handler() http.HandlerFunc {
	logger := log.WithComponent("notify-ws")

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Websocket upgrade failed")
			return
		}

		sub := n.Subscribe()
		defer n.Unsubscribe(sub)
		defer conn.Close()

		// Reader goroutine notices client close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case event, ok := <-sub:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-closed:
				return
			case <-n.stopCh:
				return
			}
		}
	}
}
