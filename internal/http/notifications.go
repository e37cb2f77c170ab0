package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flovyn/flovyn/internal/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The notification stream carries no secrets and no mutations; remote
	// workers on other origins legitimately subscribe to it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamNotifications pushes work-available notifications over a websocket so
// remote workers can poll reactively instead of on a fixed interval. The
// stream is best effort, exactly like the in-process notifier behind it.
func (s *Server) streamNotifications(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.GetLogger().Errorf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := s.notifier.Subscribe(64)
	defer cancel()

	// Reader goroutine only notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		}
	}
}
