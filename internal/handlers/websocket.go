package handlers

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"licensemarket/internal/middleware"
	ws "licensemarket/internal/websocket"
)

type WebSocketHandler struct {
	Hub      *ws.Hub
	Upgrader websocket.Upgrader
}

// NewWebSocketHandler accepts connections from origins, or from anywhere
// when origins contains "*".
func NewWebSocketHandler(hub *ws.Hub, origins []string) *WebSocketHandler {
	return &WebSocketHandler{
		Hub: hub,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
			},
		},
	}
}

// ServeSales streams sale alerts to the signed-in seller.
func (h *WebSocketHandler) ServeSales(c *gin.Context) {
	log := middleware.Logger(c)
	account := middleware.Account(c)

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Info("failed to upgrade to websocket", "error", err)
		return
	}

	client := &ws.Client{
		Hub:    h.Hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Handle: account.Handle,
	}
	if !h.Hub.Join(client) {
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client, log)
}

func (h *WebSocketHandler) writePump(client *ws.Client) {
	defer func() {
		client.Conn.Close()
	}()

	for message := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *WebSocketHandler) readPump(client *ws.Client, log *slog.Logger) {
	defer func() {
		client.Hub.Leave(client)
		client.Conn.Close()
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Info("websocket read error", "error", err)
			}
			break
		}
	}
}
