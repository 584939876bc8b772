package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"
)

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	Handle string
}

// SaleAlert tells a seller that one of their licenses sold.
type SaleAlert struct {
	Handle   string `json:"-"`
	Project  string `json:"project"`
	OrderID  string `json:"order_id"`
	Price    int64  `json:"price"`
	Buyer    string `json:"buyer"`
	Location string `json:"location"`
}

// Hub fans sale alerts out to every open connection of the selling handle.
type Hub struct {
	Clients        map[string]map[*Client]bool
	Register       chan *Client
	Unregister     chan *Client
	BroadcastAlert chan SaleAlert
	Logger         *slog.Logger
	done           chan struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		Clients:        make(map[string]map[*Client]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		BroadcastAlert: make(chan SaleAlert, 64),
		Logger:         logger,
		done:           make(chan struct{}),
	}
}

// Publish queues alert without blocking; alerts are dropped when the hub
// is backed up.
func (h *Hub) Publish(alert SaleAlert) {
	select {
	case h.BroadcastAlert <- alert:
	default:
		h.Logger.Warn("sale alert dropped", "handle", alert.Handle, "orderID", alert.OrderID)
	}
}

// Join and Leave return immediately once the hub has stopped.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Leave(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.Clients {
				for client := range clients {
					close(client.Send)
				}
			}
			h.Clients = make(map[string]map[*Client]bool)
			return

		case client := <-h.Register:
			if h.Clients[client.Handle] == nil {
				h.Clients[client.Handle] = make(map[*Client]bool)
			}
			h.Clients[client.Handle][client] = true
			h.Logger.Info("websocket client registered", "handle", client.Handle)

		case client := <-h.Unregister:
			h.remove(client)

		case alert := <-h.BroadcastAlert:
			clients := h.Clients[alert.Handle]
			if len(clients) == 0 {
				continue
			}
			jsonData, err := json.Marshal(alert)
			if err != nil {
				h.Logger.Error("failed to marshal sale alert", "error", err)
				continue
			}
			for client := range clients {
				select {
				case client.Send <- jsonData:
				default:
					h.remove(client)
				}
			}
			h.Logger.Info("sent sale alert", "handle", alert.Handle, "clients", len(clients))
		}
	}
}

func (h *Hub) remove(client *Client) {
	clients, ok := h.Clients[client.Handle]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.Clients, client.Handle)
	}
	close(client.Send)
	h.Logger.Info("websocket client unregistered", "handle", client.Handle)
}
