package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func receive(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestHubDeliversToSellerOnly(t *testing.T) {
	hub, _ := startHub(t)

	ana1 := &Client{Hub: hub, Send: make(chan []byte, 4), Handle: "ana"}
	ana2 := &Client{Hub: hub, Send: make(chan []byte, 4), Handle: "ana"}
	bob := &Client{Hub: hub, Send: make(chan []byte, 4), Handle: "bob"}
	for _, c := range []*Client{ana1, ana2, bob} {
		require.True(t, hub.Join(c))
	}

	hub.Publish(SaleAlert{Handle: "ana", Project: "widget", OrderID: "o1", Price: 100, Buyer: "Bea"})

	for _, c := range []*Client{ana1, ana2} {
		var got map[string]any
		require.NoError(t, json.Unmarshal(receive(t, c.Send), &got))
		assert.Equal(t, "widget", got["project"])
		assert.Equal(t, "o1", got["order_id"])
		assert.NotContains(t, got, "Handle")
	}
	select {
	case <-bob.Send:
		t.Fatal("bob got ana's alert")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubLeaveClosesSend(t *testing.T) {
	hub, cancel := startHub(t)

	c := &Client{Hub: hub, Send: make(chan []byte, 1), Handle: "ana"}
	require.True(t, hub.Join(c))
	hub.Leave(c)

	_, open := <-c.Send
	assert.False(t, open)

	cancel()
	require.Eventually(t, func() bool { return !hub.Join(&Client{Send: make(chan []byte)}) }, time.Second, time.Millisecond)
	hub.Leave(c) // returns once stopped
}
