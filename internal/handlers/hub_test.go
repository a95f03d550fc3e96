// internal/handlers/hub_test.go
package handlers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rag2504/tambola/internal/room"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRoutesByTopic(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	h := NewHub(logger)
	ctx := context.Background()

	a := h.Register("a")
	b := h.Register("b")
	playerA := uuid.New()
	roomID := uuid.New()

	h.Authenticate("a", playerA)
	h.Subscribe("a", room.RoomTopic(roomID))
	h.Subscribe("b", room.RoomTopic(roomID))

	require.NoError(t, h.Publish(ctx, room.RoomTopic(roomID), room.EventNumberCalled, map[string]int{"number": 5}))
	require.NoError(t, h.Publish(ctx, room.PlayerTopic(playerA), room.EventTicketUpdated, nil))
	require.NoError(t, h.Publish(ctx, room.LobbyTopic, room.EventNewRoom, nil))

	assert.Len(t, a.OutChan, 3)
	assert.Len(t, b.OutChan, 1)
	msg := <-b.OutChan
	assert.Equal(t, room.EventNumberCalled, msg.Type)

	h.Unsubscribe("b", room.RoomTopic(roomID))
	require.NoError(t, h.Publish(ctx, room.RoomTopic(roomID), room.EventNumberCalled, nil))
	assert.Empty(t, b.OutChan)
	assert.Equal(t, 1, h.Subscribers(room.RoomTopic(roomID)))

	h.Remove("a")
	assert.Zero(t, h.Subscribers(room.RoomTopic(roomID)))
	assert.Zero(t, h.Subscribers(room.LobbyTopic))
	assert.False(t, a.Write(Message{Type: "late"}), "writes after removal are dropped")
}

func TestClientCutOffWhenQueueOverflows(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	h := NewHub(logger)
	h.queueSize = 2
	c := h.Register("slow")
	h.Subscribe("slow", room.LobbyTopic)

	assert.True(t, c.Write(Message{Type: "1"}))
	assert.True(t, c.Write(Message{Type: "2"}))
	assert.False(t, c.Overflowed())
	assert.False(t, c.Write(Message{Type: "3"}))
	assert.True(t, c.Overflowed())
	assert.False(t, c.Write(Message{Type: "4"}), "queue stays closed")

	// queued frames still drain before the close is seen
	var got []string
	for msg := range c.OutChan {
		got = append(got, msg.Type)
	}
	assert.Equal(t, []string{"1", "2"}, got)

	require.NoError(t, h.Publish(context.Background(), room.LobbyTopic, room.EventNewRoom, nil))
	assert.NotPanics(t, func() { h.Remove("slow") })
	assert.Zero(t, h.Subscribers(room.LobbyTopic))
}
