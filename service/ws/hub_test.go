package ws

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewHub(log)
}

func TestPublishDropsSlowConsumers(t *testing.T) {
	h := newTestHub()

	// Unbuffered send channels with no reader: every send hits the default
	// branch, so all three connections are slow consumers at once.
	c1 := &client{hub: h, send: make(chan []byte), userID: 1}
	c2 := &client{hub: h, send: make(chan []byte), userID: 1}
	c3 := &client{hub: h, send: make(chan []byte), userID: 1}
	h.connections[1] = []*client{c1, c2, c3}

	require.NotPanics(t, func() {
		h.Publish(1, "session.confirmed", map[string]interface{}{"session_id": 3})
	})

	// All three are gone and their channels closed exactly once.
	assert.Empty(t, h.connections)
	for _, c := range []*client{c1, c2, c3} {
		_, open := <-c.send
		assert.False(t, open)
	}
}

func TestPublishKeepsHealthyConsumers(t *testing.T) {
	h := newTestHub()

	healthy := &client{hub: h, send: make(chan []byte, 8), userID: 1}
	slow := &client{hub: h, send: make(chan []byte), userID: 1}
	h.connections[1] = []*client{slow, healthy}

	require.NotPanics(t, func() {
		h.Publish(1, "session.cancelled", map[string]interface{}{"session_id": 5})
	})

	assert.Equal(t, []*client{healthy}, h.connections[1])

	var msg EventMessage
	require.NoError(t, json.Unmarshal(<-healthy.send, &msg))
	assert.Equal(t, "session.cancelled", msg.Event)
}

func TestPublishToUnknownUserIsNoOp(t *testing.T) {
	h := newTestHub()
	require.NotPanics(t, func() {
		h.Publish(42, "session.confirmed", nil)
	})
}
