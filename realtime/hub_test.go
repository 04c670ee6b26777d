package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/faceregistry/sessions"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	registry, err := sessions.NewRegistry(t.TempDir())
	require.NoError(t, err)
	hub := NewHub(registry)
	go hub.Run()
	return hub
}

func TestSendRoutesToOwningClient(t *testing.T) {
	hub := newTestHub(t)

	ada := &Client{sessionID: "sess-ada", send: make(chan []byte, 4)}
	grace := &Client{sessionID: "sess-grace", send: make(chan []byte, 4)}
	hub.register <- ada
	hub.register <- grace

	hub.Progress("sess-ada", "working")

	select {
	case raw := <-ada.send:
		var event Event
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, "progress", event.Type)
		assert.Equal(t, "sess-ada", event.SessionID)
		assert.Equal(t, "working", event.Message)
		assert.NotZero(t, event.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}

	select {
	case <-grace.send:
		t.Fatal("event leaked to another session's client")
	default:
	}
}

func TestSendToUnknownSessionIsDropped(t *testing.T) {
	hub := newTestHub(t)

	// must not block or panic with nobody connected
	hub.Result("sess-nobody", map[string]string{"status": "success"})
}

func TestSendDuringDisconnectDoesNotPanic(t *testing.T) {
	hub := newTestHub(t)

	// a client disconnecting while events are in flight must never panic the
	// sender, so hammer register/send/unregister interleavings
	for i := 0; i < 500; i++ {
		client := &Client{sessionID: fmt.Sprintf("sess-%d", i), send: make(chan []byte, 1)}
		hub.register <- client

		var wg sync.WaitGroup
		for s := 0; s < 8; s++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Progress(client.sessionID, "in flight")
			}()
		}
		hub.unregister <- client
		wg.Wait()
	}
}
