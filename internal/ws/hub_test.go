package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
)

// socketPair dials a throwaway server so tests get a real server-side conn
// to register with the hub and a client side to read fan-out from.
func socketPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server := <-serverConns
	t.Cleanup(func() { server.Close() })
	return server, client
}

func readEvent(t *testing.T, client *websocket.Conn) models.ChatEvent {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := client.ReadMessage()
	require.NoError(t, err)
	var event models.ChatEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func TestSubscribeAnnouncesPresence(t *testing.T) {
	hub := NewHub(time.Second)
	server, client := socketPair(t)

	hub.Subscribe(1, server, ConnInfo{SessionID: "s1", UserID: 2, Username: "bob"})

	event := readEvent(t, client)
	assert.Equal(t, models.EventUserOnline, event.Type)
	assert.Equal(t, 2, event.UserID)
	assert.True(t, hub.IsUserOnline(2))
	assert.Equal(t, []int{2}, hub.ActiveUsers(1))

	hub.Unsubscribe(1, server)
	assert.False(t, hub.IsUserOnline(2))
	assert.Empty(t, hub.ActiveUsers(1))
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub(time.Second)
	server, client := socketPair(t)

	hub.Subscribe(1, server, ConnInfo{SessionID: "s1", UserID: 2, Username: "bob"})
	readEvent(t, client) // user-online

	for i := 1; i <= 5; i++ {
		msg := models.Message{ID: i, ChatID: 1, Content: "m"}
		hub.Publish(1, models.ChatEvent{Type: models.EventNewMessage, ChatID: 1, Message: &msg})
	}

	for i := 1; i <= 5; i++ {
		event := readEvent(t, client)
		require.Equal(t, models.EventNewMessage, event.Type)
		require.NotNil(t, event.Message)
		assert.Equal(t, i, event.Message.ID)
	}
}

func TestPublishToUnknownChatIsNoop(t *testing.T) {
	hub := NewHub(time.Second)
	hub.Publish(99, models.ChatEvent{Type: models.EventNewMessage, ChatID: 99})
}

func TestSecondSessionDoesNotReannounce(t *testing.T) {
	hub := NewHub(time.Second)
	server1, client1 := socketPair(t)
	server2, _ := socketPair(t)

	hub.Subscribe(1, server1, ConnInfo{SessionID: "s1", UserID: 2, Username: "bob"})
	readEvent(t, client1) // user-online

	hub.Subscribe(1, server2, ConnInfo{SessionID: "s2", UserID: 2, Username: "bob"})
	assert.Equal(t, []int{2}, hub.ActiveUsers(1))

	// dropping one of two sessions keeps the user online
	hub.Unsubscribe(1, server2)
	assert.True(t, hub.IsUserOnline(2))

	hub.Unsubscribe(1, server1)
	assert.False(t, hub.IsUserOnline(2))
}

func TestTypingExpires(t *testing.T) {
	hub := NewHub(50 * time.Millisecond)
	server, client := socketPair(t)

	hub.Subscribe(1, server, ConnInfo{SessionID: "s1", UserID: 2, Username: "bob"})
	readEvent(t, client) // user-online

	hub.Typing(1, 3, "carol", true)

	event := readEvent(t, client)
	assert.Equal(t, models.EventUserTyping, event.Type)
	assert.Equal(t, 3, event.UserID)
	assert.True(t, event.IsTyping)

	// no refresh arrives, the hub retracts the signal on its own
	event = readEvent(t, client)
	assert.Equal(t, models.EventUserTyping, event.Type)
	assert.Equal(t, 3, event.UserID)
	assert.False(t, event.IsTyping)
}

func TestTypingRefreshReplacesTimer(t *testing.T) {
	hub := NewHub(40 * time.Millisecond)
	server, client := socketPair(t)

	hub.Subscribe(1, server, ConnInfo{SessionID: "s1", UserID: 2, Username: "bob"})
	readEvent(t, client) // user-online

	hub.Typing(1, 3, "carol", true)
	require.True(t, readEvent(t, client).IsTyping)

	// refresh before expiry; only one retraction should follow
	time.Sleep(20 * time.Millisecond)
	hub.Typing(1, 3, "carol", true)
	require.True(t, readEvent(t, client).IsTyping)

	event := readEvent(t, client)
	assert.False(t, event.IsTyping)

	// nothing else queued after the single retraction
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := client.ReadMessage()
	assert.Error(t, err)
}

func TestTypingStopIsImmediate(t *testing.T) {
	hub := NewHub(time.Second)
	server, client := socketPair(t)

	hub.Subscribe(1, server, ConnInfo{SessionID: "s1", UserID: 2, Username: "bob"})
	readEvent(t, client) // user-online

	hub.Typing(1, 3, "carol", true)
	require.True(t, readEvent(t, client).IsTyping)

	hub.Typing(1, 3, "carol", false)
	event := readEvent(t, client)
	assert.Equal(t, models.EventUserTyping, event.Type)
	assert.False(t, event.IsTyping)
}
