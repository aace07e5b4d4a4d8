package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-aftershock/types"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestTopicAndPayload(t *testing.T) {
	assert.Equal(t, "user/42", Topic("42"))

	b, err := Payload("Go to the park", time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"DISASTER_GUIDANCE","message":"Go to the park","timestamp":"2024-05-01T09:30:00Z"}`, string(b))
}

// startHub serves a websocket endpoint that subscribes every connection to
// the user named in the path.
func startHub(t *testing.T, hub *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimPrefix(r.URL.Path, "/")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Subscribe(userID, conn)
		go func() {
			defer hub.Unsubscribe(userID, conn)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNotification(t *testing.T, conn *websocket.Conn) types.Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var n types.Notification
	require.NoError(t, json.Unmarshal(data, &n))
	return n
}

func TestHub_Notify(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to every connection of the user only", func(t *testing.T) {
		hub := NewHub(testLog())
		base := startHub(t, hub)

		a1 := dial(t, base+"/alice")
		a2 := dial(t, base+"/alice")
		b := dial(t, base+"/bob")
		require.Eventually(t, func() bool {
			return hub.Subscribers("alice") == 2 && hub.Subscribers("bob") == 1
		}, time.Second, 10*time.Millisecond)

		hub.Notify(ctx, "alice", "Leave the building")

		for _, conn := range []*websocket.Conn{a1, a2} {
			n := readNotification(t, conn)
			assert.Equal(t, types.GuidanceType, n.Type)
			assert.Equal(t, "Leave the building", n.Message)
			assert.NotEmpty(t, n.Timestamp)
		}

		require.NoError(t, b.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		_, _, err := b.ReadMessage()
		assert.Error(t, err, "bob must not receive alice's guidance")
	})

	t.Run("no subscriber drops silently", func(t *testing.T) {
		hub := NewHub(testLog())
		assert.NotPanics(t, func() { hub.Notify(ctx, "nobody", "hello") })
		assert.Zero(t, hub.Subscribers("nobody"))
	})

	t.Run("disconnect unsubscribes", func(t *testing.T) {
		hub := NewHub(testLog())
		base := startHub(t, hub)

		conn := dial(t, base+"/carol")
		require.Eventually(t, func() bool { return hub.Subscribers("carol") == 1 }, time.Second, 10*time.Millisecond)

		conn.Close()
		require.Eventually(t, func() bool { return hub.Subscribers("carol") == 0 }, time.Second, 10*time.Millisecond)
	})
}

func TestNewRedisNotifier_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisNotifier(ctx, "127.0.0.1:1", "", 0, testLog())
	assert.Error(t, err)
}
