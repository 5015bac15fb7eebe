package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/infrastructure/repositories/memory"
)

func startHub(t *testing.T, cfg HubConfig) (*PresenceHub, *memory.SessionRegistry, string) {
	t.Helper()
	reg := memory.NewSessionRegistry()
	hub := NewPresenceHub(reg, cfg, zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, reg, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialFeed(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg FeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func event(reg *memory.SessionRegistry, ch domain.Change, reason domain.LeaveReason) domain.PresenceEvent {
	return domain.PresenceEvent{
		Type:        ch.Kind,
		Participant: ch.Participant,
		Reason:      reason,
		Snapshot:    reg.Snapshot(),
		Timestamp:   time.Now(),
	}
}

func TestPresenceHub_SnapshotThenEvents(t *testing.T) {
	hub, reg, url := startHub(t, DefaultHubConfig())
	_, err := reg.Register("alice")
	require.NoError(t, err)

	conn := dialFeed(t, url)
	first := readFeed(t, conn)
	assert.Equal(t, "snapshot", first.Type)
	require.Len(t, first.Snapshot, 1)
	assert.Equal(t, "alice", first.Snapshot[0].Name)

	ch, err := reg.Register("bob")
	require.NoError(t, err)
	hub.OnPresence(context.Background(), event(reg, ch, ""))

	joined := readFeed(t, conn)
	assert.Equal(t, string(domain.ChangeJoined), joined.Type)
	require.NotNil(t, joined.Participant)
	assert.Equal(t, "bob", joined.Participant.Name)
	assert.Len(t, joined.Snapshot, 2)

	left, ok := reg.Remove(ch.Participant.ID)
	require.True(t, ok)
	hub.OnPresence(context.Background(), event(reg, left, domain.LeaveTimeout))

	gone := readFeed(t, conn)
	assert.Equal(t, string(domain.ChangeLeft), gone.Type)
	assert.Equal(t, domain.LeaveTimeout, gone.Reason)
	assert.Len(t, gone.Snapshot, 1)
}

func TestPresenceHub_SubscriberDisconnectIsTracked(t *testing.T) {
	hub, _, url := startHub(t, DefaultHubConfig())

	conn := dialFeed(t, url)
	readFeed(t, conn)
	assert.Equal(t, 1, hub.SubscriberCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPresenceHub_SlowSubscriberIsDropped(t *testing.T) {
	reg := memory.NewSessionRegistry()
	hub := NewPresenceHub(reg, DefaultHubConfig(), zap.NewNop().Sugar())

	slow := &subscriber{send: make(chan []byte, 1), remote: "slow"}
	fast := &subscriber{send: make(chan []byte, 8), remote: "fast"}
	hub.subscribers[slow] = struct{}{}
	hub.subscribers[fast] = struct{}{}

	ch, err := reg.Register("alice")
	require.NoError(t, err)
	ev := event(reg, ch, "")
	hub.OnPresence(context.Background(), ev)
	hub.OnPresence(context.Background(), ev)

	assert.Equal(t, 1, hub.SubscriberCount())
	assert.Len(t, fast.send, 2)

	<-slow.send
	_, open := <-slow.send
	assert.False(t, open, "slow subscriber queue must be closed")
}

func TestPresenceHub_CloseDisconnectsSubscribers(t *testing.T) {
	hub, _, url := startHub(t, DefaultHubConfig())

	conn := dialFeed(t, url)
	readFeed(t, conn)
	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Zero(t, hub.SubscriberCount())
}
