package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := NewService(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func TestNilServiceMethodsAreNoops(t *testing.T) {
	var s *Service
	assert.Nil(t, s.Client())
	assert.NoError(t, s.Publish(context.Background(), "room-1", "chat", map[string]any{"a": 1}, "sender", nil))
	assert.NoError(t, s.PublishDirect(context.Background(), "user-1", "chat", nil, "sender"))
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}

func TestBreakerStateValue(t *testing.T) {
	assert.Equal(t, float64(0), breakerStateValue(gobreaker.StateClosed))
	assert.Equal(t, float64(1), breakerStateValue(gobreaker.StateOpen))
	assert.Equal(t, float64(2), breakerStateValue(gobreaker.StateHalfOpen))
}

func TestRoomAndUserChannelNaming(t *testing.T) {
	assert.Equal(t, "sfu:room:room-1", roomChannel("room-1"))
	assert.Equal(t, "sfu:user:user-1", userChannel("user-1"))
}

func TestPublishAndSubscribeRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan PubSubPayload, 1)
	var wg sync.WaitGroup
	svc.Subscribe(ctx, "room-1", &wg, func(p PubSubPayload) {
		received <- p
	})

	// Give the subscription goroutine a moment to register with miniredis
	// before publishing, matching the async nature of pub/sub.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, svc.Publish(context.Background(), "room-1", "chat", map[string]any{"text": "hi"}, "sender-1", nil))

	select {
	case payload := <-received:
		assert.Equal(t, "room-1", payload.RoomID)
		assert.Equal(t, "chat", payload.Event)
		assert.Equal(t, "sender-1", payload.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected the published message to be delivered to the subscriber")
	}
}

func TestPingSucceedsAgainstLiveServer(t *testing.T) {
	svc, _ := newTestService(t)
	assert.NoError(t, svc.Ping(context.Background()))
}
