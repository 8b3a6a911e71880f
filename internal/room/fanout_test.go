package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainFeedChanged reads the next decoded Message off send and requires it
// to be a webinar:feedChanged broadcast.
func drainFeedChanged(t *testing.T, send chan []byte) {
	t.Helper()
	select {
	case raw := <-send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		require.Equal(t, EventWebinarFeedChanged, msg.Event)
	case <-time.After(time.Second):
		t.Fatal("expected a webinar:feedChanged broadcast")
	}
}

func TestRefreshWebinarFeedBroadcastsWhenProducerListChangesWithoutSpeakerChange(t *testing.T) {
	r := NewRoom("room-1", nil, nil, Config{}, func(string) {})
	r.webinar.SetEnabled(true)

	speakerSend := make(chan []byte, 8)
	speaker := newClientSession("speaker-1", "s1", "Speaker", RoleParticipant, nil, r, speakerSend)
	speaker.producers[ProducerKey{Kind: mediaengine.KindAudio, Type: mediaengine.TypeWebcam}] = ProducerHandle{ProducerID: "p-audio"}

	attendeeSend := make(chan []byte, 8)
	attendee := newClientSession("attendee-1", "s1", "Attendee", RoleWebinarAttendee, nil, r, attendeeSend)

	r.mu.Lock()
	r.addMember(speaker)
	r.addMember(attendee)
	r.mu.Unlock()

	ctx := context.Background()

	// First refresh: the speaker goes from none to speaker-1, so a broadcast
	// is expected regardless of the producer-list fix.
	r.refreshWebinarFeed(ctx)
	drainFeedChanged(t, attendeeSend)

	// Second refresh: same active speaker, but a second producer is added.
	// Only the producer id list changed, which is exactly the case the
	// speaker-only comparison used to miss.
	speaker.mu.Lock()
	speaker.producers[ProducerKey{Kind: mediaengine.KindVideo, Type: mediaengine.TypeWebcam}] = ProducerHandle{ProducerID: "p-video"}
	speaker.mu.Unlock()

	r.refreshWebinarFeed(ctx)
	drainFeedChanged(t, attendeeSend)

	// Third refresh with nothing changed at all must not broadcast again.
	r.refreshWebinarFeed(ctx)
	select {
	case raw := <-attendeeSend:
		t.Fatalf("unexpected broadcast with no change: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProducerListKeyIsOrderIndependent(t *testing.T) {
	a := []ExistingProducer{{ProducerID: "p1"}, {ProducerID: "p2"}}
	b := []ExistingProducer{{ProducerID: "p2"}, {ProducerID: "p1"}}
	assert.Equal(t, producerListKey(a), producerListKey(b))
}

func TestProducerListKeyDiffersWhenMembershipChanges(t *testing.T) {
	a := []ExistingProducer{{ProducerID: "p1"}}
	b := []ExistingProducer{{ProducerID: "p1"}, {ProducerID: "p2"}}
	assert.NotEqual(t, producerListKey(a), producerListKey(b))
}
