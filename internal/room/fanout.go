package room

import (
	"context"
	"sort"
	"strings"

	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"github.com/conclave-rtc/sfu-core/internal/webinar"
)

// newProducerNotice and producerClosedNotice mirror the outbound wire
// shapes.
type newProducerNotice struct {
	ProducerID     string                  `json:"producerId"`
	ProducerUserID string                  `json:"producerUserId"`
	Kind           mediaengine.Kind        `json:"kind"`
	Type           mediaengine.ProduceType `json:"type"`
}

type producerClosedNotice struct {
	ProducerID     string `json:"producerId"`
	ProducerUserID string `json:"producerUserId"`
}

// fanOutNewProducer implements C7: broadcast newProducer to every other
// member, then refresh the webinar feed if the room has attendees.
func (r *Room) fanOutNewProducer(ctx context.Context, ownerUserID string, key ProducerKey, producerID string) {
	r.broadcast(ctx, EventNewProducer, newProducerNotice{
		ProducerID: producerID, ProducerUserID: ownerUserID, Kind: key.Kind, Type: key.Type,
	}, ownerUserID)
	metrics.ProducersActive.WithLabelValues(r.ID).Inc()
	r.refreshWebinarFeed(ctx)
}

// fanOutProducerClosed implements C7: broadcast producerClosed, close
// matching consumers at every subscriber, and refresh the feed.
func (r *Room) fanOutProducerClosed(ctx context.Context, ownerUserID, producerID string, kind mediaengine.Kind) {
	r.broadcast(ctx, EventProducerClosed, producerClosedNotice{
		ProducerID: producerID, ProducerUserID: ownerUserID,
	}, "")

	for _, s := range r.memberSnapshot() {
		if s.UserID == ownerUserID {
			continue
		}
		s.CloseConsumersFor(ctx, producerID)
	}
	metrics.ProducersActive.WithLabelValues(r.ID).Dec()
	r.refreshWebinarFeed(ctx)
}

// fanOutToggleMedia implements C7's producerPaused/Resumed broadcast.
func (r *Room) fanOutToggleMedia(ctx context.Context, producerID string, paused bool) {
	r.broadcast(ctx, EventToggleMedia, map[string]any{"producerId": producerID, "paused": paused}, "")
	r.refreshWebinarFeed(ctx)
}

// refreshWebinarFeed recomputes the active-speaker feed over the current
// non-ghost, non-attendee candidate set and broadcasts webinar:feedChanged
// only if the speaker or its producer id list changed.
func (r *Room) refreshWebinarFeed(ctx context.Context) {
	enabled, _, _, _ := r.webinar.Snapshot()
	mode := r.webinar.FeedMode

	r.mu.RLock()
	hasAttendees := false
	for _, s := range r.members {
		if s.GetRole() == RoleWebinarAttendee {
			hasAttendees = true
			break
		}
	}
	prevSpeaker := r.lastFeedSpeaker
	r.mu.RUnlock()

	if !enabled || !hasAttendees || mode != webinar.FeedModeActiveSpeaker {
		return
	}

	var candidates []webinar.Candidate
	var producers []ExistingProducer
	for _, s := range r.memberSnapshot() {
		role := s.GetRole()
		if role == RoleGhost || role == RoleWebinarAttendee {
			continue
		}
		candidates = append(candidates, webinar.Candidate{
			UserID:                 s.UserID,
			HasUnpausedWebcamAudio: s.HasUnpausedWebcamAudio(),
			HasAnyProducer:         s.HasAnyProducer(),
		})
		for key, h := range s.ProducerSnapshot() {
			producers = append(producers, ExistingProducer{ProducerID: h.ProducerID, ProducerUserID: s.UserID, Kind: key.Kind, Type: key.Type})
		}
	}

	feed := webinar.SelectActiveSpeaker(candidates, prevSpeaker)
	producerKey := producerListKey(producers)

	r.mu.Lock()
	changed := feed.SpeakerUserID != r.lastFeedSpeaker || producerKey != r.lastFeedProducers
	r.lastFeedSpeaker = feed.SpeakerUserID
	r.lastFeedProducers = producerKey
	r.mu.Unlock()

	if changed {
		r.broadcast(ctx, EventWebinarFeedChanged, map[string]any{
			"roomId": r.ID, "speakerUserId": feed.SpeakerUserID, "producers": producers,
		}, "")
	}
}

// producerListKey builds a stable, order-independent key from a producer
// snapshot so refreshWebinarFeed can detect a producer being added or
// removed even when the active speaker itself doesn't change.
func producerListKey(producers []ExistingProducer) string {
	ids := make([]string, len(producers))
	for i, p := range producers {
		ids[i] = p.ProducerID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}
