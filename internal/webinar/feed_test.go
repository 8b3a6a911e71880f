package webinar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectActiveSpeakerPrefersCurrentIfStillUnpaused(t *testing.T) {
	candidates := []Candidate{
		{UserID: "a", HasUnpausedWebcamAudio: true},
		{UserID: "b", HasUnpausedWebcamAudio: true},
	}
	got := SelectActiveSpeaker(candidates, "b")
	assert.Equal(t, FeedState{SpeakerUserID: "b", HasSpeaker: true}, got)
}

func TestSelectActiveSpeakerFallsBackToFirstUnpausedInOrder(t *testing.T) {
	candidates := []Candidate{
		{UserID: "a", HasUnpausedWebcamAudio: false},
		{UserID: "b", HasUnpausedWebcamAudio: true},
		{UserID: "c", HasUnpausedWebcamAudio: true},
	}
	got := SelectActiveSpeaker(candidates, "")
	assert.Equal(t, "b", got.SpeakerUserID)
	assert.True(t, got.HasSpeaker)
}

func TestSelectActiveSpeakerKeepsCurrentWithAnyProducerWhenNoneUnpaused(t *testing.T) {
	candidates := []Candidate{
		{UserID: "a", HasAnyProducer: true},
		{UserID: "b", HasAnyProducer: true},
	}
	got := SelectActiveSpeaker(candidates, "b")
	assert.Equal(t, "b", got.SpeakerUserID)
	assert.True(t, got.HasSpeaker)
}

func TestSelectActiveSpeakerFallsBackToFirstWithAnyProducer(t *testing.T) {
	candidates := []Candidate{
		{UserID: "a", HasAnyProducer: false},
		{UserID: "b", HasAnyProducer: true},
	}
	got := SelectActiveSpeaker(candidates, "gone")
	assert.Equal(t, "b", got.SpeakerUserID)
	assert.True(t, got.HasSpeaker)
}

func TestSelectActiveSpeakerNoneWhenNoCandidatesQualify(t *testing.T) {
	candidates := []Candidate{
		{UserID: "a"},
		{UserID: "b"},
	}
	got := SelectActiveSpeaker(candidates, "")
	assert.Equal(t, FeedState{}, got)
	assert.False(t, got.HasSpeaker)
}

func TestSelectActiveSpeakerEmptyCandidateList(t *testing.T) {
	got := SelectActiveSpeaker(nil, "anyone")
	assert.False(t, got.HasSpeaker)
	assert.Equal(t, "", got.SpeakerUserID)
}
