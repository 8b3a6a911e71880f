package webinar

// Candidate is a projection of a room member eligible for the curated
// webinar feed (non-ghost, non-attendee members).
type Candidate struct {
	UserID                string
	HasUnpausedWebcamAudio bool
	HasAnyProducer         bool
}

// FeedState is the result of a feed recomputation; callers diff it against
// the previous state to decide whether to broadcast webinar:feedChanged.
type FeedState struct {
	SpeakerUserID string
	HasSpeaker    bool
}

// SelectActiveSpeaker implements a five-step selection:
//  1. candidates are already filtered to non-ghost, non-attendee members.
//  2. prefer currentSpeaker if they still have an un-paused webcam-audio producer.
//  3. else the first candidate (stable order) with an un-paused webcam-audio producer.
//  4. else keep currentSpeaker if they still have any producer.
//  5. else the first candidate with any producer; else no speaker.
func SelectActiveSpeaker(candidates []Candidate, currentSpeakerUserID string) FeedState {
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.UserID] = c
	}

	if currentSpeakerUserID != "" {
		if cur, ok := byID[currentSpeakerUserID]; ok && cur.HasUnpausedWebcamAudio {
			return FeedState{SpeakerUserID: currentSpeakerUserID, HasSpeaker: true}
		}
	}

	for _, c := range candidates {
		if c.HasUnpausedWebcamAudio {
			return FeedState{SpeakerUserID: c.UserID, HasSpeaker: true}
		}
	}

	if currentSpeakerUserID != "" {
		if cur, ok := byID[currentSpeakerUserID]; ok && cur.HasAnyProducer {
			return FeedState{SpeakerUserID: currentSpeakerUserID, HasSpeaker: true}
		}
	}

	for _, c := range candidates {
		if c.HasAnyProducer {
			return FeedState{SpeakerUserID: c.UserID, HasSpeaker: true}
		}
	}

	return FeedState{HasSpeaker: false}
}
