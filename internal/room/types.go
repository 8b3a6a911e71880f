// Package room implements the room orchestration core: client sessions
// (C2), room state (C3), the admission and role engine (C5), the signaling
// dispatcher (C6), and producer/consumer fan-out (C7).
package room

import (
	"encoding/json"

	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
)

// RoleType is a session's membership role. Host is an orthogonal Room
// attribute, not a role.
type RoleType string

const (
	RoleParticipant    RoleType = "participant"
	RoleGhost          RoleType = "ghost"
	RoleWebinarAttendee RoleType = "webinar_attendee"
)

// Event names a wire event; inbound events are dispatched by the router,
// outbound ones are broadcast or sent point-to-point.
type Event string

const (
	EventJoinRoom               Event = "joinRoom"
	EventGetRtpCapabilities     Event = "getRtpCapabilities"
	EventCreateProducerTransport Event = "createProducerTransport"
	EventCreateConsumerTransport Event = "createConsumerTransport"
	EventConnectTransport       Event = "connectTransport"
	EventRestartIce             Event = "restartIce"
	EventProduce                Event = "produce"
	EventConsume                Event = "consume"
	EventToggleMute             Event = "toggleMute"
	EventToggleCamera           Event = "toggleCamera"
	EventCloseProducer          Event = "closeProducer"

	EventSendChat      Event = "sendChat"
	EventSetHandRaised Event = "setHandRaised"
	EventSendReaction  Event = "sendReaction"

	EventAdmitUser       Event = "admitUser"
	EventRejectUser      Event = "rejectUser"
	EventPromoteHost     Event = "promoteHost"
	EventKickUser        Event = "kickUser"
	EventMuteAll         Event = "muteAll"
	EventCloseAllVideo   Event = "closeAllVideo"

	EventSetTtsDisabled     Event = "setTtsDisabled"
	EventSetLocked          Event = "setLocked"
	EventSetChatLocked      Event = "setChatLocked"
	EventUpdateMeetingConfig Event = "updateMeetingConfig"
	EventUpdateWebinarConfig Event = "updateWebinarConfig"
	EventGenerateWebinarLink Event = "generateWebinarLink"
	EventRotateWebinarLink   Event = "rotateWebinarLink"

	EventAppsOpen      Event = "apps:open"
	EventAppsClose     Event = "apps:close"
	EventAppsLock      Event = "apps:lock"
	EventAppsSync      Event = "apps:sync"
	EventAppsUpdate    Event = "apps:update"
	EventAppsAwareness Event = "apps:awareness"

	EventUserJoined    Event = "userJoined"
	EventUserLeft      Event = "userLeft"
	EventNewProducer   Event = "newProducer"
	EventProducerClosed Event = "producerClosed"
	EventToggleMedia   Event = "toggleMedia"
	EventSetVideoQuality Event = "setVideoQuality"
	EventHandRaised    Event = "handRaised"
	EventReaction      Event = "reaction"
	EventChat          Event = "chat"
	EventDisplayName   Event = "displayName"
	EventPendingUserJoined Event = "pendingUserJoined"

	EventWebinarConfigChanged        Event = "webinar:configChanged"
	EventWebinarAttendeeCountChanged Event = "webinar:attendeeCountChanged"
	EventWebinarFeedChanged          Event = "webinar:feedChanged"

	EventAppsState      Event = "apps:state"
	EventAppsUpdateOut  Event = "apps:update"
	EventAppsAwarenessOut Event = "apps:awareness"

	EventServerRestarting Event = "serverRestarting"
)

// Message is the wire envelope: {event, payload}.
type Message struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload,omitempty"`
}

// assertPayload re-marshals a generic payload (typically a
// map[string]interface{} produced by decoding into interface{}) into a
// concrete struct type, returning ok=false on any mismatch.
func assertPayload[T any](payload any) (T, bool) {
	var result T
	if payload == nil {
		return result, false
	}
	if typed, ok := payload.(T); ok {
		return typed, true
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, false
	}
	return result, true
}

// ErrKind is one of the wire error kinds, returned via ack {error: kind}
// rather than as a transport-level failure.
type ErrKind string

const (
	ErrDraining            ErrKind = "Draining"
	ErrRoomLocked          ErrKind = "RoomLocked"
	ErrGuestsBlocked       ErrKind = "GuestsBlocked"
	ErrInviteCodeRequired  ErrKind = "InviteCodeRequired"
	ErrInvalidInviteCode   ErrKind = "InvalidInviteCode"
	ErrWebinarDisabled     ErrKind = "WebinarDisabled"
	ErrAttendeeCapExceeded ErrKind = "AttendeeCapExceeded"
	ErrInvalidSignedLink   ErrKind = "InvalidSignedLink"

	ErrTransportExhausted ErrKind = "TransportExhausted"
	ErrTransportNotFound  ErrKind = "TransportNotFound"
	ErrNotConsumable      ErrKind = "NotConsumable"
	ErrScreenBusy         ErrKind = "ScreenBusy"
	ErrMediaEngineError   ErrKind = "MediaEngineError"

	ErrForbidden   ErrKind = "Forbidden"
	ErrNotFound    ErrKind = "NotFound"
	ErrRoomClosed  ErrKind = "RoomClosed"
	ErrTimeout     ErrKind = "Timeout"
)

// WireError wraps an ErrKind so handlers can return it as a Go error while
// the router translates it back into an ack {error: kind}.
type WireError struct {
	Kind ErrKind
}

func (e *WireError) Error() string { return string(e.Kind) }

func NewWireError(kind ErrKind) error { return &WireError{Kind: kind} }

// ProducerKey identifies a session's own producer by (kind, type); a new
// produce replaces the prior entry of the same key.
type ProducerKey struct {
	Kind mediaengine.Kind        `json:"kind"`
	Type mediaengine.ProduceType `json:"type"`
}

// ProducerHandle is what a ClientSession retains for one of its own producers.
type ProducerHandle struct {
	ProducerID string
	Paused     bool
}

// AckFunc delivers exactly one ack reply for a mutating inbound event.
type AckFunc func(reply any)
