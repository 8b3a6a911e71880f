package room

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/apps"
	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"github.com/conclave-rtc/sfu-core/internal/webinar"
	"go.uber.org/zap"
)

// VideoQuality is the room-wide adaptive target.
type VideoQuality string

const (
	QualityLow      VideoQuality = "low"
	QualityStandard VideoQuality = "standard"
)

// pendingClient is a knocker awaiting admission.
type pendingClient struct {
	userID      string
	userKey     string
	sessionID   string
	displayName string
	send        chan []byte
	element     *list.Element
}

// pendingDisconnect tracks a grace-window timer for a transiently dropped
// socket during its reconnect grace window.
type pendingDisconnect struct {
	timer    *time.Timer
	sessionID string
}

// systemProducer is a non-peer-owned stream (e.g. shared-browser media);
// counted for fan-out but not for admission quotas.
type systemProducer struct {
	ProducerID      string
	SyntheticUserID string
	Type            mediaengine.ProduceType
}

// Room is the authoritative per-channel container (C3). channelId =
// clientId:roomId; here ID is that composite string.
type Room struct {
	mu sync.RWMutex

	ID              string
	RouterID        string
	RtpCapabilities map[string]any

	members           map[string]*ClientSession // userId -> session
	pendingClients    map[string]*pendingClient  // userKey -> knocker
	pendingDisconnects map[string]*pendingDisconnect // userId -> grace timer
	allowedUsers       map[string]struct{}          // userKey set
	lockedAllowedUsers map[string]struct{}          // userKey subset, active under lock

	isLocked      bool
	isChatLocked  bool
	noGuests      bool
	isTtsDisabled bool

	hostUserKey string

	displayNamesByKey map[string]string // userKey -> displayName
	userKeysByID      map[string]string // userId -> userKey

	handRaisedByUserID map[string]struct{}

	screenShareProducerID string
	screenShareOwnerID    string

	currentQuality    VideoQuality
	lowThreshold      int
	standardThreshold int
	lastFeedSpeaker   string
	lastFeedProducers string // sorted, joined producer ids last broadcast in the feed

	systemProducers map[string]systemProducer

	webinar *webinar.Config
	apps    *apps.State

	waitingDrawOrder *list.List // created empty; knock and admit do not add entries to it

	cleanupTimer      *time.Timer
	emptyRoomGrace    time.Duration
	adminCleanupGrace time.Duration

	engine *mediaengine.Client
	bus    Bus

	onEmpty func(channelID string)
}

// Bus is the subset of the distributed pub/sub surface a Room needs for
// cross-pod broadcast; satisfied by *bus.Service.
type Bus interface {
	Publish(ctx context.Context, roomID, event string, payload any, senderID string, roles []string) error
}

// Config bundles the tunables a Room needs at construction, sourced from
// internal/config.
type Config struct {
	LowThreshold      int
	StandardThreshold int
	DisconnectGrace   time.Duration
	AdminCleanupGrace time.Duration
	EmptyRoomGrace    time.Duration
}

// NewRoom constructs an empty room. onEmpty is invoked (not under the
// room's lock) once the room has no members and no pending clients and its
// empty-room GC timer expires, or once the room still has no host when its
// admin-absence timer expires (see evaluateLifecycle).
func NewRoom(id string, engine *mediaengine.Client, bus Bus, cfg Config, onEmpty func(string)) *Room {
	return &Room{
		ID:                 id,
		members:            make(map[string]*ClientSession),
		pendingClients:     make(map[string]*pendingClient),
		pendingDisconnects: make(map[string]*pendingDisconnect),
		allowedUsers:       make(map[string]struct{}),
		lockedAllowedUsers: make(map[string]struct{}),
		displayNamesByKey:  make(map[string]string),
		userKeysByID:       make(map[string]string),
		handRaisedByUserID: make(map[string]struct{}),
		currentQuality:     QualityStandard,
		lowThreshold:       orDefault(cfg.LowThreshold, 10),
		standardThreshold:  orDefault(cfg.StandardThreshold, 7),
		systemProducers:    make(map[string]systemProducer),
		webinar:            webinar.NewConfig(),
		apps:               apps.NewState(),
		waitingDrawOrder:   list.New(),
		emptyRoomGrace:     orDurationDefault(cfg.EmptyRoomGrace, 5*time.Second),
		adminCleanupGrace:  orDurationDefault(cfg.AdminCleanupGrace, 2*time.Minute),
		engine:             engine,
		bus:                bus,
		onEmpty:            onEmpty,
	}
}

func orDurationDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func orDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

// IsEmpty reports whether the room has no members and no pending knockers.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0 && len(r.pendingClients) == 0
}

// HasAdmin reports whether any current member is the host or an ad-hoc
// admin. The core only tracks a single primary host; ad-hoc admin
// derivation is left to product policy and is not implemented beyond the
// primary host here.
func (r *Room) HasAdmin() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostUserKey != ""
}

// addMember registers session under userId, updates reverse indices, and
// fires the member-change signal. Caller must hold r.mu.
func (r *Room) addMember(s *ClientSession) {
	r.members[s.UserID] = s
	r.displayNamesByKey[s.UserKey] = s.DisplayName
	r.userKeysByID[s.UserID] = s.UserKey
	r.cancelCleanupTimerLocked()
	metrics.RoomMembers.WithLabelValues(r.ID).Set(float64(len(r.members)))
}

// removeMember clears the session from the member, userId and hand-raise
// indexes, releases any screen lease it held, and clears hostUserKey if it
// was the host's last session. It does not close the session's engine
// resources; callers do that with ClientSession.Close after releasing r.mu.
// Caller must hold r.mu.
func (r *Room) removeMember(ctx context.Context, userID string) *ClientSession {
	s, ok := r.members[userID]
	if !ok {
		return nil
	}
	delete(r.members, userID)
	delete(r.userKeysByID, userID)
	delete(r.handRaisedByUserID, userID)
	if r.screenShareOwnerID == userID {
		r.screenShareProducerID = ""
		r.screenShareOwnerID = ""
	}
	if r.hostUserKey == s.UserKey && !r.hasOtherSessionForKey(s.UserKey, userID) {
		r.hostUserKey = ""
	}
	metrics.RoomMembers.WithLabelValues(r.ID).Set(float64(len(r.members)))
	return s
}

func (r *Room) hasOtherSessionForKey(userKey, excludeUserID string) bool {
	for id, s := range r.members {
		if id != excludeUserID && s.UserKey == userKey {
			return true
		}
	}
	return false
}

// setHostUserKey assigns the room's primary host. If cleared with no
// members remaining of administrative standing, the caller is expected to
// start the admin-absence cleanup timer.
func (r *Room) setHostUserKey(ctx context.Context, userKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostUserKey = userKey
	if userKey != "" {
		r.cancelCleanupTimerLocked()
	}
	r.broadcastLocked(ctx, EventDisplayName, map[string]any{"hostUserId": userKey}, "")
}

// acquireScreenLease grants the room's single (video, screen) lease to
// userID, FCFS. Returns ScreenBusy if already held by a different owner
// enforced at produce time.
func (r *Room) acquireScreenLease(userID, producerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screenShareProducerID != "" && r.screenShareOwnerID != userID {
		return NewWireError(ErrScreenBusy)
	}
	r.screenShareProducerID = producerID
	r.screenShareOwnerID = userID
	return nil
}

// releaseScreenLease releases the lease if held by userID for producerID.
func (r *Room) releaseScreenLease(userID, producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.screenShareOwnerID == userID && r.screenShareProducerID == producerID {
		r.screenShareProducerID = ""
		r.screenShareOwnerID = ""
	}
}

// updateVideoQualityTarget applies the hysteresis rule and broadcasts
// setVideoQuality if the target changed.
func (r *Room) updateVideoQualityTarget(ctx context.Context) {
	r.mu.Lock()
	count := len(r.members)
	prev := r.currentQuality
	next := prev
	if prev == QualityStandard && count >= r.lowThreshold {
		next = QualityLow
	} else if prev == QualityLow && count <= r.standardThreshold {
		next = QualityStandard
	}
	changed := next != prev
	r.currentQuality = next
	r.mu.Unlock()

	if changed {
		r.broadcast(ctx, EventSetVideoQuality, map[string]any{"quality": next}, "")
		metrics.WebinarAttendees.WithLabelValues(r.ID).Set(float64(count))
	}
}

// broadcast sends event/payload to every current member except
// excludeUserID (pass "" to exclude none). Also republishes over the bus
// for cross-pod delivery.
func (r *Room) broadcast(ctx context.Context, event Event, payload any, excludeUserID string) {
	r.mu.RLock()
	r.broadcastLocked(ctx, event, payload, excludeUserID)
	r.mu.RUnlock()
}

func (r *Room) broadcastLocked(ctx context.Context, event Event, payload any, excludeUserID string) {
	raw, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		logging.Error(ctx, "failed to marshal broadcast", zap.String("event", string(event)), zap.Error(err))
		return
	}
	for id, s := range r.members {
		if id == excludeUserID {
			continue
		}
		s.Send(raw)
	}
	if r.bus != nil {
		go func() {
			_ = r.bus.Publish(context.Background(), r.ID, string(event), payload, excludeUserID, nil)
		}()
	}
}

// sendTo delivers event/payload to a single member's socket.
func (r *Room) sendTo(userID string, event Event, payload any) {
	r.mu.RLock()
	s, ok := r.members[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	raw, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		return
	}
	s.Send(raw)
}

// memberSnapshot returns the current members under a read lock, used by
// C4/C7 to compute feed and fan-out without holding the lock across an
// engine call.
func (r *Room) memberSnapshot() []*ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ClientSession, 0, len(r.members))
	for _, s := range r.members {
		out = append(out, s)
	}
	return out
}

func (r *Room) cancelCleanupTimerLocked() {
	if r.cleanupTimer != nil {
		r.cleanupTimer.Stop()
		r.cleanupTimer = nil
	}
}

// evaluateLifecycle arms the empty-room GC timer if the room has no members
// and no pending knockers, or the admin-absence timer if it has members but
// no host, re-validating the condition when the timer fires before invoking
// onEmpty. Cancels any outstanding timer if neither condition holds.
// Called after every member removal.
func (r *Room) evaluateLifecycle() {
	r.mu.Lock()
	empty := len(r.members) == 0 && len(r.pendingClients) == 0
	hasAdmin := r.hostUserKey != ""
	r.cancelCleanupTimerLocked()
	switch {
	case empty:
		r.cleanupTimer = time.AfterFunc(r.emptyRoomGrace, func() {
			if r.IsEmpty() {
				r.fireOnEmpty()
			}
		})
	case !hasAdmin:
		r.cleanupTimer = time.AfterFunc(r.adminCleanupGrace, func() {
			if !r.HasAdmin() {
				r.fireOnEmpty()
			}
		})
	}
	r.mu.Unlock()
}

func (r *Room) fireOnEmpty() {
	if r.onEmpty != nil {
		r.onEmpty(r.ID)
	}
}

// Drain notifies every member and pending knocker that the process is
// restarting. Does not close sockets; the
// caller closes the underlying transport after the notice window.
func (r *Room) Drain(message string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	raw, err := json.Marshal(Message{Event: EventServerRestarting, Payload: map[string]any{"message": message, "reconnecting": true}})
	if err != nil {
		return
	}
	for _, s := range r.members {
		s.Send(raw)
	}
	for _, pc := range r.pendingClients {
		select {
		case pc.send <- raw:
		default:
		}
	}
}

// RoomSnapshot is the read-only admin view of one room.
type RoomSnapshot struct {
	ID        string `json:"id"`
	Members   int    `json:"members"`
	Pending   int    `json:"pending"`
	Attendees int    `json:"attendees"`
	Locked    bool   `json:"locked"`
}

// Snapshot returns an admin-facing summary of the room's current state.
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attendees := 0
	for _, s := range r.members {
		if s.GetRole() == RoleWebinarAttendee {
			attendees++
		}
	}
	return RoomSnapshot{
		ID: r.ID, Members: len(r.members), Pending: len(r.pendingClients),
		Attendees: attendees, Locked: r.isLocked,
	}
}
