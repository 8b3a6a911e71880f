package room

import (
	"context"
	"sync"

	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
)

// ClientSession is the per-peer state owned by a Room (C2): socket handle,
// role, owned transports, owned producers, owned consumers, mute/camera
// flags. Identified by userId = userKey#sessionId.
type ClientSession struct {
	mu sync.Mutex

	UserKey     string
	SessionID   string
	UserID      string // userKey#sessionId
	DisplayName string
	Role        RoleType

	producerTransportID string
	consumerTransportID string

	producers map[ProducerKey]ProducerHandle
	consumers map[string]string // remote producerId -> consumerId

	IsMuted     bool
	IsCameraOff bool

	send   chan []byte
	engine *mediaengine.Client
	room   *Room
}

// UserID composes the stable session identity from a userKey/sessionId pair.
func UserID(userKey, sessionID string) string {
	return userKey + "#" + sessionID
}

func newClientSession(userKey, sessionID, displayName string, role RoleType, engine *mediaengine.Client, rm *Room, send chan []byte) *ClientSession {
	return &ClientSession{
		UserKey:     userKey,
		SessionID:   sessionID,
		UserID:      UserID(userKey, sessionID),
		DisplayName: displayName,
		Role:        role,
		producers:   make(map[ProducerKey]ProducerHandle),
		consumers:   make(map[string]string),
		send:        send,
		engine:      engine,
		room:        rm,
	}
}

// GetRole/SetRole are thread-safe since role may change concurrently with
// signaling dispatch (promotion, ghost downgrade).
func (s *ClientSession) GetRole() RoleType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Role
}

func (s *ClientSession) SetRole(role RoleType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Role = role
}

// HasAnyProducer reports whether the session currently owns any producer,
// used by the webinar active-speaker fallback steps.
func (s *ClientSession) HasAnyProducer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.producers) > 0
}

// HasUnpausedWebcamAudio reports whether the (audio, webcam) producer
// exists and is not paused.
func (s *ClientSession) HasUnpausedWebcamAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.producers[ProducerKey{Kind: mediaengine.KindAudio, Type: mediaengine.TypeWebcam}]
	return ok && !h.Paused
}

// ProducerSnapshot returns a copy of the session's current producer set,
// used to replay existingProducers on admission and for fan-out diffing.
func (s *ClientSession) ProducerSnapshot() map[ProducerKey]ProducerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ProducerKey]ProducerHandle, len(s.producers))
	for k, v := range s.producers {
		out[k] = v
	}
	return out
}

// CreateProducerTransport allocates the session's single producer transport.
// Fails with TransportExhausted if one already exists.
func (s *ClientSession) CreateProducerTransport(ctx context.Context, routerID string) (*mediaengine.CreateTransportResult, error) {
	s.mu.Lock()
	if s.producerTransportID != "" {
		s.mu.Unlock()
		return nil, NewWireError(ErrTransportExhausted)
	}
	s.mu.Unlock()

	result, err := s.engine.CreateTransport(ctx, routerID, s.UserID, mediaengine.DirectionProducer)
	if err != nil {
		return nil, NewWireError(ErrMediaEngineError)
	}
	s.mu.Lock()
	s.producerTransportID = result.ID
	s.mu.Unlock()
	return result, nil
}

// CreateConsumerTransport allocates the session's single consumer transport.
func (s *ClientSession) CreateConsumerTransport(ctx context.Context, routerID string) (*mediaengine.CreateTransportResult, error) {
	s.mu.Lock()
	if s.consumerTransportID != "" {
		s.mu.Unlock()
		return nil, NewWireError(ErrTransportExhausted)
	}
	s.mu.Unlock()

	result, err := s.engine.CreateTransport(ctx, routerID, s.UserID, mediaengine.DirectionConsumer)
	if err != nil {
		return nil, NewWireError(ErrMediaEngineError)
	}
	s.mu.Lock()
	s.consumerTransportID = result.ID
	s.mu.Unlock()
	return result, nil
}

// ConnectTransport completes the DTLS handshake on transportID, which must
// be one of this session's own transports.
func (s *ClientSession) ConnectTransport(ctx context.Context, transportID string, dtlsParameters map[string]any) error {
	if !s.ownsTransport(transportID) {
		return NewWireError(ErrTransportNotFound)
	}
	if err := s.engine.ConnectTransport(ctx, transportID, dtlsParameters); err != nil {
		return NewWireError(ErrMediaEngineError)
	}
	return nil
}

func (s *ClientSession) ownsTransport(transportID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transportID != "" && (transportID == s.producerTransportID || transportID == s.consumerTransportID)
}

// RestartIce regenerates ICE parameters for the named direction's transport.
func (s *ClientSession) RestartIce(ctx context.Context, direction mediaengine.Direction) (*mediaengine.RestartIceResult, error) {
	s.mu.Lock()
	var transportID string
	if direction == mediaengine.DirectionProducer {
		transportID = s.producerTransportID
	} else {
		transportID = s.consumerTransportID
	}
	s.mu.Unlock()

	if transportID == "" {
		return nil, NewWireError(ErrTransportNotFound)
	}
	result, err := s.engine.RestartIce(ctx, transportID)
	if err != nil {
		return nil, NewWireError(ErrMediaEngineError)
	}
	return result, nil
}

// Produce creates a producer of (kind, type) on the session's producer
// transport. A new produce of the same key replaces and closes the prior
// entry. Screen-share produce must acquire the room's screen
// lease atomically before the engine call commits; callers needing that
// path use Room.acquireScreenLease around this method.
func (s *ClientSession) Produce(ctx context.Context, kind mediaengine.Kind, produceType mediaengine.ProduceType, rtpParameters map[string]any, paused bool) (*mediaengine.ProduceResult, error) {
	s.mu.Lock()
	transportID := s.producerTransportID
	s.mu.Unlock()
	if transportID == "" {
		return nil, NewWireError(ErrTransportNotFound)
	}

	key := ProducerKey{Kind: kind, Type: produceType}
	appData := mediaengine.AppData{Type: produceType, Paused: paused}
	result, err := s.engine.Produce(ctx, transportID, kind, rtpParameters, appData)
	if err != nil {
		return nil, NewWireError(ErrMediaEngineError)
	}

	s.mu.Lock()
	prior, hadPrior := s.producers[key]
	s.producers[key] = ProducerHandle{ProducerID: result.ProducerID, Paused: paused}
	s.mu.Unlock()

	if hadPrior && prior.ProducerID != result.ProducerID {
		_ = s.engine.CloseProducer(ctx, prior.ProducerID)
	}
	return result, nil
}

// Consume creates a consumer against a remote producer. At most one
// consumer per remote producerId; a repeat consume for the same producer returns the existing
// consumer id without a new engine call.
func (s *ClientSession) Consume(ctx context.Context, routerID, remoteProducerID string, rtpCapabilities map[string]any) (*mediaengine.ConsumeResult, error) {
	s.mu.Lock()
	transportID := s.consumerTransportID
	if existing, ok := s.consumers[remoteProducerID]; ok {
		s.mu.Unlock()
		return &mediaengine.ConsumeResult{ID: existing, ProducerID: remoteProducerID}, nil
	}
	s.mu.Unlock()
	if transportID == "" {
		return nil, NewWireError(ErrTransportNotFound)
	}

	result, err := s.engine.Consume(ctx, routerID, transportID, remoteProducerID, rtpCapabilities)
	if err != nil {
		return nil, NewWireError(ErrNotConsumable)
	}

	s.mu.Lock()
	s.consumers[remoteProducerID] = result.ID
	s.mu.Unlock()
	return result, nil
}

// CloseConsumersFor closes and removes every consumer keyed to
// remoteProducerID, used when a producer closes so its subscribers tear
// down their consumers.
func (s *ClientSession) CloseConsumersFor(ctx context.Context, remoteProducerID string) {
	s.mu.Lock()
	consumerID, ok := s.consumers[remoteProducerID]
	if ok {
		delete(s.consumers, remoteProducerID)
	}
	s.mu.Unlock()
	if ok {
		_ = s.engine.CloseConsumer(ctx, consumerID)
	}
}

// ToggleMute pauses or resumes the (audio, webcam) producer and updates
// IsMuted. Returns NotFound if no such producer exists yet.
func (s *ClientSession) ToggleMute(ctx context.Context, paused bool) error {
	return s.toggleProducer(ctx, ProducerKey{Kind: mediaengine.KindAudio, Type: mediaengine.TypeWebcam}, paused, &s.IsMuted)
}

// ToggleCamera pauses or resumes the (video, webcam) producer and updates
// IsCameraOff.
func (s *ClientSession) ToggleCamera(ctx context.Context, paused bool) error {
	return s.toggleProducer(ctx, ProducerKey{Kind: mediaengine.KindVideo, Type: mediaengine.TypeWebcam}, paused, &s.IsCameraOff)
}

func (s *ClientSession) toggleProducer(ctx context.Context, key ProducerKey, paused bool, flag *bool) error {
	s.mu.Lock()
	handle, ok := s.producers[key]
	s.mu.Unlock()
	if !ok {
		return NewWireError(ErrNotFound)
	}

	var err error
	if paused {
		err = s.engine.PauseProducer(ctx, handle.ProducerID)
	} else {
		err = s.engine.ResumeProducer(ctx, handle.ProducerID)
	}
	if err != nil {
		return NewWireError(ErrMediaEngineError)
	}

	s.mu.Lock()
	handle.Paused = paused
	s.producers[key] = handle
	*flag = paused
	s.mu.Unlock()
	return nil
}

// CloseProducer closes a single owned producer by id, idempotent.
func (s *ClientSession) CloseProducer(ctx context.Context, producerID string) (ProducerKey, bool) {
	s.mu.Lock()
	var key ProducerKey
	found := false
	for k, h := range s.producers {
		if h.ProducerID == producerID {
			key, found = k, true
			delete(s.producers, k)
			break
		}
	}
	s.mu.Unlock()
	_ = s.engine.CloseProducer(ctx, producerID)
	return key, found
}

// Close cascades consumers, producers, then transports; idempotent.
func (s *ClientSession) Close(ctx context.Context) {
	s.mu.Lock()
	consumers := make([]string, 0, len(s.consumers))
	for _, id := range s.consumers {
		consumers = append(consumers, id)
	}
	producers := make([]string, 0, len(s.producers))
	for _, h := range s.producers {
		producers = append(producers, h.ProducerID)
	}
	producerTransportID, consumerTransportID := s.producerTransportID, s.consumerTransportID
	s.consumers = make(map[string]string)
	s.producers = make(map[ProducerKey]ProducerHandle)
	s.producerTransportID, s.consumerTransportID = "", ""
	s.mu.Unlock()

	for _, id := range consumers {
		_ = s.engine.CloseConsumer(ctx, id)
	}
	for _, id := range producers {
		_ = s.engine.CloseProducer(ctx, id)
	}
	if producerTransportID != "" {
		_ = s.engine.CloseTransport(ctx, producerTransportID)
	}
	if consumerTransportID != "" {
		_ = s.engine.CloseTransport(ctx, consumerTransportID)
	}
}

// Resume reattaches session to a new socket after a grace-window
// reconnection. Consumers are proactively closed since the client is
// expected to re-consume against its still-live producers, which are not
// touched.
func (s *ClientSession) Resume(ctx context.Context, send chan []byte) {
	s.mu.Lock()
	s.send = send
	consumers := make([]string, 0, len(s.consumers))
	for _, id := range s.consumers {
		consumers = append(consumers, id)
	}
	s.consumers = make(map[string]string)
	s.mu.Unlock()

	for _, id := range consumers {
		_ = s.engine.CloseConsumer(ctx, id)
	}
}

// Send queues a raw wire message to this session's socket without blocking;
// a full buffer drops the message rather than stalling the room.
func (s *ClientSession) Send(raw []byte) {
	select {
	case s.send <- raw:
	default:
	}
}
