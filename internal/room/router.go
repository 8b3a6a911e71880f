package room

import (
	"context"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/mediaengine"
	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"go.uber.org/zap"
)

// adminEvents require the caller to be the room's host; unauthorized calls
// ack {error: Forbidden} without reaching the handler.
var adminEvents = map[Event]bool{
	EventAdmitUser:           true,
	EventRejectUser:          true,
	EventPromoteHost:         true,
	EventKickUser:            true,
	EventMuteAll:             true,
	EventCloseAllVideo:       true,
	EventSetTtsDisabled:      true,
	EventSetLocked:           true,
	EventSetChatLocked:       true,
	EventUpdateMeetingConfig: true,
	EventUpdateWebinarConfig: true,
	EventGenerateWebinarLink: true,
	EventRotateWebinarLink:   true,
}

// Router is C6: the per-socket, per-event multiplexer with ack semantics.
// It holds the secret used for invite-code/link operations and the
// admission engine for admin-authorized membership operations.
type Router struct {
	macKey []byte
	adm    *Engine
}

// NewRouter wires the dispatcher to its dependencies.
func NewRouter(adm *Engine, macKey []byte) *Router {
	return &Router{adm: adm, macKey: macKey}
}

// Dispatch handles one inbound (event, payload) for session within r.
// Mutating events invoke ack exactly once; fire-and-forget events (chat,
// reactions, awareness) may pass a nil ack.
func (router *Router) Dispatch(ctx context.Context, r *Room, s *ClientSession, event Event, payload any, ack AckFunc) {
	start := time.Now()
	status := "success"
	defer func() {
		metrics.WebsocketEvents.WithLabelValues(string(event), status).Inc()
		metrics.MessageProcessingDuration.WithLabelValues(string(event)).Observe(time.Since(start).Seconds())
	}()

	if adminEvents[event] && !r.isAdmin(s) {
		status = "forbidden"
		replyErr(ack, ErrForbidden)
		return
	}

	// Each handler below takes r.mu for its own critical section rather than
	// Dispatch holding it for the whole event: several handlers call the
	// media engine, which must not run under the room lock.
	var err error
	switch event {
	case EventGetRtpCapabilities:
		r.mu.RLock()
		caps := r.RtpCapabilities
		r.mu.RUnlock()
		replyOK(ack, map[string]any{"rtpCapabilities": caps})

	case EventCreateProducerTransport:
		result, e := s.CreateProducerTransport(ctx, r.RouterID)
		if e != nil {
			err = e
		} else {
			replyOK(ack, result)
		}

	case EventCreateConsumerTransport:
		result, e := s.CreateConsumerTransport(ctx, r.RouterID)
		if e != nil {
			err = e
		} else {
			replyOK(ack, result)
		}

	case EventConnectTransport:
		p, ok := assertPayload[connectTransportPayload](payload)
		if !ok {
			err = NewWireError(ErrForbidden)
			break
		}
		if e := s.ConnectTransport(ctx, p.TransportID, p.DtlsParameters); e != nil {
			err = e
		} else {
			replyOK(ack, map[string]any{"success": true})
		}

	case EventRestartIce:
		p, ok := assertPayload[restartIcePayload](payload)
		if !ok {
			err = NewWireError(ErrForbidden)
			break
		}
		direction := mediaengine.DirectionProducer
		if p.Transport == "consumer" {
			direction = mediaengine.DirectionConsumer
		}
		result, e := s.RestartIce(ctx, direction)
		if e != nil {
			err = e
		} else {
			replyOK(ack, result)
		}

	case EventProduce:
		err = router.dispatchProduce(ctx, r, s, payload, ack)

	case EventConsume:
		p, ok := assertPayload[consumePayload](payload)
		if !ok {
			err = NewWireError(ErrForbidden)
			break
		}
		result, e := s.Consume(ctx, r.RouterID, p.ProducerID, p.RtpCapabilities)
		if e != nil {
			err = e
		} else {
			replyOK(ack, result)
		}

	case EventToggleMute:
		err = r.handleToggleMute(ctx, s, payload)
		ackVoid(ack, err)

	case EventToggleCamera:
		err = r.handleToggleCamera(ctx, s, payload)
		ackVoid(ack, err)

	case EventCloseProducer:
		err = r.handleCloseProducer(ctx, s, payload)
		ackVoid(ack, err)

	case EventSendChat:
		err = r.handleSendChat(ctx, s, payload)

	case EventSetHandRaised:
		err = r.handleSetHandRaised(ctx, s, payload)

	case EventSendReaction:
		err = r.handleSendReaction(ctx, s, payload)

	case EventAdmitUser:
		err = router.adm.AdmitUser(ctx, r, targetUserKey(payload))
		ackVoid(ack, err)

	case EventRejectUser:
		err = router.adm.RejectUser(ctx, r, targetUserKey(payload))
		ackVoid(ack, err)

	case EventPromoteHost:
		err = router.adm.PromoteHost(ctx, r, s.UserKey, targetUserID(payload))
		ackVoid(ack, err)

	case EventKickUser:
		err = router.adm.KickUser(ctx, r, s.UserKey, targetUserID(payload))
		ackVoid(ack, err)

	case EventMuteAll:
		err = r.handleMuteAll(ctx, s)
		ackVoid(ack, err)

	case EventCloseAllVideo:
		err = r.handleCloseAllVideo(ctx, s)
		ackVoid(ack, err)

	case EventSetTtsDisabled:
		err = r.handleSetTtsDisabled(ctx, s, payload)
		ackVoid(ack, err)

	case EventSetLocked:
		err = r.handleSetLocked(ctx, s, payload)
		ackVoid(ack, err)

	case EventSetChatLocked:
		err = r.handleSetChatLocked(ctx, s, payload)
		ackVoid(ack, err)

	case EventUpdateMeetingConfig:
		err = r.handleUpdateMeetingConfig(ctx, s, payload, router.macKey)
		ackVoid(ack, err)

	case EventUpdateWebinarConfig:
		err = r.handleUpdateWebinarConfig(ctx, s, payload, router.macKey)
		ackVoid(ack, err)

	case EventGenerateWebinarLink:
		link, e := r.handleGenerateWebinarLink(s, targetClientID(payload), router.macKey, false)
		if e != nil {
			err = e
		} else {
			replyOK(ack, map[string]any{"link": link})
		}

	case EventRotateWebinarLink:
		link, e := r.handleGenerateWebinarLink(s, targetClientID(payload), router.macKey, true)
		if e != nil {
			err = e
		} else {
			replyOK(ack, map[string]any{"link": link})
		}

	case EventAppsOpen:
		err = r.handleAppsOpen(ctx, s, payload)
		ackVoid(ack, err)

	case EventAppsClose:
		err = r.handleAppsClose(ctx, s)
		ackVoid(ack, err)

	case EventAppsLock:
		p, _ := assertPayload[boolPayload](payload)
		err = r.handleAppsLock(ctx, s, p.Value)
		ackVoid(ack, err)

	case EventAppsSync:
		result, e := r.handleAppsSync(s, payload)
		if e != nil {
			err = e
		} else {
			replyOK(ack, result)
		}

	case EventAppsUpdate:
		err = r.handleAppsUpdate(ctx, s, payload)

	case EventAppsAwareness:
		err = r.handleAppsAwareness(ctx, s, payload)

	default:
		logging.Warn(ctx, "unknown event", zap.String("event", string(event)))
	}

	if err != nil {
		status = "error"
		replyErr(ack, errKind(err))
	}
}

type connectTransportPayload struct {
	TransportID    string         `json:"transportId"`
	DtlsParameters map[string]any `json:"dtlsParameters"`
}

type restartIcePayload struct {
	Transport string `json:"transport"` // "producer" | "consumer"
}

type producePayload struct {
	TransportID   string           `json:"transportId"`
	Kind          mediaengine.Kind `json:"kind"`
	RtpParameters map[string]any   `json:"rtpParameters"`
	AppData       struct {
		Type   mediaengine.ProduceType `json:"type"`
		Paused bool                    `json:"paused"`
	} `json:"appData"`
}

type consumePayload struct {
	ProducerID      string         `json:"producerId"`
	RtpCapabilities map[string]any `json:"rtpCapabilities"`
}

// dispatchProduce wraps ClientSession.Produce with screen-lease acquisition
// for screen-share producers. It acks only on success; on failure it returns
// the error and Dispatch sends the single error ack.
func (router *Router) dispatchProduce(ctx context.Context, r *Room, s *ClientSession, payload any, ack AckFunc) error {
	p, ok := assertPayload[producePayload](payload)
	if !ok {
		return NewWireError(ErrForbidden)
	}

	if p.AppData.Type == mediaengine.TypeScreen {
		if err := r.acquireScreenLease(s.UserID, "pending"); err != nil {
			return err
		}
	}

	result, err := s.Produce(ctx, p.Kind, p.AppData.Type, p.RtpParameters, p.AppData.Paused)
	if err != nil {
		if p.AppData.Type == mediaengine.TypeScreen {
			r.releaseScreenLease(s.UserID, "pending")
		}
		return err
	}

	if p.AppData.Type == mediaengine.TypeScreen {
		r.mu.RLock()
		held := r.screenShareOwnerID == s.UserID
		r.mu.RUnlock()
		if held {
			r.mu.Lock()
			r.screenShareProducerID = result.ProducerID
			r.mu.Unlock()
		}
	}

	replyOK(ack, map[string]any{"producerId": result.ProducerID})
	r.fanOutNewProducer(ctx, s.UserID, ProducerKey{Kind: p.Kind, Type: p.AppData.Type}, result.ProducerID)
	return nil
}

func replyOK(ack AckFunc, data any) {
	if ack == nil {
		return
	}
	ack(data)
}

func ackVoid(ack AckFunc, err error) {
	if ack == nil || err != nil {
		return
	}
	ack(map[string]any{"success": true})
}

func replyErr(ack AckFunc, kind ErrKind) {
	if ack == nil {
		return
	}
	ack(map[string]any{"error": string(kind)})
}

func errKind(err error) ErrKind {
	if we, ok := err.(*WireError); ok {
		return we.Kind
	}
	return ErrMediaEngineError
}

type targetPayload struct {
	UserID   string `json:"userId"`
	UserKey  string `json:"userKey"`
	ClientID string `json:"clientId"`
}

func targetUserID(payload any) string {
	p, _ := assertPayload[targetPayload](payload)
	return p.UserID
}

func targetUserKey(payload any) string {
	p, _ := assertPayload[targetPayload](payload)
	return p.UserKey
}

func targetClientID(payload any) string {
	p, _ := assertPayload[targetPayload](payload)
	return p.ClientID
}
