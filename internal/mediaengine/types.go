package mediaengine

// Kind is a producer/consumer's media kind.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ProduceType distinguishes the two producer slots a session may hold per kind.
type ProduceType string

const (
	TypeWebcam ProduceType = "webcam"
	TypeScreen ProduceType = "screen"
)

// Direction selects which of a session's two transports an operation targets.
type Direction string

const (
	DirectionProducer Direction = "producer"
	DirectionConsumer Direction = "consumer"
)

// IceParameters, IceCandidates and DtlsParameters are opaque blobs handed
// back from the media engine untouched; the core never inspects them.
type CreateTransportResult struct {
	ID              string          `json:"id"`
	IceParameters   map[string]any  `json:"iceParameters"`
	IceCandidates   []map[string]any `json:"iceCandidates"`
	DtlsParameters  map[string]any  `json:"dtlsParameters"`
}

type RestartIceResult struct {
	IceParameters map[string]any `json:"iceParameters"`
}

type ProduceResult struct {
	ProducerID string `json:"producerId"`
}

type AppData struct {
	Type   ProduceType `json:"type"`
	Paused bool        `json:"paused"`
}

type ConsumeResult struct {
	ID            string         `json:"id"`
	ProducerID    string         `json:"producerId"`
	Kind          Kind           `json:"kind"`
	RtpParameters map[string]any `json:"rtpParameters"`
}

type CreateRouterResult struct {
	RouterID        string         `json:"routerId"`
	RtpCapabilities map[string]any `json:"rtpCapabilities"`
}
