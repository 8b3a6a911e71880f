// Package mediaengine is the thin façade over the external media engine
// (C1): create routers and transports, produce, consume, pause/resume,
// close. The engine itself — the RTP/SRTP implementation — is out of scope;
// this package only owns the adapter boundary and its failure handling.
package mediaengine

import (
	"context"
	"errors"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrUnavailable is returned when the circuit breaker is open; callers
// should surface this as the wire error kind MediaEngineError.
var ErrUnavailable = errors.New("media engine unavailable")

const serviceName = "mediaengine.v1.MediaEngine"

// Client is a circuit-breaker-guarded façade over the external media engine,
// reached over grpc.ClientConn without generated stubs (see codec.go).
type Client struct {
	conn *grpc.ClientConn
	cb   *gobreaker.CircuitBreaker

	// consecutiveProbeFailures counts failed health probes in a row; the
	// health handler uses Probe's fatal result to decide the process-fatal condition:
	// the media engine reporting zero healthy workers.
	consecutiveProbeFailures int
	probeFailureThreshold    int
}

// NewClient dials the media engine at addr. probeFailureThreshold is the
// number of consecutive failed readiness probes before the caller should
// treat the engine as fatally unavailable (config: MEDIA_ENGINE_PROBE_FAILURES).
func NewClient(addr string, probeFailureThreshold int) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	st := gobreaker.Settings{
		Name:        "media-engine",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("media-engine").Set(breakerStateValue(to))
		},
	}

	if probeFailureThreshold <= 0 {
		probeFailureThreshold = 3
	}

	return &Client{
		conn:                  conn,
		cb:                    gobreaker.NewCircuitBreaker(st),
		probeFailureThreshold: probeFailureThreshold,
	}, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	start := time.Now()
	_, err := c.cb.Execute(func() (interface{}, error) {
		invokeErr := c.conn.Invoke(ctx, methodPath(serviceName, method), req, resp,
			grpc.CallContentSubtype(jsonCodecName))
		return nil, invokeErr
	})
	metrics.MediaEngineRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("media-engine").Inc()
			metrics.MediaEngineRequests.WithLabelValues(method, "breaker_open").Inc()
			return ErrUnavailable
		}
		metrics.MediaEngineRequests.WithLabelValues(method, "error").Inc()
		return err
	}
	metrics.MediaEngineRequests.WithLabelValues(method, "ok").Inc()
	return nil
}

// CreateRouter allocates a router (one per room) in the media engine.
func (c *Client) CreateRouter(ctx context.Context, roomID string) (*CreateRouterResult, error) {
	req := map[string]any{"roomId": roomID}
	var resp CreateRouterResult
	if err := c.call(ctx, "CreateRouter", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTransport allocates a producer or consumer transport for a session.
func (c *Client) CreateTransport(ctx context.Context, routerID, userID string, dir Direction) (*CreateTransportResult, error) {
	req := map[string]any{"routerId": routerID, "userId": userID, "direction": string(dir)}
	var resp CreateTransportResult
	if err := c.call(ctx, "CreateTransport", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConnectTransport completes the DTLS handshake for a previously created transport.
func (c *Client) ConnectTransport(ctx context.Context, transportID string, dtlsParameters map[string]any) error {
	req := map[string]any{"transportId": transportID, "dtlsParameters": dtlsParameters}
	var resp struct{}
	return c.call(ctx, "ConnectTransport", req, &resp)
}

// RestartIce regenerates ICE parameters for a transport after connectivity failure.
func (c *Client) RestartIce(ctx context.Context, transportID string) (*RestartIceResult, error) {
	req := map[string]any{"transportId": transportID}
	var resp RestartIceResult
	if err := c.call(ctx, "RestartIce", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Produce creates a producer on transportID, carrying kind/appData metadata
// the room uses to key the session's producer map.
func (c *Client) Produce(ctx context.Context, transportID string, kind Kind, rtpParameters map[string]any, appData AppData) (*ProduceResult, error) {
	req := map[string]any{
		"transportId":   transportID,
		"kind":          string(kind),
		"rtpParameters": rtpParameters,
		"appData":       appData,
	}
	var resp ProduceResult
	if err := c.call(ctx, "Produce", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Consume creates a consumer against remoteProducerID on a consumer transport.
func (c *Client) Consume(ctx context.Context, routerID, transportID, remoteProducerID string, rtpCapabilities map[string]any) (*ConsumeResult, error) {
	req := map[string]any{
		"routerId":        routerID,
		"transportId":     transportID,
		"producerId":      remoteProducerID,
		"rtpCapabilities": rtpCapabilities,
	}
	var resp ConsumeResult
	if err := c.call(ctx, "Consume", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PauseProducer/ResumeProducer toggle the paused state of an existing producer.
func (c *Client) PauseProducer(ctx context.Context, producerID string) error {
	return c.call(ctx, "PauseProducer", map[string]any{"producerId": producerID}, &struct{}{})
}

func (c *Client) ResumeProducer(ctx context.Context, producerID string) error {
	return c.call(ctx, "ResumeProducer", map[string]any{"producerId": producerID}, &struct{}{})
}

// CloseProducer/CloseConsumer/CloseTransport are idempotent: closing an
// already-closed handle is not an error from the adapter's point of view.
func (c *Client) CloseProducer(ctx context.Context, producerID string) error {
	err := c.call(ctx, "CloseProducer", map[string]any{"producerId": producerID}, &struct{}{})
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return nil
}

func (c *Client) CloseConsumer(ctx context.Context, consumerID string) error {
	err := c.call(ctx, "CloseConsumer", map[string]any{"consumerId": consumerID}, &struct{}{})
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return nil
}

func (c *Client) CloseTransport(ctx context.Context, transportID string) error {
	err := c.call(ctx, "CloseTransport", map[string]any{"transportId": transportID}, &struct{}{})
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return nil
}

// Probe runs the standard gRPC health-check protocol against the engine and
// tracks consecutive failures. Reports fatal=true once probeFailureThreshold
// consecutive failures have been observed, signalling that the engine should
// be treated as fatally unavailable.
func (c *Client) Probe(ctx context.Context) (healthy bool, fatal bool) {
	healthClient := healthpb.NewHealthClient(c.conn)
	resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: ""})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		c.consecutiveProbeFailures++
		return false, c.consecutiveProbeFailures >= c.probeFailureThreshold
	}
	c.consecutiveProbeFailures = 0
	return true, false
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
