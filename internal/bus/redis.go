// Package bus provides the cross-instance pub/sub transport to which room
// broadcasts are published for optional cross-instance relay. Drain notices
// are not published on it.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/conclave-rtc/sfu-core/internal/logging"
	"github.com/conclave-rtc/sfu-core/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PubSubPayload is the envelope moved between instances.
type PubSubPayload struct {
	RoomID   string          `json:"roomId"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
	Roles    []string        `json:"roles,omitempty"`
}

// Service wraps a Redis client behind a circuit breaker. A nil *Service is
// valid and makes every method a no-op, so single-instance deployments can
// run with REDIS_ENABLED=false and pass a nil Service around.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService dials Redis and verifies connectivity before returning.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(breakerStateValue(to))
		},
	}

	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
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

func roomChannel(roomID string) string { return fmt.Sprintf("sfu:room:%s", roomID) }
func userChannel(userID string) string { return fmt.Sprintf("sfu:user:%s", userID) }

// Publish broadcasts an event to every other instance watching roomID.
func (s *Service) Publish(ctx context.Context, roomID, event string, payload any, senderID string, roles []string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload: %w", err)
		}
		msg := PubSubPayload{RoomID: roomID, Event: event, Payload: innerBytes, SenderID: senderID, Roles: roles}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, roomChannel(roomID), data).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			metrics.BusOperations.WithLabelValues("publish", "breaker_open").Inc()
			logging.Warn(ctx, "bus circuit breaker open, dropping publish", zap.String("roomId", roomID))
			return nil
		}
		metrics.BusOperations.WithLabelValues("publish", "error").Inc()
		return err
	}
	metrics.BusOperations.WithLabelValues("publish", "ok").Inc()
	return nil
}

// PublishDirect sends a message to a specific user's channel, across all instances.
func (s *Service) PublishDirect(ctx context.Context, targetUserID, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inner payload: %w", err)
		}
		msg := PubSubPayload{Event: event, Payload: innerBytes, SenderID: senderID}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal direct envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, userChannel(targetUserID), data).Err()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			return nil
		}
		return err
	}
	return nil
}

// Subscribe starts a background goroutine delivering messages from other
// instances for roomID to handler, until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, roomID string, wg *sync.WaitGroup, handler func(PubSubPayload)) {
	if s == nil || s.client == nil {
		return
	}
	channel := roomChannel(roomID)
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload PubSubPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(ctx, "failed to unmarshal bus message", zap.Error(err))
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping checks Redis connectivity, used by the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
