package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dixxi1208/GryazBot/internal/adapter/metrics"
	"github.com/dixxi1208/GryazBot/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const channelPrefix = "gryaz:polls:"

// ChannelForChat is the pub/sub channel carrying poll events of one chat.
// Bridges serving every chat subscribe to the pattern "gryaz:polls:*".
func ChannelForChat(chatID int64) string {
	return channelPrefix + strconv.FormatInt(chatID, 10)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// PollPublisher implements domain.PollNotifier on Redis pub/sub. After repeated
// failures the breaker opens and events are dropped until Redis recovers.
type PollPublisher struct {
	rdb     publisher
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.NotificationMetrics
}

var _ domain.PollNotifier = (*PollPublisher)(nil)

// NewPollPublisher builds the publisher. m may be nil.
func NewPollPublisher(rdb publisher, m *metrics.NotificationMetrics) *PollPublisher {
	return newPollPublisher(rdb, m, 30*time.Second)
}

func newPollPublisher(rdb publisher, m *metrics.NotificationMetrics, openTimeout time.Duration) *PollPublisher {
	p := &PollPublisher{rdb: rdb, metrics: m}
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "poll-publisher",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			m.SetBreakerState(breakerStateValue(to))
		},
	})
	return p
}

func (p *PollPublisher) PublishPollEvent(ctx context.Context, event domain.PollEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal poll event: %w", err)
	}

	_, err = p.cb.Execute(func() (any, error) {
		return nil, p.rdb.Publish(ctx, ChannelForChat(event.ChatID), payload).Err()
	})
	if err != nil {
		p.metrics.Failure(string(event.Type))
		return fmt.Errorf("failed to publish poll event: %w", err)
	}

	p.metrics.Success(string(event.Type))
	return nil
}

// State reports the breaker state for health checks.
func (p *PollPublisher) State() gobreaker.State {
	return p.cb.State()
}

func breakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
