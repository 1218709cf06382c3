package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Breaker wraps a Backend in a circuit breaker. While the circuit is
// open, Get reports a miss-with-error and writes are dropped, so
// callers fall through to computing fresh results.
type Breaker struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewBreaker(backend Backend, log zerolog.Logger) *Breaker {
	b := &Breaker{
		backend: backend,
		log:     log.With().Str("component", "cache_breaker").Logger(),
	}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("cache circuit state changed")
		},
	})
	return b
}

type getResult struct {
	value []byte
	ok    bool
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		v, ok, err := b.backend.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return getResult{value: v, ok: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := out.(getResult)
	return res.value, res.ok, nil
}

func (b *Breaker) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.backend.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *Breaker) Delete(ctx context.Context, keys ...string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.backend.Delete(ctx, keys...)
	})
	return err
}

func (b *Breaker) Incr(ctx context.Context, key string) (int64, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.backend.Incr(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

func (b *Breaker) Ping(ctx context.Context) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.backend.Ping(ctx)
	})
	return err
}

func (b *Breaker) Close() error { return b.backend.Close() }
