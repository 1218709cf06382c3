package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Loader is the read-through entry point. Concurrent misses on the same
// key are coalesced into one computation; backend failures degrade to
// computing without caching.
type Loader struct {
	backend Backend
	group   singleflight.Group
	log     zerolog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	sets     atomic.Int64
	degraded atomic.Int64
}

func NewLoader(backend Backend, log zerolog.Logger) *Loader {
	return &Loader{
		backend: backend,
		log:     log.With().Str("component", "cache_loader").Logger(),
	}
}

// GetOrCompute returns the cached value under key, computing and
// storing it on a miss. fromCache reports whether the bytes came from
// the backend. compute errors propagate; cache errors do not.
func (l *Loader) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) (value []byte, fromCache bool, err error) {
	cached, ok, err := l.backend.Get(ctx, key)
	if err != nil {
		l.degraded.Add(1)
		l.log.Debug().Err(err).Str("key", key).Msg("cache read degraded")
	} else if ok {
		l.hits.Add(1)
		return cached, true, nil
	} else {
		l.misses.Add(1)
	}

	out, err, _ := l.group.Do(key, func() (interface{}, error) {
		fresh, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := l.backend.Set(ctx, key, fresh, ttl); err != nil {
			l.degraded.Add(1)
			l.log.Debug().Err(err).Str("key", key).Msg("cache write degraded")
		} else {
			l.sets.Add(1)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, false, err
	}
	return out.([]byte), false, nil
}

// Stats snapshots the loader counters.
func (l *Loader) Stats() Stats {
	return Stats{
		Hits:     l.hits.Load(),
		Misses:   l.misses.Load(),
		Sets:     l.sets.Load(),
		Degraded: l.degraded.Load(),
	}
}
