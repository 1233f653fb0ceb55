// Package fetch wraps the timeline client with bounded concurrency and a
// duration-capped retry loop.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"dfobot/internal/neople"
	logx "dfobot/pkg/logx"
)

// ErrExhausted marks a permanent failure for one character-cycle: every
// attempt failed until the retry ceiling elapsed. The cycle moves on and
// the watermark still advances, so a persistently broken window is never
// reprocessed forever.
var ErrExhausted = errors.New("fetch: retry ceiling exceeded")

// TimelineFetcher is the remote client contract.
type TimelineFetcher interface {
	Timeline(ctx context.Context, serverID, characterID string, start, end time.Time) ([]neople.TimelineEvent, error)
}

type Config struct {
	// Interval between attempts. Fixed, no backoff: the API either works
	// or is down for maintenance, and maintenance windows are long.
	Interval time.Duration
	// Ceiling is the wall-clock cap on one fetch+retry sequence.
	Ceiling time.Duration
}

// Retrier retries timeline fetches until success or the ceiling.
type Retrier struct {
	client TimelineFetcher
	cfg    Config
	log    logx.Logger
}

func NewRetrier(client TimelineFetcher, cfg Config, log logx.Logger) *Retrier {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 7 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retrier{client: client, cfg: cfg, log: log}
}

// Timeline fetches a character's timeline window, retrying any failure
// (transport errors, non-200s, malformed bodies) at a fixed interval until
// the ceiling elapses. Exhaustion returns an error wrapping ErrExhausted.
func (r *Retrier) Timeline(ctx context.Context, serverID, characterID string, start, end time.Time) ([]neople.TimelineEvent, error) {
	dctx, cancel := context.WithTimeout(ctx, r.cfg.Ceiling)
	defer cancel()

	var rows []neople.TimelineEvent
	err := retry.Do(
		func() error {
			var err error
			rows, err = r.client.Timeline(dctx, serverID, characterID, start, end)
			return err
		},
		retry.Context(dctx),
		retry.Attempts(0), // no attempt cap; the ceiling decides
		retry.Delay(r.cfg.Interval),
		retry.MaxDelay(r.cfg.Interval),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.log.Warn("timeline fetch failed, will retry",
				logx.String("character_id", characterID),
				logx.Int64("attempt", int64(n)+1),
				logx.Err(err))
		}),
	)
	if err != nil {
		if dctx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w (%s): %v", ErrExhausted, r.cfg.Ceiling, err)
		}
		return nil, err
	}
	return rows, nil
}
