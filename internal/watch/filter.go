package watch

import (
	"context"
	"sync"
	"time"

	"dfobot/internal/neople"
	logx "dfobot/pkg/logx"
)

// selection is the result of filtering one timeline.
type selection struct {
	// events that qualified, in delivered order.
	events []neople.TimelineEvent
	// newest occurredAt among ALL parseable rows, qualified or not.
	newest time.Time
}

// selectQualifying keeps events that (a) carry an item resolving to the
// target level, (b) have a rarity in allowed, and (c) occurred strictly
// after newerThan (zero disables the bound). Eligibility lookups for one
// timeline fan out under the item gate. A failed lookup excludes that
// event only - the rest of the timeline is still processed.
func (w *Watcher) selectQualifying(ctx context.Context, rows []neople.TimelineEvent, allowed map[string]bool, newerThan time.Time) selection {
	var sel selection
	if len(rows) == 0 {
		return sel
	}

	type candidate struct {
		idx int
		ev  neople.TimelineEvent
	}
	var candidates []candidate

	for i, ev := range rows {
		at, err := ev.OccurredAt()
		if err != nil {
			w.log.Warn("timeline row has unparseable date",
				logx.String("date", ev.Date), logx.Int("code", ev.Code))
			continue
		}
		if at.After(sel.newest) {
			sel.newest = at
		}
		if ev.Data.ItemID == "" {
			continue
		}
		if !allowed[ev.Data.ItemRarity] {
			continue
		}
		if !newerThan.IsZero() && !at.After(newerThan) {
			continue
		}
		candidates = append(candidates, candidate{idx: i, ev: ev})
	}
	if len(candidates) == 0 {
		return sel
	}

	qualified := make([]bool, len(rows))
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()
			if err := w.itemGate.Acquire(ctx); err != nil {
				return
			}
			defer w.itemGate.Release()

			level, ok := w.cache.Resolve(ctx, c.ev.Data.ItemID)
			if !ok {
				// Unknown eligibility fails closed; the lookup is not
				// cached and will be retried next time the item shows up.
				return
			}
			if level == w.cfg.TargetLevel {
				qualified[c.idx] = true
			}
		}(c)
	}
	wg.Wait()

	for i, ev := range rows {
		if qualified[i] {
			sel.events = append(sel.events, ev)
		}
	}
	return sel
}
