package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"dfobot/internal/sink"
	"dfobot/internal/storage"
	logx "dfobot/pkg/logx"
)

// RunDailyAggregation fetches the window for every tracked character,
// counts qualifying acquisitions per adventure, scores and ranks them, and
// publishes the report. Counter increments are commutative, so the
// unordered fan-out cannot change the result.
func (w *Watcher) RunDailyAggregation(ctx context.Context, start, end time.Time) error {
	grouped, err := w.store.CharactersByAdventure(ctx)
	if err != nil {
		w.log.Error("listing characters failed", logx.Err(err))
		return err
	}
	if len(grouped) == 0 {
		w.log.Info("no registered characters, skipping daily aggregation")
		return nil
	}

	w.log.Info("daily aggregation started",
		logx.Time("window_start", start), logx.Time("window_end", end),
		logx.Int("adventures", len(grouped)))

	countable := make(map[string]bool, len(w.cfg.Weights))
	for rarity := range w.cfg.Weights {
		countable[rarity] = true
	}

	var (
		mu     sync.Mutex
		order  []string
		counts = map[string]map[string]int{}
		wg     sync.WaitGroup
	)
	bump := func(adventure, rarity string) {
		mu.Lock()
		defer mu.Unlock()
		bucket := counts[adventure]
		if bucket == nil {
			bucket = map[string]int{}
			counts[adventure] = bucket
			order = append(order, adventure)
		}
		bucket[rarity]++
	}

	for adventure, chars := range grouped {
		for _, ch := range chars {
			wg.Add(1)
			go func(adventure string, ch storage.Character) {
				defer wg.Done()
				if err := w.dailyGate.Acquire(ctx); err != nil {
					return
				}
				defer w.dailyGate.Release()

				rows, err := w.dailyF.Timeline(ctx, ch.ServerID, ch.ID, start, end)
				if err != nil {
					w.log.Warn("daily timeline fetch gave up",
						logx.String("character", ch.Name), logx.Err(err))
					return
				}
				sel := w.selectQualifying(ctx, rows, countable, time.Time{})
				for _, ev := range sel.events {
					bump(adventure, ev.Data.ItemRarity)
				}
			}(adventure, ch)
		}
	}
	wg.Wait()

	entries := make([]sink.RankEntry, 0, len(order))
	for _, adventure := range order {
		bucket := counts[adventure]
		score := 0
		for rarity, n := range bucket {
			score += w.cfg.Weights[rarity] * n
		}
		entries = append(entries, sink.RankEntry{
			AdventureName: adventure,
			Score:         score,
			Counts:        bucket,
		})
	}
	// Descending by score; ties keep first-encountered order.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	report := sink.Report{
		GeneratedAt: w.now().In(start.Location()),
		WindowStart: start,
		WindowEnd:   end,
		Entries:     entries,
	}
	if err := w.out.PublishRanking(ctx, report); err != nil {
		w.log.Error("ranking report delivery failed", logx.Err(err))
		return err
	}

	w.log.Info("daily aggregation published", logx.Int("entries", len(entries)))
	return nil
}
