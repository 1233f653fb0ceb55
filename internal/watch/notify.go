package watch

import (
	"context"
	"sync"
	"time"

	"dfobot/internal/neople"
	"dfobot/internal/sink"
	"dfobot/internal/storage"
	logx "dfobot/pkg/logx"
)

// RunNotifyCycle polls every tracked character once and announces each new
// qualifying event. Characters fan out under the fetch gate; each
// character's watermark is written only from its own goroutine.
func (w *Watcher) RunNotifyCycle(ctx context.Context) error {
	chars, err := w.store.Characters(ctx)
	if err != nil {
		w.log.Error("listing characters failed", logx.Err(err))
		return err
	}
	if len(chars) == 0 {
		w.log.Debug("no registered characters, skipping notify cycle")
		return nil
	}

	now := w.now().In(neople.KST).Truncate(time.Minute)
	w.log.Info("notify cycle started",
		logx.Int("characters", len(chars)), logx.Time("at", now))

	var wg sync.WaitGroup
	for _, ch := range chars {
		wg.Add(1)
		go func(ch storage.Character) {
			defer wg.Done()
			if err := w.fetchGate.Acquire(ctx); err != nil {
				return
			}
			defer w.fetchGate.Release()
			w.notifyCharacter(ctx, ch, now)
		}(ch)
	}
	wg.Wait()

	w.log.Info("notify cycle finished")
	return nil
}

func (w *Watcher) notifyCharacter(ctx context.Context, ch storage.Character, now time.Time) {
	start := w.windowStart(ctx, ch.ID, now)
	end := now

	rows, err := w.notifyF.Timeline(ctx, ch.ServerID, ch.ID, start, end)
	if err != nil {
		// Permanent failure for this character-cycle. The watermark still
		// advances: never blocking on one broken window beats
		// re-announcing it forever.
		w.log.Warn("timeline fetch gave up",
			logx.String("character", ch.Name), logx.Err(err))
		w.putWatermark(ctx, ch.ID, end)
		return
	}

	since, _ := w.seen.get(ch.ID)
	sel := w.selectQualifying(ctx, rows, w.allowSet, since)
	w.seen.advance(ch.ID, sel.newest)

	for _, ev := range sel.events {
		at, err := ev.OccurredAt()
		if err != nil {
			continue
		}
		a := sink.Announcement{
			AdventureName: ch.AdventureName,
			CharacterName: ch.Name,
			ItemName:      ev.Data.ItemName,
			ItemRarity:    ev.Data.ItemRarity,
			OccurredAt:    at,
		}
		if err := w.out.AnnounceItem(ctx, a); err != nil {
			// Fire-and-forget: log and move on, no redelivery.
			w.log.Warn("announcement delivery failed",
				logx.String("character", ch.Name),
				logx.String("item", ev.Data.ItemName), logx.Err(err))
		}
	}
	if n := len(sel.events); n > 0 {
		w.log.Info("announced new items",
			logx.String("character", ch.Name), logx.Int("count", n))
	}

	w.putWatermark(ctx, ch.ID, end)
}

// windowStart resolves the poll window lower bound: the persisted
// watermark when present, else the configured lookback.
func (w *Watcher) windowStart(ctx context.Context, characterID string, now time.Time) time.Time {
	stamp, ok, err := w.store.Watermark(ctx, characterID)
	if err != nil {
		w.log.Warn("watermark read failed", logx.String("character_id", characterID), logx.Err(err))
	}
	if ok {
		if t, perr := neople.ParseStamp(stamp); perr == nil {
			return t
		}
		w.log.Warn("watermark stamp is malformed, using lookback",
			logx.String("character_id", characterID), logx.String("stamp", stamp))
	}
	return now.Add(-w.cfg.Lookback)
}

// putWatermark persists the processed-through stamp, keeping whichever of
// the stored and incoming stamps is newer: a cycle that finishes late must
// not roll the watermark back behind one that already moved it forward. A
// write failure is logged and dropped; the next cycle may reprocess the
// same window, which the last-seen map makes idempotent.
func (w *Watcher) putWatermark(ctx context.Context, characterID string, end time.Time) {
	if stamp, ok, err := w.store.Watermark(ctx, characterID); err == nil && ok {
		if cur, perr := neople.ParseStamp(stamp); perr == nil && !end.After(cur) {
			return
		}
	}
	if err := w.store.PutWatermark(ctx, characterID, neople.FormatStamp(end)); err != nil {
		w.log.Warn("watermark write failed",
			logx.String("character_id", characterID), logx.Err(err))
	}
}
