package watch

import (
	"context"
	"errors"
	"sync"
	"time"

	"dfobot/internal/itemcache"
	"dfobot/internal/neople"
	"dfobot/internal/sink"
	"dfobot/internal/storage"
	logx "dfobot/pkg/logx"
)

// memStore is an in-memory storage.Store for tests.
type memStore struct {
	mu         sync.Mutex
	chars      []storage.Character
	levels     map[string]int
	watermarks map[string]string
	runs       []string
	channels   map[string]storage.ChatRef

	watermarkErr error
}

func newMemStore() *memStore {
	return &memStore{
		levels:     map[string]int{},
		watermarks: map[string]string{},
		channels:   map[string]storage.ChatRef{},
	}
}

func (m *memStore) Characters(context.Context) ([]storage.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Character(nil), m.chars...), nil
}

func (m *memStore) CharactersByAdventure(context.Context) (map[string][]storage.Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]storage.Character{}
	for _, c := range m.chars {
		out[c.AdventureName] = append(out[c.AdventureName], c)
	}
	return out, nil
}

func (m *memStore) SaveCharacter(_ context.Context, c storage.Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chars = append(m.chars, c)
	return nil
}

func (m *memStore) ItemLevel(_ context.Context, itemID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.levels[itemID]
	return level, ok, nil
}

func (m *memStore) PutItemLevel(_ context.Context, itemID string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[itemID] = level
	return nil
}

func (m *memStore) AllItemLevels(context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.levels))
	for k, v := range m.levels {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Watermark(_ context.Context, characterID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watermarkErr != nil {
		return "", false, m.watermarkErr
	}
	s, ok := m.watermarks[characterID]
	return s, ok, nil
}

func (m *memStore) PutWatermark(_ context.Context, characterID, stamp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[characterID] = stamp
	return nil
}

func (m *memStore) LastAggregationRun(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return "", false, nil
	}
	return m.runs[len(m.runs)-1], true, nil
}

func (m *memStore) AppendAggregationRun(_ context.Context, stamp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, stamp)
	return nil
}

func (m *memStore) OutputChannel(_ context.Context, scope string) (storage.ChatRef, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.channels[scope]
	return ref, ok, nil
}

func (m *memStore) SetOutputChannel(_ context.Context, scope string, ref storage.ChatRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[scope] = ref
	return nil
}

func (m *memStore) Close() error { return nil }

// memSink records deliveries.
type memSink struct {
	mu            sync.Mutex
	announcements []sink.Announcement
	reports       []sink.Report
	publishErr    error
}

func (s *memSink) AnnounceItem(_ context.Context, a sink.Announcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announcements = append(s.announcements, a)
	return nil
}

func (s *memSink) PublishRanking(_ context.Context, r sink.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.reports = append(s.reports, r)
	return nil
}

func (s *memSink) announced() []sink.Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Announcement(nil), s.announcements...)
}

// stubTimeline serves canned rows per character id.
type stubTimeline struct {
	mu      sync.Mutex
	rows    map[string][]neople.TimelineEvent
	err     error
	windows map[string][][2]time.Time
}

func newStubTimeline() *stubTimeline {
	return &stubTimeline{
		rows:    map[string][]neople.TimelineEvent{},
		windows: map[string][][2]time.Time{},
	}
}

func (f *stubTimeline) Timeline(_ context.Context, _, characterID string, start, end time.Time) ([]neople.TimelineEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[characterID] = append(f.windows[characterID], [2]time.Time{start, end})
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[characterID], nil
}

func (f *stubTimeline) lastWindow(characterID string) ([2]time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := f.windows[characterID]
	if len(ws) == 0 {
		return [2]time.Time{}, false
	}
	return ws[len(ws)-1], true
}

// failFetcher backs the item cache's remote tier in tests.
type failFetcher struct {
	levels map[string]int
}

func (f *failFetcher) ItemAvailableLevel(_ context.Context, itemID string) (int, error) {
	if f.levels == nil {
		return 0, errors.New("remote unavailable")
	}
	level, ok := f.levels[itemID]
	if !ok {
		return 0, errors.New("remote unavailable")
	}
	return level, nil
}

type fixture struct {
	store    *memStore
	sink     *memSink
	timeline *stubTimeline
	watcher  *Watcher
	now      time.Time
}

// newFixture builds a Watcher over in-memory fakes. Item levels come from
// the store via the cache; seed them with store.PutItemLevel.
func newFixture(cfg Config) *fixture {
	store := newMemStore()
	snk := &memSink{}
	tl := newStubTimeline()
	cache := itemcache.New(store, &failFetcher{}, logx.Nop())
	w := New(cfg, store, cache, tl, tl, snk, logx.Nop())

	now := time.Date(2025, 3, 9, 12, 30, 0, 0, neople.KST)
	w.now = func() time.Time { return now }

	return &fixture{store: store, sink: snk, timeline: tl, watcher: w, now: now}
}

func itemEvent(date, itemID, name, rarity string) neople.TimelineEvent {
	return neople.TimelineEvent{
		Code: 505,
		Name: "아이템 획득",
		Date: date,
		Data: neople.EventData{ItemID: itemID, ItemName: name, ItemRarity: rarity},
	}
}
