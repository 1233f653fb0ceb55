package neople

import (
	"encoding/json"
	"time"
)

// Item rarities as returned by the API (Korean display strings are the
// canonical wire values).
const (
	RarityCommon    = "커먼"
	RarityUncommon  = "언커먼"
	RarityRare      = "레어"
	RarityUnique    = "유니크"
	RarityEpic      = "에픽"
	RarityLegendary = "레전더리"
	RarityPrimeval  = "태초"
)

// TimelineEvent is one row of a character timeline.
//
// Events are ephemeral: nothing here is persisted verbatim, only derived
// effects (notifications, counters) survive a cycle.
type TimelineEvent struct {
	Code int       `json:"code"`
	Name string    `json:"name"`
	Date string    `json:"date"` // "2006-01-02 15:04", KST
	Data EventData `json:"data"`

	// Raw keeps the undecoded row for diagnostics.
	Raw json.RawMessage `json:"-"`
}

func (e *TimelineEvent) UnmarshalJSON(b []byte) error {
	type alias TimelineEvent
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*e = TimelineEvent(a)
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// OccurredAt parses the event date in the fixed KST offset.
// Timeline dates carry minute precision only.
func (e *TimelineEvent) OccurredAt() (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04", e.Date, KST)
}

// EventData holds the per-event payload fields the watcher reads.
// ItemID is empty for non-item events.
type EventData struct {
	ItemID     string `json:"itemId"`
	ItemName   string `json:"itemName"`
	ItemRarity string `json:"itemRarity"`
}

type timelineResponse struct {
	CharacterID string `json:"characterId"`
	Timeline    struct {
		Next string          `json:"next"`
		Rows []TimelineEvent `json:"rows"`
	} `json:"timeline"`
}

type itemResponse struct {
	ItemID             string `json:"itemId"`
	ItemName           string `json:"itemName"`
	ItemRarity         string `json:"itemRarity"`
	ItemAvailableLevel int    `json:"itemAvailableLevel"`
}

// CharacterSummary is one row of a character search result.
type CharacterSummary struct {
	ServerID      string `json:"serverId"`
	CharacterID   string `json:"characterId"`
	CharacterName string `json:"characterName"`
	Level         int    `json:"level"`
	JobName       string `json:"jobName"`
	JobGrowName   string `json:"jobGrowName"`
}

type searchResponse struct {
	Rows []CharacterSummary `json:"rows"`
}

// CharacterDetail is the full character record, including the adventure
// (account group) name used as the ranking key.
type CharacterDetail struct {
	CharacterSummary
	AdventureName string `json:"adventureName"`
	GuildName     string `json:"guildName"`
}
