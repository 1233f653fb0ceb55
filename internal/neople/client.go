// Package neople is a thin client for the Neople DFO open API.
//
// Only the endpoints the watcher needs are covered: character timelines
// (with transparent pagination), item metadata, and character search/detail
// used by registration tooling.
package neople

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	logx "dfobot/pkg/logx"
)

const DefaultBaseURL = "https://api.neople.co.kr/df"

// DefaultTimelineCodes selects the item-acquisition event types.
const DefaultTimelineCodes = "504,505,507,508,513"

const (
	defaultTimelineLimit = 100
	// maxTimelinePages caps the continuation loop; the API window is at most
	// a day of events per request, so this is far above anything realistic.
	maxTimelinePages = 50
)

// APIError is a non-200 response from the API. It is distinguishable from
// transport errors so callers can log status codes, but both are retryable
// failures as far as the fetch engine is concerned.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	b := e.Body
	if len(b) > 200 {
		b = b[:200]
	}
	return fmt.Sprintf("neople: status %d: %s", e.Status, b)
}

var ErrMissingAPIKey = errors.New("neople: api key is required")

type Config struct {
	APIKey  string
	BaseURL string        // default DefaultBaseURL
	Timeout time.Duration // per-request; default 10s

	// RatePerSec throttles all outgoing requests. The open API enforces a
	// per-key quota; staying under it beats getting 429s.
	RatePerSec int

	// TimelineCodes is the comma-separated event-type filter sent to the
	// timeline endpoint. Empty means DefaultTimelineCodes.
	TimelineCodes string
	TimelineLimit int
}

type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	apiKey  string
	codes   string
	limit   int
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	codes := strings.TrimSpace(cfg.TimelineCodes)
	if codes == "" {
		codes = DefaultTimelineCodes
	}
	limit := cfg.TimelineLimit
	if limit <= 0 {
		limit = defaultTimelineLimit
	}

	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout)

	return &Client{
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		apiKey:  cfg.APIKey,
		codes:   codes,
		limit:   limit,
		log:     log,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("apikey", c.apiKey)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}

	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("neople: get %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return &APIError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("neople: decode %s: %w", path, err)
	}
	return nil
}

// Timeline fetches all timeline rows for a character between start and end
// (inclusive window, minute precision). Continuation pages indicated by the
// "next" token are followed transparently; rows are concatenated in the
// order the API delivers them.
func (c *Client) Timeline(ctx context.Context, serverID, characterID string, start, end time.Time) ([]TimelineEvent, error) {
	params := map[string]string{
		"startDate": FormatStamp(start),
		"endDate":   FormatStamp(end),
		"code":      c.codes,
		"limit":     strconv.Itoa(c.limit),
	}

	path := fmt.Sprintf("/servers/%s/characters/%s/timeline", serverID, characterID)

	var rows []TimelineEvent
	next := ""
	for page := 0; page < maxTimelinePages; page++ {
		if next != "" {
			params["next"] = next
		}
		var tr timelineResponse
		if err := c.get(ctx, path, params, &tr); err != nil {
			return nil, err
		}
		rows = append(rows, tr.Timeline.Rows...)
		next = tr.Timeline.Next
		if next == "" {
			return rows, nil
		}
		c.log.Debug("timeline has more rows, following continuation",
			logx.String("character_id", characterID), logx.Int("page", page+1))
	}
	return nil, fmt.Errorf("neople: timeline for %s exceeded %d pages", characterID, maxTimelinePages)
}

// ItemAvailableLevel fetches the equip level of a single item.
func (c *Client) ItemAvailableLevel(ctx context.Context, itemID string) (int, error) {
	var ir itemResponse
	if err := c.get(ctx, "/items/"+itemID, nil, &ir); err != nil {
		return 0, err
	}
	return ir.ItemAvailableLevel, nil
}

// SearchCharacters looks a character name up on a server ("all" searches
// every server).
func (c *Client) SearchCharacters(ctx context.Context, serverID, characterName string) ([]CharacterSummary, error) {
	var sr searchResponse
	params := map[string]string{"characterName": characterName}
	if err := c.get(ctx, fmt.Sprintf("/servers/%s/characters", serverID), params, &sr); err != nil {
		return nil, err
	}
	return sr.Rows, nil
}

// Character fetches the full record for one character.
func (c *Client) Character(ctx context.Context, serverID, characterID string) (*CharacterDetail, error) {
	var cd CharacterDetail
	if err := c.get(ctx, fmt.Sprintf("/servers/%s/characters/%s", serverID, characterID), nil, &cd); err != nil {
		return nil, err
	}
	return &cd, nil
}

// CharacterImageURL returns the render URL for a character portrait.
func CharacterImageURL(serverID, characterID string, zoom int) string {
	if zoom < 1 || zoom > 3 {
		zoom = 1
	}
	return fmt.Sprintf("https://img-api.neople.co.kr/df/servers/%s/characters/%s?zoom=%d", serverID, characterID, zoom)
}
