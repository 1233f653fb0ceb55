// Package telegram delivers watcher output to Telegram chats via telebot.
//
// Routing: each adventure may have its own output channel row; everything
// else goes to the "default" row. A missing route drops the message (the
// watcher treats delivery as fire-and-forget either way).
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tele "gopkg.in/telebot.v4"

	"dfobot/internal/sink"
	"dfobot/internal/storage"
	logx "dfobot/pkg/logx"
)

type Config struct {
	Token string
}

// ChannelResolver is the output_channels read contract.
type ChannelResolver interface {
	OutputChannel(ctx context.Context, scope string) (storage.ChatRef, bool, error)
}

type Sink struct {
	bot      *tele.Bot
	channels ChannelResolver
	log      logx.Logger
}

var _ sink.Sink = (*Sink)(nil)

func New(cfg Config, channels ChannelResolver, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Sink{bot: b, channels: channels, log: log}, nil
}

// rarityBadge mirrors the accent colors the original report used per tier.
func rarityBadge(rarity string) string {
	switch rarity {
	case "레전더리":
		return "🟠"
	case "에픽":
		return "🟡"
	case "태초":
		return "🔵"
	default:
		return "⚪"
	}
}

func (s *Sink) AnnounceItem(ctx context.Context, a sink.Announcement) error {
	ref, ok, err := s.resolve(ctx, a.AdventureName)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("no output channel for adventure, dropping announcement",
			logx.String("adventure", a.AdventureName))
		return nil
	}

	return s.send(ref, formatAnnouncement(a))
}

func (s *Sink) PublishRanking(ctx context.Context, r sink.Report) error {
	ref, ok, err := s.resolve(ctx, storage.DefaultChannelScope)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Warn("no default output channel, dropping ranking report")
		return nil
	}

	return s.send(ref, formatRanking(r))
}

func formatAnnouncement(a sink.Announcement) string {
	return fmt.Sprintf("%s <b>%s</b> 모험단의 %s 모험가가 %s[%s](을)를 획득했습니다.\n<i>%s</i>",
		rarityBadge(a.ItemRarity),
		html.EscapeString(a.AdventureName),
		html.EscapeString(a.CharacterName),
		html.EscapeString(a.ItemName),
		html.EscapeString(a.ItemRarity),
		a.OccurredAt.Format("2006.01.02(15:04)"),
	)
}

func formatRanking(r sink.Report) string {
	var b strings.Builder
	b.WriteString("<b>모험단 일간 아이템 획득량 순위</b>\n")
	fmt.Fprintf(&b, "기준 시각: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	if len(r.Entries) == 0 {
		b.WriteString("\n집계된 획득 내역이 없습니다.")
	}
	for i, e := range r.Entries {
		fmt.Fprintf(&b, "\n%d위 <b>%s</b> 점수: %d (태초:%d, 에픽:%d, 레전더리:%d)",
			i+1,
			html.EscapeString(e.AdventureName),
			e.Score,
			e.Counts["태초"], e.Counts["에픽"], e.Counts["레전더리"],
		)
	}
	return b.String()
}

func (s *Sink) resolve(ctx context.Context, scope string) (storage.ChatRef, bool, error) {
	ref, ok, err := s.channels.OutputChannel(ctx, scope)
	if err != nil {
		return storage.ChatRef{}, false, fmt.Errorf("resolve output channel: %w", err)
	}
	if ok {
		return ref, true, nil
	}
	if scope == storage.DefaultChannelScope {
		return storage.ChatRef{}, false, nil
	}
	// Fall back to the default route.
	ref, ok, err = s.channels.OutputChannel(ctx, storage.DefaultChannelScope)
	if err != nil {
		return storage.ChatRef{}, false, fmt.Errorf("resolve output channel: %w", err)
	}
	return ref, ok, nil
}

func (s *Sink) send(ref storage.ChatRef, text string) error {
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              ref.ThreadID,
	}
	_, err := s.bot.Send(tele.ChatID(ref.ChatID), text, opts)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
