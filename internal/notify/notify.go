// Package notify announces finished pipeline runs.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Summary is what a notifier reports about one run.
type Summary struct {
	RunID             string
	Method            string
	Stage             string
	Total             int
	Failed            int
	ByCategory        map[string]int
	ByRiskLevel       map[string]int
	RequiringResponse int
	HighRisk          []string
	Error             string
	Duration          time.Duration
}

type Notifier interface {
	Notify(ctx context.Context, s Summary) error
}

// NopNotifier drops every summary.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Summary) error { return nil }

// TelegramNotifier posts summaries to one chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("Authorized on telegram account", zap.String("username", api.Self.UserName))

	return &TelegramNotifier{
		api:    api,
		chatID: chatID,
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, s Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, Format(s))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("Failed to send run summary",
			zap.Error(err),
			zap.Int64("chat_id", n.chatID),
			zap.String("run_id", s.RunID))
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// Format renders s as MarkdownV2.
func Format(s Summary) string {
	var b strings.Builder
	if s.Error != "" {
		fmt.Fprintf(&b, "⚠️ *Mail run failed*\n%s\n", escapeMarkdown(s.Error))
		fmt.Fprintf(&b, "Run: `%s`\n", escapeMarkdown(s.RunID))
		return b.String()
	}

	fmt.Fprintf(&b, "📬 *Mail run complete*\n")
	fmt.Fprintf(&b, "Run: `%s`\n", escapeMarkdown(s.RunID))
	fmt.Fprintf(&b, "%s\n", escapeMarkdown(fmt.Sprintf("%d messages, method %s, %s", s.Total, s.Method, s.Duration.Round(time.Second))))
	if s.Failed > 0 {
		fmt.Fprintf(&b, "%s\n", escapeMarkdown(fmt.Sprintf("%d messages failed", s.Failed)))
	}

	if len(s.ByCategory) > 0 {
		b.WriteString("\n*Categories*\n")
		for _, k := range sortedKeys(s.ByCategory) {
			fmt.Fprintf(&b, "%s\n", escapeMarkdown(fmt.Sprintf("• %s: %d", k, s.ByCategory[k])))
		}
	}
	if len(s.ByRiskLevel) > 0 {
		b.WriteString("\n*Risk*\n")
		for _, level := range []string{"high", "medium", "low", "safe"} {
			if n := s.ByRiskLevel[level]; n > 0 {
				fmt.Fprintf(&b, "%s\n", escapeMarkdown(fmt.Sprintf("• %s: %d", level, n)))
			}
		}
	}
	for _, subject := range s.HighRisk {
		fmt.Fprintf(&b, "🚨 _%s_\n", escapeMarkdown(subject))
	}
	if s.RequiringResponse > 0 {
		fmt.Fprintf(&b, "\n%s\n", escapeMarkdown(fmt.Sprintf("%d replies drafted for review", s.RequiringResponse)))
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

// escapeMarkdown escapes the MarkdownV2 special characters.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
