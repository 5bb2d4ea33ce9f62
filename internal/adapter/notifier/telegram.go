package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bbscout/dbbackup/internal/domain"
)

// requestTimeout bounds every Bot API call, including the getMe made at
// construction.
const requestTimeout = 15 * time.Second

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier reports run outcomes to a chat. Failures are always sent;
// successes only when notifySuccess is set.
type TelegramNotifier struct {
	bot           sender
	chatID        int64
	notifySuccess bool
}

func NewTelegram(botToken, chatID string, notifySuccess bool) (*TelegramNotifier, error) {
	return newTelegram(botToken, chatID, notifySuccess, tgbotapi.APIEndpoint, &http.Client{Timeout: requestTimeout})
}

func newTelegram(botToken, chatID string, notifySuccess bool, endpoint string, client *http.Client) (*TelegramNotifier, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return newTelegramWithSender(bot, id, notifySuccess), nil
}

func newTelegramWithSender(bot sender, chatID int64, notifySuccess bool) *TelegramNotifier {
	return &TelegramNotifier{
		bot:           bot,
		chatID:        chatID,
		notifySuccess: notifySuccess,
	}
}

func (t *TelegramNotifier) Notify(ctx context.Context, result *domain.RunResult) error {
	if result == nil {
		return nil
	}
	if result.Err == nil && !t.notifySuccess {
		return nil
	}

	msg := tgbotapi.NewMessage(t.chatID, formatResult(result))

	// The Bot API client takes no context. A send that outlives ctx is
	// abandoned and finishes on its own within requestTimeout.
	sent := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		sent <- err
	}()

	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("failed to send telegram notification: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram notification abandoned: %w", ctx.Err())
	}
}

func formatResult(result *domain.RunResult) string {
	var b strings.Builder

	if result.Err != nil {
		b.WriteString("❌ Backup Failed\n\n")
		fmt.Fprintf(&b, "🧩 Stage: %s\n", domain.StageName(domain.StageOf(result.Err)))
	} else {
		b.WriteString("✅ Backup Created\n\n")
	}

	fmt.Fprintf(&b, "🆔 Run: %s\n", result.RunID)
	if result.Connection.Database != "" {
		fmt.Fprintf(&b, "🗄 Database: %s\n", result.Connection.Redacted())
	}
	if result.Artifact != nil {
		fmt.Fprintf(&b, "📁 File: %s\n", result.Artifact.Name)
		fmt.Fprintf(&b, "📊 Size: %.2f MB\n", float64(result.Artifact.Size)/(1024*1024))
	}
	fmt.Fprintf(&b, "⏱ Duration: %s\n", result.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "🕐 Time: %s", result.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST"))

	if len(result.Pruned) > 0 {
		fmt.Fprintf(&b, "\n🧹 Pruned: %d", len(result.Pruned))
	}
	if result.RetentionErr != nil {
		fmt.Fprintf(&b, "\n⚠️ Retention: %v", result.RetentionErr)
	}
	if result.Err != nil {
		fmt.Fprintf(&b, "\n\n%v", result.Err)
	}

	return b.String()
}
