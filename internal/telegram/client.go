// Package telegram sends signal, trade and health notifications via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jwtly10/metalsbot/internal/types"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Controller is the kill switch the chat commands drive.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
}

// Client handles Telegram notifications.
type Client struct {
	api            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.api = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands polls for /ping, /status, /pause and /resume until ctx is
// cancelled. It returns immediately.
func (c *Client) ListenForCommands(ctx context.Context, ctl Controller) {
	if c.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() && update.Message.Chat.ID == c.chatID {
					c.reply(c.handleCommand(update.Message.Command(), ctl))
				}
			}
		}
	}()
}

func (c *Client) handleCommand(command string, ctl Controller) string {
	switch command {
	case "ping":
		return "Pong"
	case "status":
		if ctl.Paused() {
			return "Engine paused"
		}
		return "Engine running"
	case "pause":
		ctl.Pause()
		slog.Warn("Engine paused from Telegram")
		return "Engine paused"
	case "resume":
		ctl.Resume()
		slog.Info("Engine resumed from Telegram")
		return "Engine running"
	}
	return ""
}

func (c *Client) reply(text string) {
	if text == "" {
		return
	}
	c.sender.Send(tgbotapi.NewMessage(c.chatID, text)) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Engine error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Engine recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

func (c *Client) SendSignal(sig types.Signal) error {
	return c.sendMarkdownV2(formatSignal(sig))
}

func (c *Client) SendTrade(trade types.JournalTrade) error {
	return c.sendMarkdownV2(formatTrade(trade))
}

func formatSignal(sig types.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🟢 *%s %s* @ %s\n", escapeMarkdownV2(string(sig.Action)), escapeMarkdownV2(sig.Symbol), money(sig.Price))
	if sig.Action == types.BUY {
		fmt.Fprintf(&b, "Stop %s · Target %s · %d shares\n", money(sig.Stop), money(sig.Target), sig.Shares)
	}
	fmt.Fprintf(&b, "Confidence %d%% · VIX %s\n", sig.ConfidenceAdj, escapeMarkdownV2(fmt.Sprintf("%.1f", sig.Vix)))
	if len(sig.ReasonCodes) > 0 {
		fmt.Fprintf(&b, "`%s`\n", escapeMarkdownV2(strings.Join(sig.ReasonCodes, ", ")))
	}
	fmt.Fprintf(&b, "📅 %s", escapeMarkdownV2(sig.Timestamp.UTC().Format("2006-01-02 15:04:05")))
	return b.String()
}

func formatTrade(trade types.JournalTrade) string {
	emoji := "📉"
	if trade.PnL > 0 {
		emoji = "📈"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *Closed %s* %s\n", emoji, escapeMarkdownV2(trade.Symbol), escapeMarkdownV2(string(trade.Outcome)))
	fmt.Fprintf(&b, "Entry %s → Exit %s · %d shares\n", money(trade.Entry), money(trade.Exit), trade.Shares)
	fmt.Fprintf(&b, "P&L *%s* \\(%sR\\)", money(trade.PnL), escapeMarkdownV2(fmt.Sprintf("%.2f", trade.RMultiple)))
	if trade.Rationale != "" {
		fmt.Fprintf(&b, "\n`%s`", escapeMarkdownV2(trade.Rationale))
	}
	return b.String()
}

func money(v float64) string {
	return escapeMarkdownV2(fmt.Sprintf("$%.2f", v))
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
