// Package telegram implements the Telegram integration: one adapter type
// serving both the input side (long-poll for messages, forward raw text)
// and the output side (formatted signal notifications). The input side
// does no parsing or classification; understanding is the AI's job.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// Channel configures one Telegram chat the adapter talks to.
type Channel struct {
	ID        string // logical channel id, e.g. "telegram:main"
	ChatID    int64
	Direction string // input, output, both
}

// Adapter is the Telegram input+output integration.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	channels []Channel

	mu        sync.Mutex
	callbacks []func(ctx context.Context, payload map[string]any)

	cancel context.CancelFunc
	done   chan struct{}
	log    *zap.Logger
}

// New creates the adapter and verifies the bot token against the API.
func New(botToken string, channels []Channel) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Adapter{
		bot:      bot,
		channels: channels,
		log:      logger.Named("telegram"),
	}, nil
}

func (a *Adapter) Name() string { return "telegram" }

func (a *Adapter) inputChannel(chatID int64) *Channel {
	for i := range a.channels {
		ch := &a.channels[i]
		if ch.ChatID == chatID && (ch.Direction == "input" || ch.Direction == "both") {
			return ch
		}
	}
	return nil
}

func (a *Adapter) outputChannels() []Channel {
	var out []Channel
	for _, ch := range a.channels {
		if ch.Direction == "output" || ch.Direction == "both" {
			out = append(out, ch)
		}
	}
	return out
}

// OnMessage registers a callback for incoming messages.
func (a *Adapter) OnMessage(callback func(ctx context.Context, payload map[string]any)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, callback)
}

// Start begins long-polling for updates.
func (a *Adapter) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updateCfg.AllowedUpdates = []string{"message"}
	updates := a.bot.GetUpdatesChan(updateCfg)

	go func() {
		defer close(a.done)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				a.processUpdate(pollCtx, update)
			}
		}
	}()

	a.log.Info("telegram input started", zap.Int("channels", len(a.channels)))
	return nil
}

// Stop halts polling.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.bot.StopReceivingUpdates()
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
		}
	}
	a.log.Info("telegram integration stopped")
	return nil
}

func (a *Adapter) processUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	channel := a.inputChannel(msg.Chat.ID)
	if channel == nil {
		return
	}

	fromUser := "unknown"
	if msg.From != nil {
		if msg.From.UserName != "" {
			fromUser = msg.From.UserName
		} else if msg.From.FirstName != "" {
			fromUser = msg.From.FirstName
		}
	}

	channelID := channel.ID
	if channelID == "" {
		channelID = strconv.FormatInt(msg.Chat.ID, 10)
	}

	// Package the raw message, no interpretation
	payload := map[string]any{
		"source":     "telegram",
		"channel_id": channelID,
		"chat_id":    strconv.FormatInt(msg.Chat.ID, 10),
		"text":       msg.Text,
		"from_user":  fromUser,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}

	a.mu.Lock()
	callbacks := append([]func(ctx context.Context, payload map[string]any){}, a.callbacks...)
	a.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("message callback panicked", zap.Any("panic", r))
				}
			}()
			cb(ctx, payload)
		}()
	}
}

// Send delivers a signal notification to every output channel.
func (a *Adapter) Send(ctx context.Context, signal *models.Signal, memo *models.InvestmentMemo) plugin.DeliveryResult {
	targets := a.outputChannels()
	if len(targets) == 0 {
		return plugin.DeliveryResult{
			Success: false,
			Adapter: a.Name(),
			Message: "No output channels configured",
		}
	}

	text := FormatSignalMessage(signal, memo)
	var errs []string
	for _, channel := range targets {
		if err := a.sendMessage(channel.ChatID, text); err != nil {
			a.log.Error("failed to send signal",
				zap.Int64("chat_id", channel.ChatID), zap.Error(err))
			errs = append(errs, err.Error())
			continue
		}
		a.log.Info("sent signal to channel",
			zap.String("channel", channel.ID),
			zap.String("signal_id", signal.ID))
	}

	result := plugin.DeliveryResult{Success: len(errs) == 0, Adapter: a.Name()}
	if len(errs) > 0 {
		result.Message = strings.Join(errs, "; ")
	} else {
		result.Message = "Delivered"
	}
	return result
}

// SendText sends raw text to one channel, or to every output channel
// when channelID is empty.
func (a *Adapter) SendText(ctx context.Context, channelID, text string) plugin.DeliveryResult {
	targets := a.outputChannels()
	if channelID != "" {
		targets = nil
		for _, ch := range a.channels {
			if ch.ID == channelID || strconv.FormatInt(ch.ChatID, 10) == channelID {
				targets = append(targets, ch)
			}
		}
	}
	if len(targets) == 0 {
		return plugin.DeliveryResult{
			Success: false,
			Adapter: a.Name(),
			Message: fmt.Sprintf("no channel matches %q", channelID),
		}
	}

	var errs []string
	for _, channel := range targets {
		if err := a.sendMessage(channel.ChatID, text); err != nil {
			a.log.Error("failed to send text",
				zap.Int64("chat_id", channel.ChatID), zap.Error(err))
			errs = append(errs, err.Error())
		}
	}
	result := plugin.DeliveryResult{Success: len(errs) == 0, Adapter: a.Name()}
	if len(errs) > 0 {
		result.Message = strings.Join(errs, "; ")
	}
	return result
}

func (a *Adapter) sendMessage(chatID int64, text string) error {
	// Telegram caps messages at 4096 chars
	for _, chunk := range splitMessage(text, 4000) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if _, err := a.bot.Send(msg); err != nil {
			// Retry without markdown if parsing fails
			plain := tgbotapi.NewMessage(chatID, chunk)
			plain.DisableWebPagePreview = true
			if _, err := a.bot.Send(plain); err != nil {
				return fmt.Errorf("telegram api: %w", err)
			}
		}
	}
	return nil
}

// splitMessage breaks text into chunks of at most limit bytes without
// splitting inside a UTF-8 rune.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		end := limit
		for end > 0 && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == 0 {
			// Not valid UTF-8 anyway; hard split
			end = limit
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// FormatSignalMessage renders a signal (and optional memo summary) as a
// Telegram Markdown message.
func FormatSignalMessage(signal *models.Signal, memo *models.InvestmentMemo) string {
	icon := map[string]string{"buy": "\U0001F7E2", "sell": "\U0001F534", "hold": "\U0001F7E1"}[signal.Direction]
	if icon == "" {
		icon = "⚪"
	}

	lines := []string{
		fmt.Sprintf("%s *%s %s*", icon, strings.ToUpper(signal.Direction), signal.Ticker),
		fmt.Sprintf("Confidence: %.0f%%", signal.Confidence*100),
	}
	if signal.EntryTarget != nil {
		lines = append(lines, fmt.Sprintf("Entry: $%.2f", *signal.EntryTarget))
	}
	if signal.StopLoss != nil {
		lines = append(lines, fmt.Sprintf("Stop Loss: $%.2f", *signal.StopLoss))
	}
	if signal.TakeProfit != nil {
		lines = append(lines, fmt.Sprintf("Take Profit: $%.2f", *signal.TakeProfit))
	}
	if signal.Horizon != "" {
		lines = append(lines, fmt.Sprintf("Horizon: %s", signal.Horizon))
	}
	if signal.Catalyst != "" {
		lines = append(lines, fmt.Sprintf("\n_%s_", signal.Catalyst))
	}
	if memo != nil && memo.ExecutiveSummary != "" {
		summary := memo.ExecutiveSummary
		if len(summary) > 500 {
			summary = summary[:500]
		}
		lines = append(lines, "\n"+summary)
	}
	return strings.Join(lines, "\n")
}
