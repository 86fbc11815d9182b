// Package alert tells dispatch about submissions that stopped syncing.
package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fleetsync/internal/config"
	"fleetsync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the subset of tgbotapi.BotAPI used for alerts.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramNotifier struct {
	bot     Sender
	chatIDs []int64
	truckID string
	logger  *zerolog.Logger
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelegramNotifier(bot Sender, chatIDs []int64, truckID string, logger *zerolog.Logger) *TelegramNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		truckID: truckID,
		logger:  logger,
	}
}

// NotifyExhausted sends one message per configured chat. Delivery to the
// remaining chats continues after a failure.
func (n *TelegramNotifier) NotifyExhausted(ctx context.Context, item models.PendingSubmission) error {
	text := formatExhausted(n.truckID, item)

	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send exhausted alert")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func formatExhausted(truckID string, item models.PendingSubmission) string {
	var b strings.Builder
	b.WriteString("Proof of delivery stuck on device\n")
	if truckID != "" {
		fmt.Fprintf(&b, "Truck: %s\n", truckID)
	}
	fmt.Fprintf(&b, "Trip: %s\n", item.Payload.TripID)
	fmt.Fprintf(&b, "Status: %s\n", item.Payload.Request.Status)
	fmt.Fprintf(&b, "Local ID: %s\n", item.LocalID)
	fmt.Fprintf(&b, "Attempts: %d\n", item.RetryCount)
	if item.LastError != nil {
		fmt.Fprintf(&b, "Last error: %s\n", *item.LastError)
	}
	b.WriteString("Automatic retry stopped; manual follow-up required.")
	return b.String()
}

// NopNotifier discards alerts.
type NopNotifier struct{}

func (NopNotifier) NotifyExhausted(context.Context, models.PendingSubmission) error {
	return nil
}
