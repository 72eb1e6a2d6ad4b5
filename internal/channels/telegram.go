package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/bus"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/confirm"
)

// Resolver is the engine surface the Telegram channel drives.
type Resolver interface {
	Resolve(ctx context.Context, taskID string, decision confirm.Decision) error
}

// TelegramChannel announces pending confirmations to allow-listed chats
// and turns button presses and commands into queue decisions.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	resolver   Resolver
	queue      *confirm.Queue
	eventBus   *bus.Bus
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(token string, allowedIDs []int64, resolver Resolver, queue *confirm.Queue, eventBus *bus.Bus, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		resolver:   resolver,
		queue:      queue,
		eventBus:   eventBus,
		logger:     logger,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	go t.announceConfirmations(ctx)

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within the stall window. Returns nil on
// context cancellation, or an error to trigger reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. The library blocks rather
	// than closing the channel on a dead connection, so treat a long
	// silence as a disconnect.
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
					t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
					continue
				}
				t.handleMessage(ctx, update.Message)
				continue
			}

			if update.CallbackQuery != nil {
				if _, ok := t.allowedIDs[update.CallbackQuery.From.ID]; !ok {
					t.logger.Warn("telegram callback access denied", "user_id", update.CallbackQuery.From.ID)
					continue
				}
				t.handleCallbackQuery(ctx, update.CallbackQuery)
				continue
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "/pending":
		t.replyPending(msg.Chat.ID)
	case strings.HasPrefix(text, "/approve "):
		t.resolveFromCommand(ctx, msg.Chat.ID, strings.TrimPrefix(text, "/approve "), confirm.Approve)
	case strings.HasPrefix(text, "/dismiss "):
		t.resolveFromCommand(ctx, msg.Chat.ID, strings.TrimPrefix(text, "/dismiss "), confirm.Dismiss)
	case text == "/help" || text == "/start":
		t.reply(msg.Chat.ID, "Commands:\n/pending - list waiting confirmations\n/approve <task_id>\n/dismiss <task_id>")
	}
}

func (t *TelegramChannel) replyPending(chatID int64) {
	entries := t.queue.List()
	if len(entries) == 0 {
		t.reply(chatID, "No pending confirmations.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d pending:\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", e.TaskID, e.Describe, e.ActionType)
	}
	t.reply(chatID, b.String())
}

func (t *TelegramChannel) resolveFromCommand(ctx context.Context, chatID int64, rawID string, decision confirm.Decision) {
	taskID := strings.TrimSpace(rawID)
	if taskID == "" {
		t.reply(chatID, "task_id required")
		return
	}
	if err := t.resolver.Resolve(ctx, taskID, decision); err != nil {
		t.reply(chatID, t.resolveErrorText(taskID, err))
		return
	}
	t.reply(chatID, fmt.Sprintf("%sd %s", decision, taskID))
}

// handleCallbackQuery handles Approve/Dismiss inline button presses.
// Callback data format: "confirm:taskID:decision".
func (t *TelegramChannel) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	taskID, decision, err := parseConfirmCallback(query.Data)
	if err != nil {
		return
	}

	ack := tgbotapi.NewCallback(query.ID, fmt.Sprintf("Processing %s...", decision))
	if _, err := t.bot.Request(ack); err != nil {
		t.logger.Warn("failed to acknowledge callback", "error", err)
	}

	if err := t.resolver.Resolve(ctx, taskID, decision); err != nil {
		t.reply(query.Message.Chat.ID, t.resolveErrorText(taskID, err))
		return
	}
	t.reply(query.Message.Chat.ID, fmt.Sprintf("%sd %s", decision, taskID))
}

func (t *TelegramChannel) resolveErrorText(taskID string, err error) string {
	switch {
	case errors.Is(err, confirm.ErrExpired):
		return fmt.Sprintf("Too late: %s already expired.", taskID)
	case errors.Is(err, confirm.ErrAlreadyResolved):
		return fmt.Sprintf("%s was already decided.", taskID)
	case errors.Is(err, confirm.ErrNotFound):
		return fmt.Sprintf("No pending confirmation for %s.", taskID)
	}
	return fmt.Sprintf("Could not resolve %s: %v", taskID, err)
}

// announceConfirmations pushes new confirmation requests to every
// allow-listed chat with Approve/Dismiss buttons.
func (t *TelegramChannel) announceConfirmations(ctx context.Context) {
	sub := t.eventBus.Subscribe(bus.TopicConfirmRequested)
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Ch():
			req, ok := ev.Payload.(bus.ConfirmRequestedEvent)
			if !ok {
				continue
			}
			keyboard := tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("Approve",
						fmt.Sprintf("confirm:%s:approve", req.TaskID)),
					tgbotapi.NewInlineKeyboardButtonData("Dismiss",
						fmt.Sprintf("confirm:%s:dismiss", req.TaskID)),
				),
			)
			text := fmt.Sprintf("Confirmation needed\n%s\n[%s] %s", req.Describe, req.ActionType, req.TaskID)
			for chatID := range t.allowedIDs {
				msg := tgbotapi.NewMessage(chatID, text)
				msg.ReplyMarkup = keyboard
				if _, err := t.bot.Send(msg); err != nil {
					t.logger.Error("failed to announce confirmation", "chat_id", chatID, "error", err)
				}
			}
		}
	}
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

// parseConfirmCallback parses inline button data of the form
// "confirm:taskID:decision".
func parseConfirmCallback(data string) (taskID string, decision confirm.Decision, err error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "confirm:") {
		return "", "", fmt.Errorf("not a confirmation callback")
	}
	parts := strings.SplitN(data[len("confirm:"):], ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid confirmation callback format")
	}
	switch parts[1] {
	case "approve":
		return parts[0], confirm.Approve, nil
	case "dismiss":
		return parts[0], confirm.Dismiss, nil
	}
	return "", "", fmt.Errorf("unknown decision %q", parts[1])
}
