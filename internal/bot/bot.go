// Package bot is the Telegram front end: it lists events and notes, adds and
// removes notes, and triggers refreshes.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"family_dash/internal/config"
	"family_dash/internal/scheduler"
	"family_dash/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Refresher runs feed refreshes on demand.
type Refresher interface {
	RefreshAll(ctx context.Context) scheduler.Aggregate
	RefreshOne(ctx context.Context, id int64) scheduler.FeedResult
}

// Bot is the Telegram bot that handles user commands.
type Bot struct {
	api   telegramAPI
	store storage.Storage
	sched Refresher
	cfg   *config.Config
	log   *slog.Logger
	loc   *time.Location
	now   func() time.Time
}

// New creates a Bot with the given Telegram token, storage, refresher and config.
func New(token string, store storage.Storage, sched Refresher, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		sched: sched,
		cfg:   cfg,
		log:   log,
		loc:   time.Local,
		now:   time.Now,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if from := update.CallbackQuery.From; from == nil || !b.cfg.IsUserAllowed(from.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "feeds":
		b.handleFeeds(ctx, chatID)
	case "pause":
		b.handleSetActive(ctx, chatID, args, false)
	case "resume":
		b.handleSetActive(ctx, chatID, args, true)
	case "events":
		b.handleEvents(ctx, chatID, args)
	case cmdRefresh:
		b.handleRefresh(ctx, chatID, args)
	case "notes":
		b.handleNotes(ctx, chatID)
	case "note":
		b.handleAddNote(ctx, chatID, authorName(msg.From), args)
	case cmdRmNote:
		b.handleRmNote(ctx, chatID, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// authorName picks the display name used for notes a user creates.
func authorName(u *tgbotapi.User) string {
	if u == nil {
		return "Telegram"
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.UserName != "" {
		return u.UserName
	}
	return "Telegram"
}
