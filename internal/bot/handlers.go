package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"family_dash/internal/model"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the Family Dashboard bot!

See what is coming up and keep the family notes in sync.

Quick start:
1. /events — what is on this week
2. /notes — the shared notes board
3. /note <title> | <details> — add a note

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Calendars:
/feeds — show all calendar feeds
/pause <id> — stop refreshing a feed
/resume <id> — start refreshing a feed again
/refresh — refresh every active feed now
/refresh <id> — refresh one feed now
/events [days] — upcoming events (default 7, max 31)

Notes:
/notes — show the notes board
/note <title> | <details> — add a note (details optional)
/rmnote <id> — remove a note`)
}

func (b *Bot) handleFeeds(ctx context.Context, chatID int64) {
	feeds, err := b.store.ListFeeds(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatFeedList(feeds))
	msg.DisableWebPagePreview = true
	if len(feeds) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(feeds))
		for _, f := range feeds {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Refresh #%d", f.ID), fmt.Sprintf("%s:%d", cmdRefresh, f.ID)),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send feed list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleSetActive(ctx context.Context, chatID int64, args string, active bool) {
	id, err := ParseIDArg(args)
	if err != nil {
		if active {
			b.reply(chatID, "Usage: /resume <id>")
		} else {
			b.reply(chatID, "Usage: /pause <id>")
		}
		return
	}

	feed, err := b.store.UpdateFeed(ctx, id, model.FeedPatch{Active: &active})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Feed #%d not found.", id))
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	state := "paused"
	if active {
		state = "resumed"
	}
	b.reply(chatID, fmt.Sprintf("Feed #%d \"%s\" %s.", feed.ID, feed.Name, state))
}

func (b *Bot) handleEvents(ctx context.Context, chatID int64, args string) {
	days, err := ParseDaysArg(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	start := b.now()
	end := start.AddDate(0, 0, days)
	events, err := b.store.ListEvents(ctx, start, end)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	feeds, err := b.store.ListFeeds(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	names := make(map[int64]string, len(feeds))
	for _, f := range feeds {
		names[f.ID] = f.Name
	}

	b.reply(chatID, FormatEvents(events, names, days, b.loc))
}

func (b *Bot) handleRefresh(ctx context.Context, chatID int64, args string) {
	if args == "" {
		agg := b.sched.RefreshAll(context.WithoutCancel(ctx))
		b.reply(chatID, FormatRefresh(agg))
		return
	}

	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /refresh [id]")
		return
	}
	res := b.sched.RefreshOne(ctx, id)
	if errors.Is(res.Err, model.ErrNotFound) {
		b.reply(chatID, fmt.Sprintf("Feed #%d not found.", id))
		return
	}
	b.reply(chatID, FormatFeedResult(res))
}

func (b *Bot) handleNotes(ctx context.Context, chatID int64) {
	notes, err := b.store.ListNotes(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatNoteList(notes))
	if len(notes) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(notes))
		for _, n := range notes {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Done N%d", n.ID), fmt.Sprintf("%s:%d", cmdRmNote, n.ID)),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send note list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleAddNote(ctx context.Context, chatID int64, author, args string) {
	title, content, err := ParseNoteArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}

	n := &model.Note{Title: title, Content: content, Author: author}
	if err := n.Validate(); err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if err := b.store.CreateNote(ctx, n); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("note added", "note_id", n.ID, "author", author, "chat_id", chatID)
	b.reply(chatID, fmt.Sprintf("Note N%d added: %s", n.ID, n.Title))
}

func (b *Bot) handleRmNote(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmnote <id>")
		return
	}

	n, err := b.store.GetNote(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Note N%d not found.", id))
		return
	}
	if err := b.store.DeleteNote(ctx, id); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Note N%d \"%s\" removed.", id, n.Title))
}
