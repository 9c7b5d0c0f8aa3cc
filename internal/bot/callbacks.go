package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdRefresh = "refresh"
	cmdRmNote  = "rmnote"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	idStr := parts[1]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	log := b.log.With("action", action, "id", id, "chat_id", chatID)
	if cb.From != nil {
		log = log.With("user_id", cb.From.ID, "username", cb.From.UserName)
	}
	log.Info("callback")

	switch action {
	case cmdRefresh:
		b.handleRefresh(ctx, chatID, idStr)
	case cmdRmNote:
		b.handleRmNote(ctx, chatID, idStr)
	}
}
