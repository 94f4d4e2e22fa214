package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"wabot/internal/config"
	"wabot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramPollTimeout    = 30
)

// Telegram adapts a Telegram bot session to the runtime's transport
// interface. Group semantics map onto Telegram supergroups.
type Telegram struct {
	cfg    config.TelegramConfig
	bot    *tgbotapi.BotAPI
	bus    domain.EventBus
	logger *slog.Logger
}

func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{cfg: cfg, logger: logger}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is
// cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.EventBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram transport stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	ev := domain.InboundEvent{
		Transport:    "telegram",
		Kind:         domain.EventMessage,
		Conversation: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:    strconv.Itoa(msg.MessageID),
		Sender:       strconv.FormatInt(msg.From.ID, 10),
		RawSender:    strconv.FormatInt(msg.From.ID, 10),
		Text:         text,
		FromSelf:     t.bot != nil && msg.From.ID == t.bot.Self.ID,
		IsGroup:      msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
		Timestamp:    time.Unix(int64(msg.Date), 0),
	}

	switch {
	case len(msg.Photo) > 0:
		ev.Media = domain.MediaImage
		ev.MediaRef = msg.Photo[len(msg.Photo)-1].FileID
	case msg.Video != nil:
		ev.Media = domain.MediaVideo
		ev.MediaRef = msg.Video.FileID
	case msg.Audio != nil:
		ev.Media = domain.MediaAudio
		ev.MediaRef = msg.Audio.FileID
	case msg.Voice != nil:
		ev.Media = domain.MediaAudio
		ev.MediaRef = msg.Voice.FileID
	case msg.Sticker != nil:
		ev.Media = domain.MediaSticker
		ev.MediaRef = msg.Sticker.FileID
	case msg.Document != nil:
		ev.Media = domain.MediaDocument
		ev.MediaRef = msg.Document.FileID
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		ev.Quoted = &domain.QuotedRef{
			MessageID: strconv.Itoa(msg.ReplyToMessage.MessageID),
			Sender:    strconv.FormatInt(msg.ReplyToMessage.From.ID, 10),
			Text:      msg.ReplyToMessage.Text,
		}
	}

	t.bus.Publish(ev)
}

// Send delivers content into a chat, chunking long text at the Telegram
// message length limit.
func (t *Telegram) Send(ctx context.Context, conversation string, content domain.OutboundContent, opts *domain.SendOptions) error {
	chatID, err := strconv.ParseInt(conversation, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}

	var replyTo int
	if opts != nil && opts.QuotedID != "" {
		replyTo, _ = strconv.Atoi(opts.QuotedID)
	}

	if content.Media != domain.MediaNone && content.MediaRef != "" {
		return t.sendMedia(chatID, content, replyTo)
	}

	text := content.Text
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		if err := t.sendChunk(chatID, chunk, replyTo); err != nil {
			return err
		}
		replyTo = 0
	}
	return nil
}

func (t *Telegram) sendMedia(chatID int64, content domain.OutboundContent, replyTo int) error {
	file := tgbotapi.FileID(content.MediaRef)

	var msg tgbotapi.Chattable
	switch content.Media {
	case domain.MediaImage:
		m := tgbotapi.NewPhoto(chatID, file)
		m.Caption = content.Caption
		m.ReplyToMessageID = replyTo
		msg = m
	case domain.MediaVideo:
		m := tgbotapi.NewVideo(chatID, file)
		m.Caption = content.Caption
		m.ReplyToMessageID = replyTo
		msg = m
	case domain.MediaAudio:
		m := tgbotapi.NewAudio(chatID, file)
		m.Caption = content.Caption
		m.ReplyToMessageID = replyTo
		msg = m
	case domain.MediaSticker:
		m := tgbotapi.NewSticker(chatID, file)
		m.ReplyToMessageID = replyTo
		msg = m
	default:
		m := tgbotapi.NewDocument(chatID, file)
		m.Caption = content.Caption
		m.ReplyToMessageID = replyTo
		msg = m
	}

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram media send: %w", err)
	}
	return nil
}

// sendChunk sends one text message with markdown-fallback and backoff.
// Try the configured parse mode first; on parse errors resend plain.
func (t *Telegram) sendChunk(chatID int64, text string, replyTo int) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyToMessageID = replyTo
		if attempt == 0 && t.cfg.ParseMode != "" {
			msg.ParseMode = t.cfg.ParseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying plain", "err", err)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			time.Sleep(backoff)
			continue
		}
	}
	return fmt.Errorf("telegram send failed: %w", lastErr)
}

// Members lists the chat administrators. Telegram only exposes the full
// member list to admins of small groups, so the admin list is the
// practical membership view here.
func (t *Telegram) Members(ctx context.Context, conversation string) ([]domain.Member, error) {
	chatID, err := strconv.ParseInt(conversation, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}

	admins, err := t.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram admins query: %w", err)
	}

	members := make([]domain.Member, 0, len(admins))
	for _, a := range admins {
		if a.User == nil {
			continue
		}
		role := "admin"
		if a.Status == "creator" {
			role = "superadmin"
		}
		members = append(members, domain.Member{
			ID:    strconv.FormatInt(a.User.ID, 10),
			Alias: a.User.UserName,
			Role:  role,
		})
	}
	return members, nil
}

// Remove bans a member from the chat.
func (t *Telegram) Remove(ctx context.Context, conversation, memberID string) error {
	chatID, err := strconv.ParseInt(conversation, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}
	userID, err := strconv.ParseInt(memberID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid member id: %w", err)
	}

	_, err = t.bot.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return fmt.Errorf("telegram ban: %w", err)
	}
	return nil
}

// React is not supported by the bot API version in use.
func (t *Telegram) React(ctx context.Context, conversation, messageID, emoji string) error {
	t.logger.Debug("telegram reactions unsupported, skipping", "chat", conversation)
	return nil
}
