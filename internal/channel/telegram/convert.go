package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/promobot/internal/channel"
)

func toMessage(update tgbotapi.Update) (channel.Message, bool) {
	msg := update.Message
	if msg == nil {
		return channel.Message{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return channel.Message{}, false
	}
	out := channel.Message{
		ID:         strconv.Itoa(msg.MessageID),
		Text:       text,
		ReceivedAt: time.Unix(int64(msg.Date), 0).UTC(),
	}
	if msg.Chat != nil {
		out.ChatID = strconv.FormatInt(msg.Chat.ID, 10)
		out.ChatType = strings.TrimSpace(msg.Chat.Type)
	}
	switch {
	case msg.From != nil:
		out.UserID = strconv.FormatInt(msg.From.ID, 10)
		out.Username = strings.TrimSpace(msg.From.UserName)
		if out.Username == "" {
			out.Username = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
	case msg.SenderChat != nil:
		out.UserID = strconv.FormatInt(msg.SenderChat.ID, 10)
		out.Username = strings.TrimSpace(msg.SenderChat.Title)
	default:
		out.UserID = out.ChatID
	}
	return out, true
}

func parseMode(format channel.Format) string {
	if format == channel.FormatHTML {
		return tgbotapi.ModeHTML
	}
	return ""
}

// chatRef resolves a target into either a numeric chat id or a channel
// username; exactly one of the results is set.
func chatRef(target string) (int64, string, error) {
	if strings.HasPrefix(target, "@") {
		return 0, target, nil
	}
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("telegram target must be @username or chat_id")
	}
	return chatID, "", nil
}

func sendContent(bot *tgbotapi.BotAPI, target string, content channel.Content) error {
	chatID, username, err := chatRef(target)
	if err != nil {
		return err
	}
	mode := parseMode(content.Format)
	text := strings.TrimSpace(content.Text)
	usedCaption := false
	for _, att := range content.Attachments {
		caption := strings.TrimSpace(att.Caption)
		if !usedCaption && text != "" {
			caption = text
			usedCaption = true
		}
		chattable, err := buildAttachment(chatID, username, att, caption, mode)
		if err != nil {
			return err
		}
		if _, err := bot.Send(chattable); err != nil {
			return err
		}
	}
	if text == "" || usedCaption {
		return nil
	}
	message := tgbotapi.NewMessage(chatID, text)
	message.ChannelUsername = username
	message.ParseMode = mode
	_, err = bot.Send(message)
	return err
}

func buildAttachment(chatID int64, username string, att channel.Attachment, caption, mode string) (tgbotapi.Chattable, error) {
	if strings.TrimSpace(att.URL) == "" {
		return nil, fmt.Errorf("attachment url is required")
	}
	file := tgbotapi.FileURL(att.URL)
	switch att.Type {
	case channel.AttachmentImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.ChannelUsername = username
		photo.Caption = caption
		photo.ParseMode = mode
		return photo, nil
	case channel.AttachmentVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.ChannelUsername = username
		video.Caption = caption
		video.ParseMode = mode
		return video, nil
	case channel.AttachmentFile, "":
		document := tgbotapi.NewDocument(chatID, file)
		document.ChannelUsername = username
		document.Caption = caption
		document.ParseMode = mode
		return document, nil
	default:
		return nil, fmt.Errorf("unsupported attachment type: %s", att.Type)
	}
}
