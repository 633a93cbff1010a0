package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "supportbridge/pkg/logx"
	"supportbridge/pkg/tgui"
)

// Telegram delivers notifications straight to a Telegram chat. It is an
// optional adapter: conversations whose channel is "telegram" carry the
// numeric chat id as their conversation id.
type Telegram struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(token string, pollTimeout time.Duration, log logx.Logger) (*Telegram, error) {
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, log: log}, nil
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	chatID, err := strconv.ParseInt(msg.ConversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: conversation id %q is not a chat id: %w", msg.ConversationID, err)
	}

	text, markup := renderTelegram(msg)
	sendOpt := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}
	if markup != nil {
		sendOpt.ReplyMarkup = markup
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	if _, err := t.bot.Send(chat, text, sendOpt); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	t.log.Debug("message sent", logx.Int64("chat_id", chatID))
	return nil
}

func renderTelegram(msg Message) (string, *tele.ReplyMarkup) {
	if msg.Card == nil {
		return tgui.TruncRunes(tgui.Esc(msg.Text).String(), tgui.MaxMessageRunes), nil
	}
	text := tgui.TruncRunes(tgui.Esc(msg.Card.Text).String(), tgui.MaxMessageRunes)
	if len(msg.Card.Actions) == 0 {
		return text, nil
	}
	// Only link actions translate to Telegram buttons; imBack-style
	// actions have no equivalent and are folded into the text.
	kb := tgui.NewInline()
	rows := 0
	for _, a := range msg.Card.Actions {
		if strings.HasPrefix(a.Value, "http://") || strings.HasPrefix(a.Value, "https://") {
			kb.Row(tgui.URLBtn(a.Title, a.Value))
			rows++
			continue
		}
		text += "\n" + tgui.B(a.Title).String() + ": " + tgui.Esc(a.Value).String()
	}
	if rows == 0 {
		return text, nil
	}
	return text, kb.Markup()
}
