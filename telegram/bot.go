// Package telegram is the chat transport: it long-polls the Bot API, routes each
// message to the report lifecycle and delivers notifications back to chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"report-filing-bot/lifecycle"
	"report-filing-bot/models"

	"github.com/apex/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLength is the Bot API limit on a single text message, in runes
const maxMessageLength = 4096

const pollTimeoutSeconds = 60

var (
	approvePattern = regexp.MustCompile(`(?i)^(approve|yes|okay|ok|looks good|send it|yep)$`)
	cancelPattern  = regexp.MustCompile(`(?i)^(cancel|no|stop|nevermind|dont send|don't send|nope)$`)
)

// Intent is what a chat message asks the bot to do
type Intent int

const (
	IntentIgnore Intent = iota
	IntentStart
	IntentApprove
	IntentCancel
	IntentReport
)

func (i Intent) String() string {
	switch i {
	case IntentStart:
		return "start"
	case IntentApprove:
		return "approve"
	case IntentCancel:
		return "cancel"
	case IntentReport:
		return "report"
	}
	return "ignore"
}

// Classify maps a message to an intent. The approve and cancel words must make up
// the whole message; any other plain text is a new report request.
func Classify(msg *tgbotapi.Message) Intent {
	if msg == nil {
		return IntentIgnore
	}
	if msg.IsCommand() {
		if msg.Command() == "start" {
			return IntentStart
		}
		return IntentIgnore
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "":
		return IntentIgnore
	case approvePattern.MatchString(text):
		return IntentApprove
	case cancelPattern.MatchString(text):
		return IntentCancel
	}
	return IntentReport
}

// Handler is the lifecycle surface chat messages are routed to
type Handler interface {
	Start(ctx context.Context, chatID int64, firstName string) error
	Draft(ctx context.Context, chatID int64, text string) (*models.Report, error)
	Approve(ctx context.Context, chatID int64) (*models.Report, error)
	Cancel(ctx context.Context, chatID int64) error
}

// botAPI is the subset of *tgbotapi.BotAPI the bot uses
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot receives chat messages and sends notifications
type Bot struct {
	api    botAPI
	queues *chatQueues
}

// NewBot authenticates against the Bot API
func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	log.Infof("Authorized on Telegram account %s", api.Self.UserName)
	return newBot(api), nil
}

func newBot(api botAPI) *Bot {
	return &Bot{api: api, queues: newChatQueues()}
}

// Run routes incoming messages to h until ctx is cancelled.
// Messages from one chat are handled one at a time, in arrival order.
// Handlers already queued are allowed to finish before Run returns.
func (b *Bot) Run(ctx context.Context, h Handler) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := b.api.GetUpdatesChan(u)

	jobCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.queues.Wait()
			log.Info("Telegram update loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				b.queues.Wait()
				return
			}
			msg := update.Message
			if msg == nil || msg.Chat == nil {
				continue
			}
			b.queues.Enqueue(msg.Chat.ID, func() { handle(jobCtx, h, msg) })
		}
	}
}

func handle(ctx context.Context, h Handler, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	intent := Classify(msg)
	entry := log.WithFields(log.Fields{"chat_id": chatID, "intent": intent.String()})

	var err error
	switch intent {
	case IntentStart:
		firstName := ""
		if msg.From != nil {
			firstName = msg.From.FirstName
		}
		err = h.Start(ctx, chatID, firstName)
	case IntentApprove:
		_, err = h.Approve(ctx, chatID)
	case IntentCancel:
		err = h.Cancel(ctx, chatID)
	case IntentReport:
		_, err = h.Draft(ctx, chatID, msg.Text)
	default:
		entry.Debug("Ignoring message")
		return
	}

	if errors.Is(err, lifecycle.ErrNoPendingReport) {
		entry.Debug("Nothing pending, ignoring")
		return
	}
	if err != nil {
		entry.WithError(err).Warn("Chat message handling failed")
		return
	}
	entry.Debug("Chat message handled")
}

// Notify sends text to a chat, split into several messages when it exceeds the API limit
func (b *Bot) Notify(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("failed to send telegram message to chat %d: %w", chatID, err)
		}
	}
	return nil
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		cut := limit
		// prefer breaking at a newline in the second half of the chunk
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
