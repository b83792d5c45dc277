package broadcast

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM SINK - Whale alerts to a chat or channel
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🐋 HTML alerts without link previews
//   📢 Numeric chat ids or @channel names
//   🎛️ /status, /ping and /help from the configured chat
//
// ═══════════════════════════════════════════════════════════════════════════════

const defaultTelegramTimeout = 15 * time.Second

// TelegramOptions configures the chat sink
type TelegramOptions struct {
	Token  string
	ChatID string // numeric id or @channel

	// Endpoint overrides tgbotapi.APIEndpoint (format "<base>/bot%s/%s")
	Endpoint   string
	HTTPClient *http.Client

	// Status renders the /status reply; nil disables the command
	Status func() string
}

// Telegram delivers alerts through the Bot API
type Telegram struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	channel string
	status  func() string
	running bool
	stopCh  chan struct{}
}

// NewTelegram connects to the Bot API. Callers should skip the sink entirely
// when token or chat id is not configured.
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" || opts.ChatID == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.HTTPClient == nil {
		// Bounds the Bot API call itself so an abandoned Send goroutine exits
		opts.HTTPClient = &http.Client{Timeout: defaultTelegramTimeout}
	}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, opts.Endpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	t := &Telegram{
		api:    api,
		status: opts.Status,
		stopCh: make(chan struct{}),
	}
	if id, err := strconv.ParseInt(opts.ChatID, 10, 64); err == nil {
		t.chatID = id
	} else {
		t.channel = opts.ChatID
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram sink initialized")
	return t, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Send posts the alert text. The Bot API call itself is not cancellable, so
// ctx only bounds how long the broadcaster waits.
func (t *Telegram) Send(ctx context.Context, msg types.Message) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.api.Send(t.message(msg.Text))
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Telegram) message(text string) tgbotapi.MessageConfig {
	var msg tgbotapi.MessageConfig
	if t.channel != "" {
		msg = tgbotapi.NewMessageToChannel(t.channel, text)
	} else {
		msg = tgbotapi.NewMessage(t.chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return msg
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

// Start begins listening for commands from the configured chat
func (t *Telegram) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()

	go t.commandLoop()
	log.Info().Msg("📱 Telegram commands enabled")
}

// Stop ends the command loop
func (t *Telegram) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	t.api.StopReceivingUpdates()
	close(t.stopCh)
	log.Info().Msg("Telegram commands stopped")
}

func (t *Telegram) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := t.api.GetUpdatesChan(u)

	for {
		select {
		case <-t.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !t.authorized(update.Message.Chat) {
				continue
			}
			t.handleCommand(update.Message.Command())
		}
	}
}

func (t *Telegram) authorized(chat *tgbotapi.Chat) bool {
	if chat == nil {
		return false
	}
	if t.channel != "" {
		return "@"+chat.UserName == t.channel
	}
	return chat.ID == t.chatID
}

func (t *Telegram) handleCommand(cmd string) {
	switch strings.ToLower(cmd) {
	case "start", "help":
		t.reply("🐋 <b>WHALEBOT</b>\n\n/status - pipeline status\n/ping - liveness check")
	case "status":
		if t.status == nil {
			t.reply("Status unavailable")
			return
		}
		t.reply(t.status())
	case "ping":
		t.reply("🏓 Pong!")
	default:
		t.reply("❓ Unknown command. Use /help")
	}
}

func (t *Telegram) reply(text string) {
	if _, err := t.api.Send(t.message(text)); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
