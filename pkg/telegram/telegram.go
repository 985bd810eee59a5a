// Package telegram adapts the Telegram Bot API (via telego) to the pipeline:
// inbound update conversion, long polling, webhook management, backlog
// reads, voice file downloads, and outbound delivery.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/update"
	"github.com/teleclerk/teleclerk/pkg/logger"
)

// Channel wraps one bot connection to the platform.
type Channel struct {
	bot         *telego.Bot
	botName     string
	pollTimeout int
	httpClient  *http.Client
}

// NewChannel connects to the platform and probes credentials with GetMe.
// An invalid token is an AuthError: fatal at startup per the error policy.
func NewChannel(ctx context.Context, token string, pollTimeoutSeconds int) (*Channel, error) {
	bot, err := telego.NewBot(token, telego.WithDefaultLogger(false, false))
	if err != nil {
		return nil, fmt.Errorf("construct bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, classify("getMe", err)
	}

	if pollTimeoutSeconds <= 0 {
		pollTimeoutSeconds = 30
	}
	logger.InfoCF("telegram", "Authenticated against platform", map[string]interface{}{
		"bot": me.Username,
	})
	return &Channel{
		bot:         bot,
		botName:     me.Username,
		pollTimeout: pollTimeoutSeconds,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// BotName returns the authenticated bot username.
func (c *Channel) BotName() string { return c.botName }

// classify maps platform API errors onto the domain taxonomy: credential
// errors are AuthError, everything else (network, 5xx, rate limits) is
// transient and retryable.
func classify(op string, err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode == http.StatusUnauthorized || apiErr.ErrorCode == http.StatusForbidden {
			return domain.Unauthorized("telegram", err)
		}
	}
	return domain.Transient("telegram "+op, err)
}

// ---------------------------------------------------------------------------
// Outbound delivery
// ---------------------------------------------------------------------------

// SendText delivers a reply to a chat. Errors carry the retryable signal via
// the transient classification.
func (c *Channel) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := c.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return classify("sendMessage", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Ingestion: polling, webhook, backlog
// ---------------------------------------------------------------------------

// Poll starts long polling and returns a channel of converted updates. The
// channel closes after ctx is cancelled and the in-flight read completes.
func (c *Channel) Poll(ctx context.Context) (<-chan update.InboundUpdate, error) {
	raw, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: c.pollTimeout,
	})
	if err != nil {
		return nil, classify("startPolling", err)
	}

	out := make(chan update.InboundUpdate)
	go func() {
		defer close(out)
		for u := range raw {
			converted, ok := Convert(u)
			if !ok {
				continue
			}
			out <- converted
		}
	}()
	return out, nil
}

// RegisterWebhook points the platform at the push endpoint.
func (c *Channel) RegisterWebhook(ctx context.Context, url, secret string) error {
	err := c.bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:         url,
		SecretToken: secret,
	})
	if err != nil {
		return classify("setWebhook", err)
	}
	return nil
}

// DeregisterWebhook removes the push endpoint registration. Pending updates
// stay queued on the platform for the next backlog drain.
func (c *Channel) DeregisterWebhook(ctx context.Context) error {
	err := c.bot.DeleteWebhook(ctx, &telego.DeleteWebhookParams{DropPendingUpdates: false})
	if err != nil {
		return classify("deleteWebhook", err)
	}
	return nil
}

// Backlog fetches one batch of queued updates at offset. nextOffset is the
// offset to pass on the following call; an empty batch means the queue is
// drained.
func (c *Channel) Backlog(ctx context.Context, offset int64) ([]update.InboundUpdate, int64, error) {
	raw, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:  int(offset),
		Limit:   100,
		Timeout: 0,
	})
	if err != nil {
		return nil, offset, classify("getUpdates", err)
	}

	next := offset
	converted := make([]update.InboundUpdate, 0, len(raw))
	for _, u := range raw {
		if int64(u.UpdateID) >= next {
			next = int64(u.UpdateID) + 1
		}
		if conv, ok := Convert(u); ok {
			converted = append(converted, conv)
		}
	}
	return converted, next, nil
}

// Confirm acknowledges everything below offset so the platform drops it from
// the queue.
func (c *Channel) Confirm(ctx context.Context, offset int64) error {
	_, err := c.bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:  int(offset),
		Limit:   1,
		Timeout: 0,
	})
	if err != nil {
		return classify("confirmOffset", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Voice downloads
// ---------------------------------------------------------------------------

// DownloadVoice fetches the raw bytes of a voice recording for transcription.
func (c *Channel) DownloadVoice(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, classify("getFile", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient("download voice", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Transient("download voice", fmt.Errorf("status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

// ---------------------------------------------------------------------------
// Update conversion
// ---------------------------------------------------------------------------

// Convert turns a platform update into the pipeline's InboundUpdate. Only
// plain text and voice messages are ingested; everything else reads as
// not-ok and is skipped.
func Convert(u telego.Update) (update.InboundUpdate, bool) {
	msg := u.Message
	if msg == nil || msg.From == nil {
		return update.InboundUpdate{}, false
	}

	var profile domain.Metadata
	if msg.From.Username != "" {
		profile.Set("username", msg.From.Username)
	}
	if msg.From.FirstName != "" {
		profile.Set("first_name", msg.From.FirstName)
	}

	converted := update.InboundUpdate{
		UpdateID:       int64(u.UpdateID),
		PlatformUserID: msg.From.ID,
		ChatID:         msg.Chat.ID,
		ReceivedAt:     domain.TimestampFrom(time.Unix(msg.Date, 0)),
		Profile:        profile,
	}

	switch {
	case msg.Voice != nil:
		converted.Channel = domain.ChannelVoice
		converted.VoiceFileID = msg.Voice.FileID
		converted.Text = msg.Caption
	case msg.Text != "":
		converted.Channel = domain.ChannelText
		converted.Text = msg.Text
	default:
		return update.InboundUpdate{}, false
	}
	return converted, true
}

// ErrUnsupportedUpdate marks a well-formed platform update that carries
// nothing the pipeline ingests (sticker, photo, edited message). The push
// endpoint must still acknowledge these with 200, or the platform keeps
// redelivering them.
var ErrUnsupportedUpdate = errors.New("unsupported update payload")

// ParseWebhookPayload decodes the JSON body posted by the platform to the
// push endpoint. Valid payloads without ingestible content return
// ErrUnsupportedUpdate.
func ParseWebhookPayload(body []byte) (update.InboundUpdate, error) {
	var raw telego.Update
	if err := json.Unmarshal(body, &raw); err != nil {
		return update.InboundUpdate{}, fmt.Errorf("decode update payload: %w", err)
	}
	converted, ok := Convert(raw)
	if !ok {
		return update.InboundUpdate{}, ErrUnsupportedUpdate
	}
	return converted, nil
}
