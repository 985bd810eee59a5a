package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teleclerk/teleclerk/pkg/classifier"
	"github.com/teleclerk/teleclerk/pkg/composer"
	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
	"github.com/teleclerk/teleclerk/pkg/extraction"
	"github.com/teleclerk/teleclerk/pkg/pipeline"
	"github.com/teleclerk/teleclerk/pkg/providers"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type nopProvider struct{}

func (nopProvider) Complete(ctx context.Context, system string, messages []providers.Message) (string, error) {
	return "Hello!", nil
}

func (nopProvider) Name() string { return "nop" }

type nopClassifier struct{}

func (nopClassifier) Classify(ctx context.Context, text string, recent []conversation.Turn) []classifier.IntentCandidate {
	return nil
}

type nopGateway struct{}

func (nopGateway) Create(ctx context.Context, draft entity.Draft, ownerID domain.EntityID) (*entity.PersistedEntity, error) {
	return nil, domain.Invalid(draft.Kind(), "owner", "not wired")
}

type nopDirectory struct{}

func (nopDirectory) ResolveOrCreate(ctx context.Context, platformUserID, chatID int64, hints domain.Metadata) (domain.EntityID, error) {
	return domain.NewID(), nil
}

type nopSender struct{}

func (nopSender) SendText(ctx context.Context, chatID int64, text string) error { return nil }

func newWebhookServer(cfg *config.Config) *Server {
	provider := nopProvider{}
	orch := pipeline.New(
		cfg,
		nopClassifier{},
		extraction.New(provider, nil),
		nopGateway{},
		composer.New(provider),
		conversation.NewStore(6, nil),
		nopDirectory{},
		nopSender{},
		nil,
		pipeline.Options{},
	)
	return NewServer(cfg, orch, nil, nil, nil)
}

func postWebhook(s *Server, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.handleWebhook(rr, req)
	return rr
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestHandleWebhookStatusCodes pins the response contract: 400 only for
// bodies that do not decode, 200 for everything well-formed, whether or not
// the pipeline ingests it. Anything but 2xx makes the platform redeliver.
func TestHandleWebhookStatusCodes(t *testing.T) {
	textUpdate := `{"update_id":11,"message":{"message_id":1,"date":1700000000,` +
		`"chat":{"id":4200,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Alice"},"text":"hi"}}`
	stickerUpdate := `{"update_id":12,"message":{"message_id":2,"date":1700000000,` +
		`"chat":{"id":4200,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Alice"},` +
		`"sticker":{"file_id":"st1","file_unique_id":"u1","type":"regular","width":1,"height":1,"is_animated":false,"is_video":false}}}`

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"malformed body", `{not json`, http.StatusBadRequest},
		{"ingestible text update", textUpdate, http.StatusOK},
		{"well-formed sticker update", stickerUpdate, http.StatusOK},
		{"well-formed empty update", `{"update_id":13}`, http.StatusOK},
	}

	s := newWebhookServer(config.Defaults())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postWebhook(s, tt.body, nil)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

// TestHandleWebhookSecretToken verifies the shared-secret gate on the push
// endpoint.
func TestHandleWebhookSecretToken(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telegram.WebhookSecret = "s3cret"
	s := newWebhookServer(cfg)

	rr := postWebhook(s, `{"update_id":14}`, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code, "missing secret token must be rejected")

	rr = postWebhook(s, `{"update_id":14}`, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "s3cret",
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}
