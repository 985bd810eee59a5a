package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleclerk/teleclerk/pkg/classifier"
	"github.com/teleclerk/teleclerk/pkg/composer"
	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
	"github.com/teleclerk/teleclerk/pkg/domain/update"
	"github.com/teleclerk/teleclerk/pkg/extraction"
	"github.com/teleclerk/teleclerk/pkg/providers"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeProvider routes on the system prompt so one fake serves both the
// extraction engine and the conversational fallback.
type fakeProvider struct {
	extractReplies map[string]string // system prompt substring → JSON reply
	chatReply      string
	chatErr        error
}

func (p *fakeProvider) Complete(ctx context.Context, system string, messages []providers.Message) (string, error) {
	for needle, reply := range p.extractReplies {
		if strings.Contains(system, needle) {
			return reply, nil
		}
	}
	return p.chatReply, p.chatErr
}

func (p *fakeProvider) Name() string { return "fake" }

type fakeClassifier struct {
	candidates []classifier.IntentCandidate
}

func (c *fakeClassifier) Classify(ctx context.Context, text string, recent []conversation.Turn) []classifier.IntentCandidate {
	return c.candidates
}

type fakeGateway struct {
	mu      sync.Mutex
	created []entity.Draft
	err     error
}

func (g *fakeGateway) Create(ctx context.Context, draft entity.Draft, ownerID domain.EntityID) (*entity.PersistedEntity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.created = append(g.created, draft)
	return &entity.PersistedEntity{
		ID:        domain.NewID(),
		Kind:      draft.Kind(),
		OwnerID:   ownerID,
		Draft:     draft,
		CreatedAt: domain.Now(),
	}, nil
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

type fakeDirectory struct {
	id  domain.EntityID
	err error
}

func (d *fakeDirectory) ResolveOrCreate(ctx context.Context, platformUserID, chatID int64, hints domain.Metadata) (domain.EntityID, error) {
	return d.id, d.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) SendText(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSender) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *fakeSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ctxBoundSender refuses delivery once the passed context is done, the way
// the real platform adapter does.
type ctxBoundSender struct {
	fakeSender
}

func (s *ctxBoundSender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeSender.SendText(ctx, chatID, text)
}

// captureBus records published event types in order.
type captureBus struct {
	mu    sync.Mutex
	types []domain.EventType
}

func (b *captureBus) Publish(e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.types = append(b.types, e.EventType())
}

func (b *captureBus) Subscribe(domain.EventType, domain.EventHandler) {}
func (b *captureBus) SubscribeAll(domain.EventHandler)                {}
func (b *captureBus) Close()                                          {}

func (b *captureBus) seen() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.EventType(nil), b.types...)
}

// slowClassifier burns wall time before answering, for budget-expiry tests.
type slowClassifier struct {
	delay      time.Duration
	candidates []classifier.IntentCandidate
}

func (c *slowClassifier) Classify(ctx context.Context, text string, recent []conversation.Turn) []classifier.IntentCandidate {
	time.Sleep(c.delay)
	return c.candidates
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	orch      *Orchestrator
	gateway   *fakeGateway
	sender    *fakeSender
	directory *fakeDirectory
	contexts  *conversation.Store
}

func newHarness(t *testing.T, cls classifier.Classifier, provider providers.LLMProvider) *harness {
	t.Helper()
	h := &harness{
		gateway:   &fakeGateway{},
		sender:    &fakeSender{},
		directory: &fakeDirectory{id: domain.NewID()},
		contexts:  conversation.NewStore(6, nil),
	}
	h.orch = New(
		config.Defaults(),
		cls,
		extraction.New(provider, nil),
		h.gateway,
		composer.New(provider),
		h.contexts,
		h.directory,
		h.sender,
		nil,
		Options{},
	)
	return h
}

func inbound(updateID int64) update.InboundUpdate {
	return update.InboundUpdate{
		UpdateID:       updateID,
		PlatformUserID: 100,
		ChatID:         200,
		Text:           "remind me to buy milk tomorrow",
		Channel:        domain.ChannelText,
		ReceivedAt:     domain.Now(),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestProcessPersistsAndConfirms walks the happy path: one intent, one
// persisted task, one confirmation, both turns appended.
func TestProcessPersistsAndConfirms(t *testing.T) {
	provider := &fakeProvider{
		extractReplies: map[string]string{
			"extract a task": `{"confidence":0.92,"title":"Buy milk","deadline":""}`,
		},
	}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.9},
	}}
	h := newHarness(t, cls, provider)

	err := h.orch.Process(context.Background(), inbound(1))
	require.NoError(t, err)

	require.Equal(t, 1, h.gateway.count())
	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "Task saved: Buy milk")

	turns := h.contexts.Read(context.Background(), h.directory.id)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, sent[0], turns[1].Text)
}

// TestProcessDuplicateAcknowledgedSilently verifies a replayed update id
// produces no second reply and no second entity.
func TestProcessDuplicateAcknowledgedSilently(t *testing.T) {
	provider := &fakeProvider{
		extractReplies: map[string]string{
			"extract a task": `{"confidence":0.92,"title":"Buy milk","deadline":""}`,
		},
	}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.9},
	}}
	h := newHarness(t, cls, provider)

	require.NoError(t, h.orch.Process(context.Background(), inbound(7)))
	require.NoError(t, h.orch.Process(context.Background(), inbound(7)))

	assert.Equal(t, 1, h.gateway.count(), "duplicate must not persist twice")
	assert.Len(t, h.sender.messages(), 1, "duplicate must not reply twice")
	assert.Len(t, h.contexts.Read(context.Background(), h.directory.id), 2,
		"duplicate must not append turns twice")
}

// TestProcessThresholdFilter verifies sub-threshold candidates route to the
// conversational fallback instead of extraction.
func TestProcessThresholdFilter(t *testing.T) {
	provider := &fakeProvider{chatReply: "Happy to chat!"}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.4},
	}}
	h := newHarness(t, cls, provider)

	require.NoError(t, h.orch.Process(context.Background(), inbound(2)))

	assert.Zero(t, h.gateway.count(), "filtered intent must not reach the gateway")
	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Happy to chat!", sent[0])
}

// TestProcessMultiIntent verifies one utterance can persist several entities,
// confirmed in extraction order.
func TestProcessMultiIntent(t *testing.T) {
	provider := &fakeProvider{
		extractReplies: map[string]string{
			"extract a task": `{"confidence":0.9,"title":"Buy milk","deadline":""}`,
			"money record":   `{"confidence":0.88,"amount":200,"category":"taxi","comment":""}`,
		},
	}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.9},
		{Kind: domain.IntentAddExpense, Confidence: 0.85},
	}}
	h := newHarness(t, cls, provider)

	require.NoError(t, h.orch.Process(context.Background(), inbound(3)))

	assert.Equal(t, 2, h.gateway.count())
	sent := h.sender.messages()
	require.Len(t, sent, 1)
	lines := strings.Split(sent[0], "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Task saved")
	assert.Contains(t, lines[1], "Expense recorded: 200")
}

// TestProcessDegradedIdentity verifies a directory outage degrades to a
// conversational reply with no persistence and no memory writes.
func TestProcessDegradedIdentity(t *testing.T) {
	provider := &fakeProvider{
		extractReplies: map[string]string{
			"extract a task": `{"confidence":0.92,"title":"Buy milk","deadline":""}`,
		},
		chatReply: "Noted, though I can't save things right now.",
	}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.9},
	}}
	h := newHarness(t, cls, provider)
	h.directory.err = errors.New("users table corrupted")

	require.NoError(t, h.orch.Process(context.Background(), inbound(4)))

	assert.Zero(t, h.gateway.count(), "degraded mode must not persist")
	sent := h.sender.messages()
	require.Len(t, sent, 1, "the user still gets exactly one reply")
	assert.Equal(t, "Noted, though I can't save things right now.", sent[0])
	assert.Empty(t, h.contexts.Read(context.Background(), h.directory.id),
		"degraded mode must not write memory")
}

// TestProcessGatewayFailureStillReplies verifies persistence failure keeps
// the reply contract intact.
func TestProcessGatewayFailureStillReplies(t *testing.T) {
	provider := &fakeProvider{
		extractReplies: map[string]string{
			"extract a task": `{"confidence":0.92,"title":"Buy milk","deadline":""}`,
		},
		chatReply: "Sorry, saving that did not work.",
	}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.9},
	}}
	h := newHarness(t, cls, provider)
	h.gateway.err = errors.New("constraint violation")

	require.NoError(t, h.orch.Process(context.Background(), inbound(5)))

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Sorry, saving that did not work.", sent[0])
}

// TestProcessApologyWhenEverythingIsDown verifies the static last-resort
// reply when the fallback generator itself fails.
func TestProcessApologyWhenEverythingIsDown(t *testing.T) {
	provider := &fakeProvider{chatErr: errors.New("provider down")}
	cls := &fakeClassifier{}
	h := newHarness(t, cls, provider)

	require.NoError(t, h.orch.Process(context.Background(), inbound(6)))

	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, composer.Apology, sent[0])
}

// TestProcessGeneralChatSkipsExtraction verifies chat-only intents never
// touch the gateway.
func TestProcessGeneralChatSkipsExtraction(t *testing.T) {
	provider := &fakeProvider{chatReply: "Doing great, thanks!"}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentGeneralChat, Confidence: 0.95},
	}}
	h := newHarness(t, cls, provider)

	require.NoError(t, h.orch.Process(context.Background(), inbound(8)))

	assert.Zero(t, h.gateway.count())
	sent := h.sender.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "Doing great, thanks!", sent[0])
}

// TestProcessBudgetExpiryStillReplies verifies a spent per-update budget does
// not swallow the reply: delivery runs on a detached grace window, so even a
// context-bound sender gets the static apology out.
func TestProcessBudgetExpiryStillReplies(t *testing.T) {
	provider := &fakeProvider{chatErr: errors.New("provider down")}
	cls := &slowClassifier{delay: 100 * time.Millisecond}
	cfg := config.Defaults()
	cfg.Pipeline.UpdateBudget = config.Duration(20 * time.Millisecond)

	sender := &ctxBoundSender{}
	contexts := conversation.NewStore(6, nil)
	orch := New(
		cfg,
		cls,
		extraction.New(provider, nil),
		&fakeGateway{},
		composer.New(provider),
		contexts,
		&fakeDirectory{id: domain.NewID()},
		sender,
		nil,
		Options{},
	)

	require.NoError(t, orch.Process(context.Background(), inbound(20)))

	sent := sender.messages()
	require.Len(t, sent, 1, "the user still gets a reply after budget expiry")
	assert.Equal(t, composer.Apology, sent[0])
}

// TestProcessFailedDeliveryAllowsRetry verifies an update whose reply never
// went out is not remembered as processed: the platform's redelivery of the
// same id runs the pipeline again and the user finally gets an answer.
func TestProcessFailedDeliveryAllowsRetry(t *testing.T) {
	provider := &fakeProvider{
		extractReplies: map[string]string{
			"extract a task": `{"confidence":0.92,"title":"Buy milk","deadline":""}`,
		},
	}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.9},
	}}
	h := newHarness(t, cls, provider)
	h.sender.setErr(errors.New("network down"))

	require.Error(t, h.orch.Process(context.Background(), inbound(9)))
	require.Empty(t, h.sender.messages())

	h.sender.setErr(nil)
	require.NoError(t, h.orch.Process(context.Background(), inbound(9)))

	sent := h.sender.messages()
	require.Len(t, sent, 1, "redelivered update must be reprocessed, not acknowledged silently")
	assert.Contains(t, sent[0], "Task saved: Buy milk")
}

// TestProcessPublishesPipelineEvents pins the event trail of a successful
// update, conversation turn append included.
func TestProcessPublishesPipelineEvents(t *testing.T) {
	provider := &fakeProvider{
		extractReplies: map[string]string{
			"extract a task": `{"confidence":0.92,"title":"Buy milk","deadline":""}`,
		},
	}
	cls := &fakeClassifier{candidates: []classifier.IntentCandidate{
		{Kind: domain.IntentCreateTask, Confidence: 0.9},
	}}
	bus := &captureBus{}
	orch := New(
		config.Defaults(),
		cls,
		extraction.New(provider, nil),
		&fakeGateway{},
		composer.New(provider),
		conversation.NewStore(6, nil),
		&fakeDirectory{id: domain.NewID()},
		&fakeSender{},
		bus,
		Options{},
	)

	require.NoError(t, orch.Process(context.Background(), inbound(30)))

	assert.Equal(t, []domain.EventType{
		domain.EventUpdateReceived,
		domain.EventIntentClassified,
		domain.EventDraftExtracted,
		domain.EventEntityPersisted,
		domain.EventReplySent,
		domain.EventTurnAppended,
	}, bus.seen())
}
