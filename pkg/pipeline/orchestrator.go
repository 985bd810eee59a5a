// Package pipeline sequences the message-intake chain for one inbound
// update: dedup → identity → context read → classify → extract → persist →
// compose → send → context append. The user always gets exactly one reply
// attempt, whatever fails along the way.
package pipeline

import (
	"bytes"
	"context"
	"time"

	"github.com/teleclerk/teleclerk/pkg/classifier"
	"github.com/teleclerk/teleclerk/pkg/composer"
	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/entity"
	"github.com/teleclerk/teleclerk/pkg/domain/update"
	"github.com/teleclerk/teleclerk/pkg/extraction"
	"github.com/teleclerk/teleclerk/pkg/logger"
	"github.com/teleclerk/teleclerk/pkg/providers"
	"github.com/teleclerk/teleclerk/pkg/retry"
)

const voiceFallbackText = "(a voice message that could not be transcribed)"

// sendGrace bounds reply delivery after the per-update budget has already
// expired. The reply guarantee outranks the budget: a composed apology still
// has to reach the user.
const sendGrace = 5 * time.Second

// Directory is the external identity collaborator: idempotent per platform
// user id.
type Directory interface {
	ResolveOrCreate(ctx context.Context, platformUserID, chatID int64, hints domain.Metadata) (domain.EntityID, error)
}

// Sender delivers the reply back through the platform.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// VoiceSource downloads voice payloads for transcription.
type VoiceSource interface {
	DownloadVoice(ctx context.Context, fileID string) ([]byte, error)
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	cfg         *config.Config
	classifier  classifier.Classifier
	engine      *extraction.Engine
	gateway     entity.Gateway
	composer    *composer.Composer
	contexts    *conversation.Store
	directory   Directory
	sender      Sender
	voice       VoiceSource
	transcriber providers.Transcriber
	bus         domain.EventBus

	dedup *dedupSet
	seq   *sequencer
}

// Options carries the optional collaborators.
type Options struct {
	Voice       VoiceSource
	Transcriber providers.Transcriber
}

// New creates an orchestrator.
func New(
	cfg *config.Config,
	cls classifier.Classifier,
	engine *extraction.Engine,
	gateway entity.Gateway,
	comp *composer.Composer,
	contexts *conversation.Store,
	directory Directory,
	sender Sender,
	bus domain.EventBus,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		classifier:  cls,
		engine:      engine,
		gateway:     gateway,
		composer:    comp,
		contexts:    contexts,
		directory:   directory,
		sender:      sender,
		voice:       opts.Voice,
		transcriber: opts.Transcriber,
		bus:         bus,
		dedup:       newDedupSet(cfg.Pipeline.DedupWindow),
		seq:         newSequencer(),
	}
}

// callState threads one update's resolved identity and degraded-mode flag
// through the pipeline instead of hiding them in shared state.
type callState struct {
	update   update.InboundUpdate
	userID   domain.EntityID
	degraded bool
	text     string
	recent   []conversation.Turn
}

// Process runs the full pipeline for one update. Duplicates are acknowledged
// silently; everything else produces exactly one reply attempt.
func (o *Orchestrator) Process(ctx context.Context, u update.InboundUpdate) error {
	if o.dedup.Seen(u.UpdateID) {
		o.publish(domain.EventUpdateDuplicate, "", map[string]interface{}{"update_id": u.UpdateID})
		logger.DebugCF("pipeline", "Duplicate update acknowledged", map[string]interface{}{
			"update_id": u.UpdateID,
		})
		return nil
	}

	// Same-user updates run strictly sequentially. The lock is taken before
	// the budget starts so time spent queued behind an earlier update does
	// not count against this one.
	release := o.seq.Lock(u.PlatformUserID)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.UpdateBudget.Std())
	defer cancel()

	o.publish(domain.EventUpdateReceived, "", map[string]interface{}{
		"update_id": u.UpdateID,
		"channel":   u.Channel.String(),
	})

	state := o.resolveIdentity(ctx, u)
	state.update = state.update.WithText(o.resolveText(ctx, state))
	state.text = state.update.Text
	state.recent = o.contexts.Read(ctx, state.userID)

	results := o.extractAndPersist(ctx, state)
	reply := o.compose(ctx, state, results)

	// Delivery and the context appends run on a short detached window when
	// the budget is already spent, so a late composition still goes out.
	sendCtx := ctx
	if ctx.Err() != nil {
		var graceCancel context.CancelFunc
		sendCtx, graceCancel = context.WithTimeout(context.WithoutCancel(ctx), sendGrace)
		defer graceCancel()
	}

	sendErr := retry.Do(sendCtx, retry.DefaultPolicy(), func() error {
		return o.sender.SendText(sendCtx, u.ChatID, reply)
	})
	if sendErr != nil {
		// Nothing reached the user: forget the id so the platform's retry
		// of this update is reprocessed instead of acknowledged silently.
		o.dedup.Forget(u.UpdateID)
		o.publish(domain.EventReplyFailed, state.userID, map[string]interface{}{
			"update_id": u.UpdateID,
			"error":     sendErr.Error(),
		})
		logger.ErrorCF("pipeline", "Reply delivery failed", map[string]interface{}{
			"update_id": u.UpdateID,
			"chat_id":   u.ChatID,
			"error":     sendErr.Error(),
		})
		return sendErr
	}
	o.publish(domain.EventReplySent, state.userID, map[string]interface{}{"update_id": u.UpdateID})

	// Both turns append after delivery, in arrival order, guarded by the
	// per-user lock. Degraded mode skips memory entirely (zero userID
	// no-ops inside the store).
	now := domain.Now()
	o.contexts.Append(sendCtx, state.userID, conversation.Turn{Role: domain.RoleUser, Text: state.text, At: u.ReceivedAt})
	o.contexts.Append(sendCtx, state.userID, conversation.Turn{Role: domain.RoleAssistant, Text: reply, At: now})
	if !state.degraded {
		o.publish(domain.EventTurnAppended, state.userID, map[string]interface{}{
			"update_id": u.UpdateID,
			"turns":     2,
		})
	}
	return nil
}

// resolveIdentity calls the identity collaborator. Total failure flips the
// call into degraded no-memory mode instead of aborting: context and
// persistence become no-ops and the reply stays conversational.
func (o *Orchestrator) resolveIdentity(ctx context.Context, u update.InboundUpdate) callState {
	state := callState{update: u}
	userID, err := o.directory.ResolveOrCreate(ctx, u.PlatformUserID, u.ChatID, u.Profile)
	if err != nil {
		state.degraded = true
		o.publish(domain.EventUpdateDegraded, "", map[string]interface{}{
			"update_id": u.UpdateID,
			"error":     err.Error(),
		})
		logger.WarnCF("pipeline", "Identity resolution failed, continuing without memory", map[string]interface{}{
			"update_id": u.UpdateID,
			"error":     err.Error(),
		})
		return state
	}
	state.userID = userID
	return state
}

// resolveText returns the classifiable text, transcribing voice updates
// first. Transcription failure degrades to a conversational placeholder.
func (o *Orchestrator) resolveText(ctx context.Context, state callState) string {
	u := state.update
	if !u.IsVoice() {
		return u.Text
	}
	if o.voice == nil || o.transcriber == nil {
		return voiceFallbackText
	}

	audio, err := o.voice.DownloadVoice(ctx, u.VoiceFileID)
	if err == nil {
		var text string
		text, err = o.transcriber.Transcribe(ctx, bytes.NewReader(audio), "voice.ogg")
		if err == nil {
			return text
		}
	}
	logger.WarnCF("pipeline", "Voice transcription failed", map[string]interface{}{
		"update_id": u.UpdateID,
		"error":     err.Error(),
	})
	return voiceFallbackText
}

// extractAndPersist runs classification, threshold routing, per-kind
// extraction, and per-draft persistence. Every failure is isolated to its
// own entity.
func (o *Orchestrator) extractAndPersist(ctx context.Context, state callState) []composer.Result {
	candidates := o.classifier.Classify(ctx, state.text, state.recent)
	o.publish(domain.EventIntentClassified, state.userID, map[string]interface{}{
		"update_id":  state.update.UpdateID,
		"candidates": len(candidates),
	})

	threshold := o.cfg.RoutingThreshold()
	var results []composer.Result
	for _, cand := range candidates {
		if cand.Confidence < threshold {
			o.publish(domain.EventIntentFiltered, state.userID, map[string]interface{}{
				"intent":     cand.Kind.String(),
				"confidence": cand.Confidence,
			})
			continue
		}
		if !cand.Kind.Extractable() {
			continue
		}
		if ctx.Err() != nil {
			// Budget exhausted: abandon remaining extraction, keep what we
			// already have.
			break
		}
		results = append(results, o.processIntent(ctx, state, cand.Kind))
	}
	return results
}

func (o *Orchestrator) processIntent(ctx context.Context, state callState, kind domain.IntentKind) composer.Result {
	result := composer.Result{Kind: kind}

	draft, err := o.engine.Extract(ctx, kind, state.text, state.recent)
	if err != nil {
		result.Err = err
		o.publish(domain.EventDraftRejected, state.userID, map[string]interface{}{
			"intent": kind.String(),
			"error":  err.Error(),
		})
		logger.DebugCF("pipeline", "Extraction rejected", map[string]interface{}{
			"intent": kind.String(),
			"error":  err.Error(),
		})
		return result
	}
	o.publish(domain.EventDraftExtracted, state.userID, map[string]interface{}{"intent": kind.String()})

	// No user record means nothing to own the entity; keep the reply
	// conversational.
	if state.degraded {
		result.Err = domain.Invalid(kind, "owner", "degraded mode, persistence skipped")
		return result
	}

	err = retry.Do(ctx, retry.Policy{MaxAttempts: 2, Backoff: 300 * time.Millisecond, MaxBackoff: time.Second}, func() error {
		persisted, createErr := o.gateway.Create(ctx, draft, state.userID)
		if createErr != nil {
			return createErr
		}
		result.Entity = persisted
		return nil
	})
	if err != nil {
		result.Err = err
		o.publish(domain.EventEntityFailed, state.userID, map[string]interface{}{
			"intent": kind.String(),
			"error":  err.Error(),
		})
		logger.WarnCF("pipeline", "Entity persistence failed", map[string]interface{}{
			"intent": kind.String(),
			"error":  err.Error(),
		})
		return result
	}

	o.publish(domain.EventEntityPersisted, state.userID, map[string]interface{}{
		"intent":    kind.String(),
		"entity_id": result.Entity.ID.String(),
	})
	return result
}

func (o *Orchestrator) compose(ctx context.Context, state callState, results []composer.Result) string {
	if ctx.Err() != nil {
		// Budget exceeded before composition: emit whatever partial
		// confirmation exists, else the static fallback.
		for _, res := range results {
			if res.Entity != nil {
				return o.composer.Compose(context.WithoutCancel(ctx), results, state.text, nil)
			}
		}
		return composer.Apology
	}
	return o.composer.Compose(ctx, results, state.text, state.recent)
}

// DedupSize reports the dedup set size (status surface).
func (o *Orchestrator) DedupSize() int { return o.dedup.Len() }

func (o *Orchestrator) publish(t domain.EventType, agg domain.EntityID, data interface{}) {
	if o.bus != nil {
		o.bus.Publish(domain.NewEvent(t, agg, data))
	}
}
