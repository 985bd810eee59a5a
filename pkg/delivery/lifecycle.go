// Package delivery owns how inbound updates reach the pipeline: push
// (webhook) or pull (long polling). One explicit state machine guards the
// two modes so both can never ingest at once, and every mode switch passes
// through Disabled.
package delivery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/domain/update"
	"github.com/teleclerk/teleclerk/pkg/logger"
)

// Platform is the subset of the chat platform the manager drives.
type Platform interface {
	Poll(ctx context.Context) (<-chan update.InboundUpdate, error)
	RegisterWebhook(ctx context.Context, url, secret string) error
	DeregisterWebhook(ctx context.Context) error
	Backlog(ctx context.Context, offset int64) ([]update.InboundUpdate, int64, error)
	Confirm(ctx context.Context, offset int64) error
}

// Handler processes one inbound update end to end.
type Handler interface {
	Process(ctx context.Context, u update.InboundUpdate) error
}

// Manager is the process-wide delivery mode singleton.
type Manager struct {
	platform Platform
	handler  Handler
	bus      domain.EventBus
	cfg      config.TelegramConfig

	mu       sync.Mutex
	state    domain.DeliveryState
	draining bool

	// polling run-loop coordination
	pollCancel context.CancelFunc
	pollDone   chan struct{}

	// in-flight dispatches, awaited on deactivate
	dispatches sync.WaitGroup
}

// NewManager creates a manager in the Disabled state.
func NewManager(platform Platform, handler Handler, bus domain.EventBus, cfg config.TelegramConfig) *Manager {
	return &Manager{
		platform: platform,
		handler:  handler,
		bus:      bus,
		cfg:      cfg,
		state:    domain.DeliveryDisabled,
	}
}

// State returns the current delivery state.
func (m *Manager) State() domain.DeliveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ---------------------------------------------------------------------------
// Mode selection
// ---------------------------------------------------------------------------

// SelectMode decides the target mode from configuration: a valid externally
// reachable secure webhook URL selects push, anything else selects polling.
// An invalid URL is never fatal: the reason is logged and polling wins.
func (m *Manager) SelectMode() domain.DeliveryState {
	if strings.TrimSpace(m.cfg.WebhookURL) == "" {
		return domain.DeliveryPolling
	}
	if reason := validateWebhookURL(m.cfg.WebhookURL); reason != "" {
		logger.WarnCF("delivery", "Webhook URL rejected, falling back to polling", map[string]interface{}{
			"url":    m.cfg.WebhookURL,
			"reason": reason,
		})
		return domain.DeliveryPolling
	}
	return domain.DeliveryWebhookPending
}

// validateWebhookURL returns a human-readable rejection reason, or empty
// when the URL is acceptable as a push endpoint.
func validateWebhookURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("unparseable: %v", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Sprintf("scheme %q is not https", parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return "missing host"
	}
	if strings.EqualFold(host, "localhost") {
		return "loopback host"
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() {
			return "loopback address"
		}
		if ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return "not externally reachable"
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Activation / deactivation
// ---------------------------------------------------------------------------

// Activate transitions Disabled → target. Any other starting state, or an
// in-progress drain, is a mode conflict and the caller must retry after
// deactivation completes.
func (m *Manager) Activate(ctx context.Context, target domain.DeliveryState) error {
	m.mu.Lock()
	if m.state != domain.DeliveryDisabled || m.draining {
		m.mu.Unlock()
		return fmt.Errorf("activate %s while %s: %w", target, m.state, domain.ErrModeConflict)
	}
	if target == domain.DeliveryWebhookActive {
		target = domain.DeliveryWebhookPending
	}
	if target != domain.DeliveryPolling && target != domain.DeliveryWebhookPending {
		m.mu.Unlock()
		return fmt.Errorf("cannot activate state %s", target)
	}
	m.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	// Polling must be fully stopped before any webhook registration; a
	// previous run-loop may still be unwinding.
	m.awaitPollExit()

	// getUpdates conflicts with an active webhook registration, so the
	// backlog is drained between deregistration and (re)registration.
	if err := m.platform.DeregisterWebhook(ctx); err != nil {
		logger.WarnCF("delivery", "Webhook deregistration failed, continuing", map[string]interface{}{
			"error": err.Error(),
		})
	}

	drained, err := m.drainBacklog(ctx)
	if err != nil {
		logger.WarnCF("delivery", "Backlog drain incomplete", map[string]interface{}{
			"drained": drained,
			"error":   err.Error(),
		})
	}

	switch target {
	case domain.DeliveryPolling:
		return m.startPolling(ctx)
	default:
		return m.registerWebhook(ctx)
	}
}

// Deactivate stops ingestion and returns to Disabled. It blocks until the
// in-flight polling read completes: this is the one hard synchronization
// barrier in the system.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	cancel := m.pollCancel
	m.pollCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.awaitPollExit()
	m.dispatches.Wait()

	if state == domain.DeliveryWebhookActive || state == domain.DeliveryWebhookPending {
		if err := m.platform.DeregisterWebhook(ctx); err != nil {
			logger.WarnCF("delivery", "Webhook deregistration failed on shutdown", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	m.setState(domain.DeliveryDisabled)
	return nil
}

// Switch moves between modes, always passing through Disabled.
func (m *Manager) Switch(ctx context.Context, target domain.DeliveryState) error {
	if err := m.Deactivate(ctx); err != nil {
		return err
	}
	return m.Activate(ctx, target)
}

func (m *Manager) setState(s domain.DeliveryState) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()
	if prev != s && m.bus != nil {
		m.bus.Publish(domain.NewEvent(domain.EventModeChanged, "", map[string]string{
			"from": prev.String(),
			"to":   s.String(),
		}))
	}
	logger.InfoCF("delivery", "Delivery state changed", map[string]interface{}{
		"from": prev.String(),
		"to":   s.String(),
	})
}

func (m *Manager) awaitPollExit() {
	m.mu.Lock()
	done := m.pollDone
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// ---------------------------------------------------------------------------
// Polling run-loop
// ---------------------------------------------------------------------------

func (m *Manager) startPolling(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	updates, err := m.platform.Poll(pollCtx)
	if err != nil {
		cancel()
		m.setState(domain.DeliveryDisabled)
		return fmt.Errorf("start polling: %w", err)
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.pollCancel = cancel
	m.pollDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		for u := range updates {
			m.dispatch(u)
		}
		logger.InfoC("delivery", "Polling run-loop exited")
	}()

	m.setState(domain.DeliveryPolling)
	return nil
}

// dispatch hands one update to the pipeline. Different users process
// concurrently; the orchestrator sequences per user.
func (m *Manager) dispatch(u update.InboundUpdate) {
	m.dispatches.Add(1)
	go func() {
		defer m.dispatches.Done()
		if err := m.handler.Process(context.Background(), u); err != nil {
			logger.ErrorCF("delivery", "Update processing failed", map[string]interface{}{
				"update_id": u.UpdateID,
				"error":     err.Error(),
			})
		}
	}()
}

// ---------------------------------------------------------------------------
// Webhook registration
// ---------------------------------------------------------------------------

func (m *Manager) registerWebhook(ctx context.Context) error {
	m.setState(domain.DeliveryWebhookPending)
	if err := m.platform.RegisterWebhook(ctx, m.cfg.WebhookURL, m.cfg.WebhookSecret); err != nil {
		m.setState(domain.DeliveryDisabled)
		return fmt.Errorf("register webhook: %w", err)
	}
	m.setState(domain.DeliveryWebhookActive)
	return nil
}

// ---------------------------------------------------------------------------
// Backlog drain
// ---------------------------------------------------------------------------

// DrainBacklog resubmits updates queued while ingestion was inactive.
// Per-item failures are logged and never abort the drain.
func (m *Manager) DrainBacklog(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.state != domain.DeliveryDisabled || m.draining {
		m.mu.Unlock()
		return 0, fmt.Errorf("drain while %s: %w", m.state, domain.ErrModeConflict)
	}
	m.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	return m.drainBacklog(ctx)
}

func (m *Manager) drainBacklog(ctx context.Context) (int, error) {
	var offset int64
	count := 0
	for {
		batch, next, err := m.platform.Backlog(ctx, offset)
		if err != nil {
			return count, fmt.Errorf("read backlog: %w", err)
		}
		if len(batch) == 0 && next == offset {
			break
		}
		for _, u := range batch {
			if err := m.handler.Process(ctx, u); err != nil {
				logger.WarnCF("delivery", "Backlog item failed, continuing drain", map[string]interface{}{
					"update_id": u.UpdateID,
					"error":     err.Error(),
				})
			}
			count++
		}
		offset = next
	}

	if offset > 0 {
		if err := m.platform.Confirm(ctx, offset); err != nil {
			logger.WarnCF("delivery", "Backlog confirm failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if m.bus != nil {
		m.bus.Publish(domain.NewEvent(domain.EventBacklogDrained, "", map[string]interface{}{
			"count": count,
		}))
	}
	logger.InfoCF("delivery", "Backlog drained", map[string]interface{}{"count": count})
	return count, nil
}
