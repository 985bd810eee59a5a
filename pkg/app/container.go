// Package app provides the composition root: it wires the pipeline
// components into a ready Orchestrator from configuration.
package app

import (
	"fmt"

	"github.com/teleclerk/teleclerk/pkg/classifier"
	"github.com/teleclerk/teleclerk/pkg/composer"
	"github.com/teleclerk/teleclerk/pkg/config"
	"github.com/teleclerk/teleclerk/pkg/conversation"
	"github.com/teleclerk/teleclerk/pkg/domain"
	"github.com/teleclerk/teleclerk/pkg/extraction"
	"github.com/teleclerk/teleclerk/pkg/infrastructure/eventbus"
	"github.com/teleclerk/teleclerk/pkg/infrastructure/persistence"
	"github.com/teleclerk/teleclerk/pkg/logger"
	"github.com/teleclerk/teleclerk/pkg/pipeline"
	"github.com/teleclerk/teleclerk/pkg/providers"
)

// Container holds the wired application services.
type Container struct {
	Config   *config.Config
	Bus      domain.EventBus
	Store    *persistence.Store
	Contexts *conversation.Store
	Provider providers.LLMProvider

	Orchestrator *pipeline.Orchestrator
}

// NewContainer wires everything below the delivery layer. sender and the
// optional voice source come from the caller because they depend on the
// chosen ingestion front end (Telegram or local console).
func NewContainer(cfg *config.Config, sender pipeline.Sender, voice pipeline.VoiceSource) (*Container, error) {
	store, err := persistence.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	provider, err := providers.New(cfg.Provider)
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := eventbus.New()
	contexts := conversation.NewStore(cfg.Pipeline.ContextWindow, store)

	transcriber, _ := provider.(providers.Transcriber)
	orch := pipeline.New(
		cfg,
		classifier.New(provider, cfg.Pipeline.ClassifyTimeout.Std()),
		extraction.New(provider, cfg.ExtractionThreshold),
		store,
		composer.New(provider),
		contexts,
		store,
		sender,
		bus,
		pipeline.Options{Voice: voice, Transcriber: transcriber},
	)

	return &Container{
		Config:       cfg,
		Bus:          bus,
		Store:        store,
		Contexts:     contexts,
		Provider:     provider,
		Orchestrator: orch,
	}, nil
}

// Close releases the container's resources.
func (c *Container) Close() {
	c.Bus.Close()
	if err := c.Store.Close(); err != nil {
		logger.WarnCF("app", "Storage close failed", map[string]interface{}{"error": err.Error()})
	}
}
