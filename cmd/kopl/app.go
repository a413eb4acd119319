// Copyright 2026 © The Kopl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jllopis/kopl/pkg/agent"
	"github.com/jllopis/kopl/pkg/config"
	"github.com/jllopis/kopl/pkg/engine"
	"github.com/jllopis/kopl/pkg/kb"
	"github.com/jllopis/kopl/pkg/kopl"
	"github.com/jllopis/kopl/pkg/llm"
	"github.com/jllopis/kopl/pkg/memory"
	"github.com/jllopis/kopl/pkg/memory/ollama"
	"github.com/jllopis/kopl/pkg/memory/qdrant"
	"github.com/jllopis/kopl/pkg/resilience"
	"github.com/jllopis/kopl/pkg/telemetry"
	"github.com/jllopis/kopl/pkg/tools"
)

// app holds what every command builds from the configuration.
type app struct {
	cfg      *config.Config
	json     bool
	recorder telemetry.Recorder
	shutdown telemetry.ShutdownFunc
	closers  []func() error

	// embedder overrides the configured embedder when set.
	embedder memory.Embedder
}

func newApp(cfg *config.Config, flags globalFlags) (*app, error) {
	recorder, shutdown, err := telemetry.Init("kopl", version, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		PrometheusAddr: cfg.Telemetry.PrometheusAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}
	return &app{cfg: cfg, json: flags.JSON, recorder: recorder, shutdown: shutdown}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("app.close.error", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			slog.Warn("telemetry.shutdown.error", slog.String("error", err.Error()))
		}
	}
}

func (a *app) policy() kopl.Policy {
	return kopl.Policy{
		Tolerance:              a.cfg.Engine.Tolerance,
		EmptyUnitDimensionless: a.cfg.Engine.EmptyUnit == "dimensionless",
	}
}

// kbPath returns override when set and kb.path otherwise.
func (a *app) kbPath(override string) string {
	if override != "" {
		return override
	}
	return a.cfg.KB.Path
}

// loadKB reads the knowledge base, through the snapshot cache when
// kb.cache_path is set.
func (a *app) loadKB(ctx context.Context, path string) (*kb.KB, error) {
	if a.cfg.KB.CachePath == "" {
		return kb.Load(path)
	}
	cache, err := kb.OpenCache(a.cfg.KB.CachePath)
	if err != nil {
		return nil, err
	}
	defer cache.Close()
	return cache.Load(ctx, path)
}

func (a *app) newEngine(ctx context.Context, path string) (*engine.Engine, error) {
	path = a.kbPath(path)
	k, err := a.loadKB(ctx, path)
	if err != nil {
		return nil, NewKBError(err, path)
	}
	stats := k.Stats()
	slog.InfoContext(ctx, "kb.loaded",
		slog.String("path", path),
		slog.Int("entities", stats.Entities),
		slog.Int("concepts", stats.Concepts),
		slog.Int("edges", stats.Edges),
	)
	return engine.New(k,
		engine.WithPolicy(a.policy()),
		engine.WithTiePolicy(engine.TiePolicy(a.cfg.Engine.TiePolicy)),
	), nil
}

func (a *app) sessionOptions() []tools.Option {
	return []tools.Option{
		tools.WithDisplayLimit(a.cfg.Agent.DisplayLimit),
		tools.WithPreviewItems(a.cfg.Agent.PreviewItems),
		tools.WithRecorder(a.recorder),
	}
}

// provider builds the oracle transport with retries on recoverable errors.
func (a *app) provider() (llm.Provider, error) {
	var p llm.Provider
	switch a.cfg.LLM.Provider {
	case "ollama":
		p = llm.NewOllama(a.cfg.LLM.BaseURL)
	case "openai":
		opts := []llm.OpenAIOption{llm.WithModel(a.cfg.LLM.Model)}
		if a.cfg.LLM.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(a.cfg.LLM.BaseURL))
		}
		if a.cfg.LLM.APIKey != "" {
			opts = append(opts, llm.WithAPIKey(a.cfg.LLM.APIKey))
		}
		p = llm.NewOpenAI(opts...)
	case "mock":
		return llm.NewCannedOracle(a.cfg.LLM.MockAnswer), nil
	default:
		return nil, fmt.Errorf("unsupported llm.provider %q", a.cfg.LLM.Provider)
	}
	if a.cfg.LLM.RetryAttempts > 1 {
		p = llm.WithRetry(p, resilience.DefaultRetryConfig().WithMaxAttempts(a.cfg.LLM.RetryAttempts))
	}
	return p, nil
}

// newLoop builds the agent loop for e. The exemplar proposer is returned
// when agent.decision is "exemplar" so callers can record finished runs.
func (a *app) newLoop(ctx context.Context, e *engine.Engine) (*agent.Loop, *agent.ExemplarProposer, error) {
	p, err := a.provider()
	if err != nil {
		return nil, nil, err
	}
	var proposer agent.Proposer = agent.NewLLMProposer(p, a.cfg.LLM.Model,
		agent.WithTemperature(a.cfg.LLM.Temperature),
		agent.WithOracleRecorder(a.recorder),
	)

	var exemplars *agent.ExemplarProposer
	if a.cfg.Agent.Decision == "exemplar" {
		index, err := a.exemplarIndex(ctx)
		if err != nil {
			return nil, nil, err
		}
		exemplars = agent.NewExemplarProposer(index, proposer,
			agent.WithThreshold(float32(a.cfg.Agent.ExemplarThreshold)),
			agent.WithMinHistory(a.cfg.Agent.ExemplarMinHistory),
		)
		proposer = exemplars
	}

	opts := a.sessionOptions()
	loop := agent.NewLoop(proposer,
		func() *tools.Session { return tools.NewSession(e, opts...) },
		agent.WithMaxSteps(a.cfg.Agent.MaxSteps),
		agent.WithRecorder(a.recorder),
	)
	return loop, exemplars, nil
}

func (a *app) exemplarIndex(ctx context.Context) (*memory.Index, error) {
	var store memory.VectorStore
	switch a.cfg.Memory.Store {
	case "qdrant":
		qs, err := qdrant.New(a.cfg.Memory.QdrantAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, qs.Close)
		store = qs
	default:
		store = memory.NewInMemoryStore()
	}
	embedder := a.embedder
	if embedder == nil {
		embedder = ollama.NewEmbedder(a.cfg.Memory.EmbedderBaseURL, a.cfg.Memory.EmbedderModel)
	}
	index := memory.NewIndex(store, embedder, a.cfg.Agent.ExemplarCollection)
	if err := index.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize exemplar index: %w", err)
	}
	return index, nil
}
