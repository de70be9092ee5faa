package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/heartwood-builders/attribution/internal/attribution"
	"github.com/heartwood-builders/attribution/internal/cascade"
	"github.com/heartwood-builders/attribution/internal/facts"
	"github.com/heartwood-builders/attribution/internal/guardrail"
	"github.com/heartwood-builders/attribution/internal/hooks"
	"github.com/heartwood-builders/attribution/internal/retrieval"
	"github.com/heartwood-builders/attribution/pkg/anthropic"
	"github.com/heartwood-builders/attribution/pkg/openai"
)

// env holds the wired pipeline and its owned resources.
type env struct {
	pool       *pgxpool.Pool
	facts      *facts.Store
	attrStore  *attribution.Store
	dispatcher *hooks.Dispatcher
	pipeline   *attribution.Pipeline
}

func (e *env) Close() {
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// initPipeline wires the full attribution pipeline from config.
func initPipeline(ctx context.Context) (*env, error) {
	pool, err := facts.NewPool(ctx, cfg.Store.DatabaseURL, &facts.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}

	factStore := facts.NewStoreWithPool(pool)
	attrStore := attribution.NewStore(pool)

	var embedder retrieval.Embedder
	var openaiClient openai.Client
	if cfg.OpenAI.Key != "" {
		openaiClient = openai.NewClient(cfg.OpenAI.Key,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithEmbedModel(cfg.OpenAI.EmbedModel),
			openai.WithRateLimit(cfg.OpenAI.RPS),
		)
		embedder = openaiClient
	}

	sources := []retrieval.Source{
		retrieval.NewAssignmentSource(),
		retrieval.NewAffinitySource(factStore),
		retrieval.NewScanSource(factStore, cfg.Retrieval.MaxAliasTerms),
		retrieval.NewFTSSource(factStore, cfg.Retrieval.FTSLimit),
		retrieval.NewVectorSource(factStore, embedder, cfg.Retrieval.VectorLimit),
		retrieval.NewTrigramSource(factStore, cfg.Retrieval.TrigramThreshold, cfg.Retrieval.TrigramLimit),
		retrieval.NewGeoSource(factStore, cfg.Retrieval.GeoMaxDistanceKM, cfg.Retrieval.GeoMaxCandidates),
	}
	retriever := retrieval.NewEngine(sources, factStore, factStore, cfg.Retrieval)

	var providers []cascade.Provider
	if openaiClient != nil && len(cfg.OpenAI.Models) > 0 {
		providers = append(providers, cascade.NewOpenAIProvider(openaiClient, cfg.OpenAI.Models))
	}
	if cfg.Anthropic.Key != "" && len(cfg.Anthropic.Models) > 0 {
		providers = append(providers, cascade.NewAnthropicProvider(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Models))
	}
	if len(providers) == 0 {
		pool.Close()
		return nil, eris.New("attrib: no model providers configured")
	}

	gates, err := guardrail.LoadGates(cfg.Guardrails.OverrideGatesPath)
	if err != nil {
		pool.Close()
		return nil, err
	}
	chain := guardrail.NewDefaultChain(cfg.Guardrails, cfg.Cascade, gates)
	prompts := cascade.NewPromptBuilder(cfg.Guardrails.StaffNames, cfg.Guardrails.MaxFactsPerProject)
	engine := cascade.NewEngine(providers, chain, cfg.Cascade)
	dispatcher := hooks.NewDispatcher(cfg.Hooks)

	pipeline := attribution.NewPipeline(factStore, retriever, engine, prompts, attrStore, dispatcher, *cfg)

	return &env{
		pool:       pool,
		facts:      factStore,
		attrStore:  attrStore,
		dispatcher: dispatcher,
		pipeline:   pipeline,
	}, nil
}
