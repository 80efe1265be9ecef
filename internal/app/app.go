// Package app wires retrieval, synthesis, verification and repair into the
// end-to-end evidence pipeline: drug + disease in, scored report out.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/biocite/biocite/internal/cache"
	"github.com/biocite/biocite/internal/chembl"
	"github.com/biocite/biocite/internal/llm"
	"github.com/biocite/biocite/internal/prompt"
	"github.com/biocite/biocite/internal/pubmed"
	"github.com/biocite/biocite/internal/repair"
	"github.com/biocite/biocite/internal/report"
	"github.com/biocite/biocite/internal/score"
	"github.com/biocite/biocite/internal/snippet"
)

// ErrNoSnippets is returned when retrieval finds no usable evidence; the
// pipeline refuses to generate an ungrounded report.
var ErrNoSnippets = errors.New("no evidence snippets found")

// Query is one investigation request.
type Query struct {
	Drug    string
	Disease string
	Repair  bool
}

// Metadata records how the drug resolved in ChEMBL alongside the query.
type Metadata struct {
	Disease             string `json:"disease"`
	Drug                string `json:"drug"`
	ChemblID            string `json:"chembl_id,omitempty"`
	ChemblMatchReason   string `json:"chembl_match_reason,omitempty"`
	ChemblPreferredName string `json:"chembl_preferred_name,omitempty"`
}

// Result is the full pipeline output for one query.
type Result struct {
	Metadata Metadata          `json:"metadata"`
	Snippets []snippet.Snippet `json:"snippets"`
	Outcome  repair.Outcome    `json:"outcome"`

	MarkdownPath string `json:"markdown_path,omitempty"`
	PDFPath      string `json:"pdf_path,omitempty"`
}

// App owns the pipeline's shared clients. It is safe for concurrent Run
// calls; each run builds its own documents and engine state.
type App struct {
	cfg Config

	synth  *llm.Synthesizer
	engine *repair.Engine
	pubmed *pubmed.Client
	chembl *chembl.Client
}

// New constructs the pipeline and verifies the LLM endpoint is reachable.
func New(ctx context.Context, cfg Config) (*App, error) {
	cfg = cfg.withDefaults()

	var disk *cache.Disk
	if cfg.CacheDir != "" {
		disk = &cache.Disk{Dir: cfg.CacheDir}
	}

	provider := llm.NewOpenAIProvider(cfg.LLMBaseURL, cfg.LLMAPIKey)
	if _, err := provider.ListModels(ctx); err != nil {
		return nil, fmt.Errorf("llm endpoint %s unreachable: %w", cfg.LLMBaseURL, err)
	}

	return &App{
		cfg: cfg,
		synth: &llm.Synthesizer{
			Client:      provider,
			Cache:       disk,
			Model:       cfg.LLMModel,
			Temperature: cfg.Temperature,
		},
		engine: &repair.Engine{
			Generator: &llm.ChatGenerator{
				Client:      provider,
				Model:       cfg.LLMModel,
				Temperature: cfg.Temperature,
			},
		},
		pubmed: pubmed.NewClient(cfg.NCBITool, cfg.NCBIEmail, disk),
		chembl: chembl.NewClient(disk),
	}, nil
}

// Run executes the full pipeline for one query: resolve the drug, gather
// evidence, synthesize the report, then verify and (optionally) repair its
// citations. Artifacts are written only when OutputDir is configured.
func (a *App) Run(ctx context.Context, q Query) (*Result, error) {
	drug := strings.TrimSpace(q.Drug)
	disease := strings.TrimSpace(q.Disease)
	if drug == "" || disease == "" {
		return nil, errors.New("drug and disease are required")
	}
	log.Info().Str("drug", drug).Str("disease", disease).Msg("investigating")

	meta := Metadata{Disease: disease, Drug: drug}
	snips, mol, err := a.gather(ctx, drug, disease, &meta)
	if err != nil {
		return nil, err
	}
	if len(snips) == 0 {
		return nil, fmt.Errorf("%w for %s in %s", ErrNoSnippets, drug, disease)
	}

	body, err := a.synth.Synthesize(ctx, prompt.Build(disease, drug, snips, mol))
	if err != nil {
		return nil, fmt.Errorf("report synthesis: %w", err)
	}

	outcome := a.engine.Run(ctx, body, snips, repair.Options{
		Enabled:       a.cfg.RepairEnabled || q.Repair,
		TargetRatio:   a.cfg.TargetRatio,
		MaxIterations: a.cfg.MaxIterations,
		CallTimeout:   a.cfg.CallTimeout,
		Score:         score.Policy{EmptyIsZero: a.cfg.EmptyIsZero},
	})
	log.Info().
		Float64("trust_score", outcome.TrustScorePercent).
		Int("iterations", outcome.Iterations).
		Str("stopped", string(outcome.Stopped)).
		Msg("report scored")

	res := &Result{Metadata: meta, Snippets: snips, Outcome: outcome}
	if a.cfg.OutputDir != "" {
		if err := a.persist(res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// gather collects the evidence snippets and optional molecular profile.
// ChEMBL resolution and PubMed retrieval run concurrently; a ChEMBL failure
// only costs the mechanistic context, never the report.
func (a *App) gather(ctx context.Context, drug, disease string, meta *Metadata) ([]snippet.Snippet, *prompt.MolecularProfile, error) {
	if a.cfg.SnippetsFile != "" {
		snips, err := snippet.LoadFile(a.cfg.SnippetsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load snippets fixture: %w", err)
		}
		return snips, nil, nil
	}

	var (
		snips []snippet.Snippet
		mol   *prompt.MolecularProfile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pack, err := a.pubmed.EvidencePack(gctx, disease, drug, a.cfg.MaxPapers, a.cfg.SortOrder)
		if err != nil {
			return fmt.Errorf("pubmed retrieval: %w", err)
		}
		snips = pubmed.Snippets(pack, a.cfg.MaxSnippets)
		return nil
	})
	g.Go(func() error {
		res, err := a.chembl.Resolve(gctx, drug)
		if err != nil {
			log.Warn().Err(err).Str("drug", drug).Msg("chembl resolution failed; continuing without molecular profile")
			return nil
		}
		meta.ChemblID = res.ChemblID
		meta.ChemblMatchReason = res.MatchReason
		meta.ChemblPreferredName = res.PreferredName
		if res.ChemblID == "" {
			return nil
		}
		pack, err := a.chembl.BuildMoleculePack(gctx, res, a.cfg.MaxActivities)
		if err != nil {
			log.Warn().Err(err).Str("chembl_id", res.ChemblID).Msg("molecule pack unavailable")
			return nil
		}
		mol = &prompt.MolecularProfile{ChemblID: pack.ChemblID, TopTargets: pack.TargetNames()}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return snips, mol, nil
}

func (a *App) persist(res *Result) error {
	body := report.AddHeader(res.Outcome.ReportText, res.Snippets)
	path, err := report.WriteMarkdown(a.cfg.OutputDir, report.Artifact{
		Drug:       res.Metadata.Drug,
		Disease:    res.Metadata.Disease,
		TrustScore: res.Outcome.TrustScorePercent,
		Body:       body,
		Sources:    res.Snippets,
	}, nil)
	if err != nil {
		return fmt.Errorf("write markdown artifact: %w", err)
	}
	res.MarkdownPath = path

	if a.cfg.PDF {
		pdfPath := strings.TrimSuffix(path, ".md") + ".pdf"
		if err := report.WritePDF(body, pdfPath); err != nil {
			log.Warn().Err(err).Msg("pdf rendering failed; markdown artifact kept")
			return nil
		}
		res.PDFPath = pdfPath
	}
	return nil
}
