package pipeline

import (
	"fmt"

	"github.com/TobiSchelling/reviewpulse/internal/analyze"
	"github.com/TobiSchelling/reviewpulse/internal/classify"
	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/llm"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
	"github.com/TobiSchelling/reviewpulse/internal/sources"
	"github.com/TobiSchelling/reviewpulse/internal/syncer"
)

// StageStatus says whether one stage of the sync can run with the current
// configuration.
type StageStatus struct {
	Name   string
	Ready  bool
	Detail string
}

// Pipeline wires the sync stages: source adapters, sentiment
// classification and analysis.
type Pipeline struct {
	Syncer   *syncer.Syncer
	Registry *sources.Registry
	Provider llm.Provider
}

// New builds the pipeline for a config. Analysis and classification are
// left out when no summarization provider is configured.
func New(cfg *config.Config, db *database.DB, log *logger.Logger) (*Pipeline, error) {
	log = logger.OrNop(log)
	registry := sources.NewDefaultRegistry(cfg, log)
	provider := llm.CreateProvider(cfg.Summarization, log)

	var (
		analyzer   syncer.Analyzer
		classifier syncer.Classifier
	)
	if provider != nil {
		a, err := analyze.NewAnalyzer(db, provider, cfg.Sync.AnalysisLimit, cfg.Summarization.MaxTokens, log)
		if err != nil {
			return nil, fmt.Errorf("creating analyzer: %w", err)
		}
		analyzer = a
		classifier = classify.NewClassifier(db, provider, cfg.Sync.ClassifyBatch, log)
	} else {
		log.Warn("No summarization provider configured, analysis disabled")
	}

	s := syncer.New(db, registry, analyzer, classifier, syncer.OptionsFromConfig(cfg.Sync), log)
	return &Pipeline{Syncer: s, Registry: registry, Provider: provider}, nil
}

// Stages reports which adapters have their credentials and whether a
// summarization provider is available.
func (p *Pipeline) Stages() []StageStatus {
	var out []StageStatus
	for _, platform := range p.Registry.Platforms() {
		st := StageStatus{Name: platform.DisplayName(), Ready: true, Detail: "ready"}
		a, err := p.Registry.Get(platform)
		if err != nil {
			st.Ready, st.Detail = false, err.Error()
		} else if cc, ok := a.(sources.CredentialChecker); ok {
			if err := cc.CheckCredentials(); err != nil {
				st.Ready, st.Detail = false, err.Error()
			}
		}
		out = append(out, st)
	}

	an := StageStatus{Name: "Analysis", Detail: "no summarization provider configured"}
	if p.Provider != nil {
		an.Ready, an.Detail = true, p.Provider.Name()
	}
	return append(out, an)
}
