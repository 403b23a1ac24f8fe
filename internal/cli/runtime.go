package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/detectra/detectra/internal/cache"
	"github.com/detectra/detectra/internal/config"
	"github.com/detectra/detectra/internal/engine"
	"github.com/detectra/detectra/internal/orchestrator"
	"github.com/detectra/detectra/internal/repo"
	"github.com/detectra/detectra/internal/utils"
)

var _ orchestrator.Classifier = (*repo.ClassifierClient)(nil)

// Runtime carries the collaborators shared by every command.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Client   orchestrator.Classifier
	Resolver *engine.Resolver
	Guidance *engine.Guidance

	closers []func() error
}

var rt *Runtime

// SetRuntime installs the runtime used by commands. Commands build one from
// configuration when none is set.
func SetRuntime(r *Runtime) {
	rt = r
}

// NewRuntime wires configuration into a classifier client, resolver and
// guidance set.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	logOpts := cfg.Logging.LogOptions()
	logOpts.Writer = os.Stderr
	logger := utils.NewLogger(logOpts)

	r := &Runtime{Config: cfg, Logger: logger}

	var provider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		mem, err := cache.NewMemoryProvider(cfg.Cache.Size)
		if err != nil {
			logger.Warn("memory cache unavailable", slog.Any("error", err))
		} else {
			provider = mem
			r.closers = append(r.closers, mem.Close)
		}
	}

	r.Client = repo.NewClassifierClient(repo.ClassifierOptions{
		BaseURL:       cfg.Clients.Classifier.BaseURL,
		PredictPath:   cfg.Clients.Classifier.PredictPath,
		FeedbackPath:  cfg.Clients.Classifier.FeedbackPath,
		ModelInfoPath: cfg.Clients.Classifier.ModelInfoPath,
		Timeout:       cfg.Clients.Classifier.Timeout,
		Cache:         provider,
		ModelInfoTTL:  cfg.Cache.ModelInfoTTL,
		Logger:        logger,
	})

	pack, err := engine.LoadPack(cfg.Interpretation.PackPath, logger)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("load interpretation pack: %w", err)
	}
	r.Resolver = engine.NewResolver(pack.Classifier())
	r.Guidance = engine.NewGuidance(pack)

	return r, nil
}

// NewOrchestrator starts a fresh request lifecycle.
func (r *Runtime) NewOrchestrator(explain bool) *orchestrator.Orchestrator {
	timeout := r.Config.Predict.RequestTimeout
	return orchestrator.New(r.Client, r.Resolver, orchestrator.Options{
		Logger:         r.Logger,
		RequestTimeout: timeout,
		DisableExplain: !explain,
	})
}

// Close releases cached resources.
func (r *Runtime) Close() {
	for _, c := range r.closers {
		_ = c()
	}
	r.closers = nil
}
