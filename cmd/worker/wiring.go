package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	pgRepo "newspulse/internal/infra/adapter/persistence/postgres"
	"newspulse/internal/infra/fetcher"
	"newspulse/internal/infra/llm"
	"newspulse/internal/infra/scraper"
	workerPkg "newspulse/internal/infra/worker"
	"newspulse/internal/repository"
	"newspulse/internal/resilience/circuitbreaker"
	"newspulse/internal/usecase/admission"
	"newspulse/internal/usecase/analysis"
	"newspulse/internal/usecase/confwatcher"
	"newspulse/internal/usecase/feedhealth"
	"newspulse/internal/usecase/feedmetrics"
	"newspulse/internal/usecase/fetch"
	"newspulse/internal/usecase/runqueue"
	"newspulse/internal/usecase/scheduler"
)

// repositories bundles every postgres-backed repository the worker's
// usecases are built from, so the wiring functions below can be passed one
// value instead of a dozen.
type repositories struct {
	feeds          repository.FeedRepository
	feedHealth     repository.FeedHealthRepository
	fetchLogs      repository.FetchLogRepository
	items          repository.ItemRepository
	templates      repository.TemplateRepository
	configChanges  repository.ConfigChangeRepository
	schedulerState repository.SchedulerStateRepository
	queuedRuns     repository.QueuedRunRepository
	pendingAuto    repository.PendingAutoAnalysisRepository
	analysisRuns   repository.AnalysisRunRepository
	runItems       repository.AnalysisRunItemRepository
	feedMetrics    repository.FeedMetricsRepository
	queueMetrics   repository.QueueMetricsRepository
}

func setupRepositories(db *sql.DB) *repositories {
	return &repositories{
		feeds:          pgRepo.NewFeedRepo(db),
		feedHealth:     pgRepo.NewFeedHealthRepo(db),
		fetchLogs:      pgRepo.NewFetchLogRepo(db),
		items:          pgRepo.NewItemRepo(db),
		templates:      pgRepo.NewTemplateRepo(db),
		configChanges:  pgRepo.NewConfigChangeRepo(db),
		schedulerState: pgRepo.NewSchedulerStateRepo(db),
		queuedRuns:     pgRepo.NewQueuedRunRepo(db),
		pendingAuto:    pgRepo.NewPendingAutoAnalysisRepo(db),
		analysisRuns:   pgRepo.NewAnalysisRunRepo(db),
		runItems:       pgRepo.NewAnalysisRunItemRepo(db),
		feedMetrics:    pgRepo.NewFeedMetricsRepo(db),
		queueMetrics:   pgRepo.NewQueueMetricsRepo(db),
	}
}

// setupFetchService builds the Feed Fetcher core (C3): a scraper per
// entity.FeedKind, an optional full-content fetcher, and the fetch.Service
// that drives them from a scheduled feed tick. It also returns every
// scraper's circuit breaker so the composition root can feed them into the
// BreakerWatcher.
func setupFetchService(logger *slog.Logger, repos *repositories, cfg *workerPkg.WorkerConfig) (*fetch.Service, []*circuitbreaker.CircuitBreaker) {
	webScraperClient := createWebScraperHTTPClient()
	scraperFactory := scraper.NewScraperFactory(webScraperClient)
	fetchers := scraperFactory.CreateFetchers()
	logger.Info("feed fetchers initialized", slog.Int("count", len(fetchers)))

	contentFetchConfig := fetcher.DefaultConfig()
	contentFetchConfig.Parallelism = cfg.ContentFetchParallelism
	contentFetchConfig.Threshold = cfg.ContentFetchThreshold
	if err := contentFetchConfig.Validate(); err != nil {
		logger.Warn("invalid content fetch configuration, using defaults", slog.Any("error", err))
		contentFetchConfig = fetcher.DefaultConfig()
	}

	var contentFetcher fetch.ContentFetcher
	if contentFetchConfig.Enabled {
		contentFetcher = fetcher.NewReadabilityFetcher(contentFetchConfig)
		logger.Info("content fetching enabled",
			slog.Int("threshold", contentFetchConfig.Threshold),
			slog.Int("parallelism", contentFetchConfig.Parallelism))
	} else {
		logger.Info("content fetching disabled")
	}

	health := feedhealth.New(repos.feedHealth, repos.fetchLogs)

	svc := fetch.NewService(
		repos.feeds,
		repos.items,
		repos.fetchLogs,
		repos.templates,
		repos.pendingAuto,
		health,
		fetchers,
		contentFetcher,
		fetch.ContentFetchConfig{
			Parallelism: contentFetchConfig.Parallelism,
			Threshold:   contentFetchConfig.Threshold,
		},
		logger,
	)

	breakers := make([]*circuitbreaker.CircuitBreaker, 0, len(fetchers))
	for _, f := range fetchers {
		if withBreaker, ok := f.(interface{ Breaker() *circuitbreaker.CircuitBreaker }); ok {
			breakers = append(breakers, withBreaker.Breaker())
		}
	}
	return svc, breakers
}

// setupScheduler builds the Dynamic Feed Scheduler (C5), wired to the
// Configuration Watcher (C4) that keeps its in-memory schedule in sync with
// feed/template edits.
func setupScheduler(logger *slog.Logger, repos *repositories, fetchSvc *fetch.Service, cfg *workerPkg.WorkerConfig) *scheduler.Scheduler {
	watcher := confwatcher.New(repos.configChanges, repos.schedulerState, repos.feeds, repos.templates, logger)
	return scheduler.New(repos.feeds, repos.schedulerState, watcher, fetchSvc, cfg.SchedulerConfigCheckInterval, logger)
}

// setupAnalysisWorker builds the Analysis Orchestration Core (C6/C7/C8): the
// run queue manager, admission controller, and the worker that drains
// pending auto-analysis rows and processes active runs against the
// configured LLM client.
func setupAnalysisWorker(logger *slog.Logger, repos *repositories) (*analysis.Worker, *admission.Controller, []*circuitbreaker.CircuitBreaker) {
	queue := runqueue.New(repos.queuedRuns, logger)
	admissionCtl := admission.New(repos.analysisRuns, logger)
	metrics := feedmetrics.New(repos.feedMetrics, repos.queueMetrics, logger)

	llmClient := createLLMClient(logger)
	var breakers []*circuitbreaker.CircuitBreaker
	if withBreaker, ok := llmClient.(interface{ Breaker() *circuitbreaker.CircuitBreaker }); ok {
		breakers = append(breakers, withBreaker.Breaker())
	}

	worker := analysis.New(
		repos.analysisRuns,
		repos.runItems,
		repos.pendingAuto,
		repos.items,
		queue,
		admissionCtl,
		metrics,
		llmClient,
		analysis.NewPricingTable(),
		logger,
	)

	return worker, admissionCtl, breakers
}

// createLLMClient selects the analysis LLM provider via the LLM_PROVIDER
// environment variable ("claude", "openai", or "noop"), mirroring the
// teacher's SUMMARIZER_TYPE provider-selection pattern.
func createLLMClient(logger *slog.Logger) llm.Client {
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		provider = "claude"
	}

	switch provider {
	case "claude":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			logger.Warn("ANTHROPIC_API_KEY not set, falling back to no-op analysis")
			return llm.NewNoOp()
		}
		logger.Info("using Claude for analysis", slog.String("provider", "claude"))
		return llm.NewClaudeClient(apiKey, os.Getenv("ANTHROPIC_MODEL"))
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			logger.Warn("OPENAI_API_KEY not set, falling back to no-op analysis")
			return llm.NewNoOp()
		}
		logger.Info("using OpenAI for analysis", slog.String("provider", "openai"))
		return llm.NewOpenAIClient(apiKey, os.Getenv("OPENAI_MODEL"))
	case "noop":
		logger.Info("analysis LLM provider disabled", slog.String("provider", "noop"))
		return llm.NewNoOp()
	default:
		logger.Error("invalid LLM_PROVIDER, disabling analysis",
			slog.String("provider", provider),
			slog.String("expected", "claude, openai, or noop"))
		return llm.NewNoOp()
	}
}

// runScheduler blocks driving the feed scheduler's tick loop until ctx is
// canceled.
func runScheduler(ctx context.Context, logger *slog.Logger, sched *scheduler.Scheduler) {
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("scheduler stopped unexpectedly", slog.Any("error", err))
	}
}

// runAnalysisLoop repeatedly drives the Analysis Orchestrator's RunCycle,
// sleeping cfg.AnalysisSleepInterval whenever a cycle finds no work, until
// ctx is canceled.
func runAnalysisLoop(ctx context.Context, logger *slog.Logger, worker *analysis.Worker, cfg *workerPkg.WorkerConfig, metrics *workerPkg.WorkerMetrics) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		didWork, err := worker.RunCycle(ctx)
		duration := time.Since(start)
		metrics.RecordCycleDuration(duration.Seconds())

		if err != nil {
			metrics.RecordCycleRun("failure")
			logger.Error("analysis cycle failed", slog.Any("error", err))
		} else {
			metrics.RecordCycleRun("success")
			metrics.RecordLastSuccess()
		}

		if !didWork {
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.AnalysisSleepInterval):
			}
		}
	}
}
