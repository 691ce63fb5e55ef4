package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/praetor/pkg/agent"
	"github.com/lucid-vigil/praetor/pkg/ai"
	"github.com/lucid-vigil/praetor/pkg/api"
	"github.com/lucid-vigil/praetor/pkg/config"
	"github.com/lucid-vigil/praetor/pkg/contextual"
	"github.com/lucid-vigil/praetor/pkg/dedupe"
	"github.com/lucid-vigil/praetor/pkg/detect"
	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/logger"
	"github.com/lucid-vigil/praetor/pkg/metrics"
	"github.com/lucid-vigil/praetor/pkg/notify"
	"github.com/lucid-vigil/praetor/pkg/perf"
	"github.com/lucid-vigil/praetor/pkg/recommend"
	"github.com/lucid-vigil/praetor/pkg/store"
	"github.com/lucid-vigil/praetor/pkg/transfer"
	"github.com/lucid-vigil/praetor/pkg/watch"
)

// toolAnalysis is the bus name of the generative model backend.
const toolAnalysis = "analysis"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.InitLogger(cfg.LogLevel)
	log.Info().Msg("Praetor analysis agent starting...")
	log.Info().Msgf("Configuration loaded: LogLevel=%s, APIPort=%s, Store=%s", cfg.LogLevel, cfg.APIPort, cfg.Store.Backend)

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Msgf("Received signal: %s. Shutting down gracefully...", sig)
		cancel()
	}()

	docStore := buildStore(ctx, cfg)

	notifier := notify.New([]notify.Sender{logSender{}}, notify.Options{
		Enabled:         cfg.Notifications.Enabled,
		QuietHoursStart: cfg.Notifications.QuietHoursStart,
		QuietHoursEnd:   cfg.Notifications.QuietHoursEnd,
		MaxPerHour:      cfg.Notifications.MaxAlertsPerHour,
	}, log.Logger)

	tools := buildTools(cfg, notifier)

	optimizer := perf.New(perf.Options{
		CacheEnabled:     cfg.Performance.CacheEnabled,
		CacheTTL:         mustDuration(cfg.Performance.CacheTTL),
		CacheMaxSize:     cfg.Performance.CacheMaxSize,
		BatchSize:        cfg.Performance.BatchSize,
		BatchTimeout:     mustDuration(cfg.Performance.BatchTimeout),
		RateLimitEnabled: cfg.Performance.RateLimitEnabled,
		MaxPerMinute:     cfg.Performance.MaxCallsPerMinute,
		MaxPerHour:       cfg.Performance.MaxCallsPerHour,
	}, log.Logger)

	m := metrics.New()
	analysisAgent := agent.New(agent.Options{
		Analyzer:               buildAnalyzer(tools),
		Optimizer:              optimizer,
		Correlator:             events.NewCorrelator(log.Logger),
		Retriever:              contextual.NewRetriever(docStore, log.Logger),
		Engine:                 recommend.NewEngine(log.Logger),
		Tools:                  tools,
		Metrics:                m,
		CorrelationWindow:      mustDuration(cfg.Analysis.CorrelationWindow),
		AutoRemediateThreshold: cfg.Analysis.AutoRemediateThreshold,
		CriticalAlertThreshold: cfg.Analysis.CriticalAlertThreshold,
	}, log.Logger)

	ingest := agent.NewIncidentRetriever(docStore, 10, 20, log.Logger)
	deduper, err := dedupe.New(4096, time.Hour, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create deduper")
	}

	pipeline := func(evts []events.SecurityEvent) {
		inc := events.NewIncident(
			"Detected: "+evts[0].Type,
			evts[0].Description,
			maxSeverity(evts),
			evts,
		)
		if deduper.Seen(inc) {
			return
		}
		if err := ingest.Ingest(ctx, inc); err != nil {
			log.Warn().Err(err).Str("incident_id", inc.ID).Msg("Incident rejected at ingestion")
			return
		}
		go func() {
			result, err := analysisAgent.AnalyzeBatched(ctx, inc)
			if err != nil {
				log.Warn().Err(err).Str("incident_id", inc.ID).Msg("Batched analysis failed")
				return
			}
			log.Info().Str("incident_id", inc.ID).Str("status", result.Status).Msg("Pipeline finished for incident")
		}()
	}

	startDetectors(ctx, cfg, pipeline)

	api.NewServer(optimizer, m, log.Logger).Start(cfg.APIPort)

	<-ctx.Done()
	log.Info().Msg("Praetor analysis agent stopped.")
	time.Sleep(1 * time.Second)
}

// buildStore selects the document store backend. Config validation already
// guaranteed the backend name and Mongo URI.
func buildStore(ctx context.Context, cfg *config.Config) store.Store {
	if cfg.Store.Backend == "mongo" {
		s, err := store.NewMongoStore(ctx, cfg.Store.MongoURI, cfg.Store.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to document store")
		}
		return s
	}
	return store.NewMemoryStore()
}

// buildTools registers the remediation, communication and orchestrator
// capabilities. With a transfer bus configured they are remote; otherwise
// local stand-ins keep the pipeline functional for a single-process
// deployment.
func buildTools(cfg *config.Config, notifier *notify.Notifier) *transfer.Registry {
	registry := transfer.NewRegistry()

	if cfg.Transfer.NATSURL != "" {
		conn, err := transfer.Connect(cfg.Transfer.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to transfer bus")
		}
		timeout := mustDuration(cfg.Transfer.RequestTimeout)
		for _, name := range []string{agent.ToolRemediation, agent.ToolCommunication, agent.ToolOrchestrator, toolAnalysis} {
			if err := registry.Register(transfer.NewRemoteTool(name, conn, timeout, log.Logger)); err != nil {
				log.Fatal().Err(err).Msg("Failed to register remote tool")
			}
		}
		return registry
	}

	log.Warn().Msg("No transfer bus configured, using local tools")
	locals := []transfer.Tool{
		transfer.ToolFunc{ToolName: agent.ToolRemediation, Fn: func(_ context.Context, payload map[string]interface{}) (transfer.Result, error) {
			log.Info().Interface("payload", payload).Msg("Remediation requested (no bus, logged only)")
			return transfer.Success(nil), nil
		}},
		transfer.ToolFunc{ToolName: agent.ToolCommunication, Fn: func(ctx context.Context, payload map[string]interface{}) (transfer.Result, error) {
			alert := notify.Alert{
				IncidentID: stringField(payload, "incident_id"),
				Severity:   stringField(payload, "threat_level"),
				Title:      "Critical incident requires attention",
				Message:    stringField(payload, "summary"),
			}
			if !notifier.Notify(ctx, alert) {
				return transfer.Errorf("alert suppressed"), nil
			}
			return transfer.Success(nil), nil
		}},
		transfer.ToolFunc{ToolName: agent.ToolOrchestrator, Fn: func(_ context.Context, payload map[string]interface{}) (transfer.Result, error) {
			log.Info().Interface("payload", payload).Msg("Analysis reported")
			return transfer.Success(nil), nil
		}},
		transfer.ToolFunc{ToolName: toolAnalysis, Fn: func(context.Context, map[string]interface{}) (transfer.Result, error) {
			return transfer.Errorf("no model backend configured"), nil
		}},
	}
	for _, tool := range locals {
		if err := registry.Register(tool); err != nil {
			log.Fatal().Err(err).Msg("Failed to register local tool")
		}
	}
	return registry
}

// buildAnalyzer adapts the "analysis" tool into the model interface. The
// model runs behind the bus like every other capability; without one, model
// calls fail per incident and the pipeline returns partial results rather
// than crashing at startup.
func buildAnalyzer(tools *transfer.Registry) ai.Analyzer {
	return ai.AnalyzerFunc(func(ctx context.Context, prompt string) (string, error) {
		result, err := tools.Execute(ctx, toolAnalysis, map[string]interface{}{"prompt": prompt})
		if err != nil {
			return "", err
		}
		if result.Status != transfer.StatusSuccess {
			return "", fmt.Errorf("model backend: %s", result.Error)
		}
		response, _ := result.Data["response"].(string)
		return response, nil
	})
}

// startDetectors launches every enabled detector plus the config file
// watcher.
func startDetectors(ctx context.Context, cfg *config.Config, report func([]events.SecurityEvent)) {
	for _, dc := range cfg.Detectors {
		if !dc.Enabled {
			continue
		}
		switch dc.Name {
		case "process":
			interval := 30 * time.Second
			if dc.Interval != "" {
				interval = mustDuration(dc.Interval)
			}
			detector := detect.NewProcessDetector(detect.ProcessDetectorConfig{
				CPUThreshold:    90,
				MemoryThreshold: 90,
				SuspiciousNames: "xmrig,kinsing,kworkerd",
			}, log.Logger)
			go detector.RunLoop(ctx, interval, report)
		default:
			log.Warn().Str("detector", dc.Name).Msg("Unknown detector in configuration, skipping")
		}
	}

	watcher := watch.NewFileWatcher([]string{"config.yaml", "/etc/praetor"}, log.Logger)
	go func() {
		if err := watcher.Run(ctx, func(evt events.SecurityEvent) {
			report([]events.SecurityEvent{evt})
		}); err != nil {
			log.Warn().Err(err).Msg("File watcher not running")
		}
	}()
}

// logSender is the always-available notification channel.
type logSender struct{}

func (logSender) Send(_ context.Context, alert notify.Alert) error {
	log.Warn().
		Str("incident_id", alert.IncidentID).
		Str("severity", alert.Severity).
		Str("title", alert.Title).
		Msg(alert.Message)
	return nil
}

func maxSeverity(evts []events.SecurityEvent) string {
	rank := map[string]int{
		events.SeverityInformational: 0,
		events.SeverityLow:           1,
		events.SeverityMedium:        2,
		events.SeverityHigh:          3,
		events.SeverityCritical:      4,
	}
	top := events.SeverityLow
	for _, e := range evts {
		if rank[e.Severity] > rank[top] {
			top = e.Severity
		}
	}
	return top
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

// mustDuration parses a duration that config validation already checked.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatal().Err(err).Msgf("Invalid duration %q", s)
	}
	return d
}
