// Command kira-agentd runs Kira's agent service: the vault-backed Host API,
// event bus and scheduler, LLM router, tool registry, agent graph, message
// ingress, and an HTTP surface for direct chat requests (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/werserk/kira/agent"
	"github.com/werserk/kira/bus"
	"github.com/werserk/kira/config"
	"github.com/werserk/kira/hostapi"
	"github.com/werserk/kira/hostapi/linkgraph"
	"github.com/werserk/kira/ingress"
	"github.com/werserk/kira/llmrouter"
	"github.com/werserk/kira/telemetry"
	"github.com/werserk/kira/tools"
	"github.com/werserk/kira/vault"
)

func main() {
	configPath := flag.String("config", os.Getenv("KIRA_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("kira-agentd: load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("kira-agentd: create data dir: %v", err)
	}
	logDir := filepath.Join(cfg.DataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Fatalf("kira-agentd: create log dir: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(logDir, "kira-agentd.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("kira-agentd: open log file: %v", err)
	}
	defer logFile.Close()
	logger := telemetry.NewZerologLogger(logFile, "kira-agentd")

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(registry)

	idem, err := bus.OpenIdempotencyStore(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		log.Fatalf("kira-agentd: open idempotency store: %v", err)
	}
	defer idem.Close()

	eventBus := bus.New(logger, 4, bus.WithIdempotencyStore(idem))
	defer eventBus.Close()

	loc, err := time.LoadLocation(cfg.Core.Timezone)
	if err != nil {
		log.Fatalf("kira-agentd: load core.timezone %q: %v", cfg.Core.Timezone, err)
	}

	store, gw, linkJournal, graph, err := buildHostAPI(cfg, eventBus, logger, loc)
	if err != nil {
		log.Fatalf("kira-agentd: build host API: %v", err)
	}
	defer linkJournal.Close()
	defer graph.Close()
	_ = store

	scheduler := bus.NewScheduler(logger)
	defer scheduler.Stop()
	registerScheduledJobs(scheduler, idem, logger)

	router, err := buildRouter(cfg, logger)
	if err != nil {
		log.Fatalf("kira-agentd: build LLM router: %v", err)
	}

	toolRegistry := tools.NewRegistry()
	tools.RegisterCanonicalTools(toolRegistry, gw, loc)

	agentGraph := agent.NewGraph(router, toolRegistry, logger)

	sessionStore, err := agent.OpenStore(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		log.Fatalf("kira-agentd: open session store: %v", err)
	}
	defer sessionStore.Close()

	execCfg := agent.DefaultExecutorConfig()
	execCfg.MaxExchanges = cfg.Memory.MaxExchanges
	execCfg.SessionTTL = cfg.Memory.SessionTTL
	execCfg.MaxSessions = cfg.Memory.MaxSessions
	execCfg.RequestTimeout = cfg.Agent.Timeout
	executor := agent.NewExecutor(agentGraph, sessionStore, execCfg)

	handler := ingress.NewHandler(executor, map[string]ingress.Adapter{}, logger)
	unsubscribe := handler.Subscribe(eventBus)
	defer unsubscribe()

	engine := buildHTTPEngine(executor, registry, metrics, logger)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: engine}
	logger.Info("kira-agentd: listening", "addr", cfg.HTTP.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("kira-agentd: http server: %v", err)
	}
}

func buildHostAPI(cfg *config.Config, publisher hostapi.Publisher, logger telemetry.Logger, loc *time.Location) (*vault.Store, *hostapi.Gateway, *hostapi.LinkJournal, *linkgraph.Graph, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create vault root: %w", err)
	}

	store, err := vault.New(cfg.Vault.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open vault store: %w", err)
	}
	schemas := hostapi.NewSchemaCache(cfg.Vault.Path)
	journal, err := hostapi.OpenLinkJournal(cfg.Vault.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open link journal: %w", err)
	}
	graph, err := linkgraph.Open(cfg.Vault.Path)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open link graph: %w", err)
	}

	// Gateway.now drives ID generation's YYYYMMDD-HHmm in core.timezone
	// (spec.md §4.2 step 2, §6), while formatTimestamp still normalizes
	// created_ts/updated_ts/done_ts to UTC regardless of this location.
	clock := func() time.Time { return time.Now().In(loc) }

	audit := hostapi.NewAuditLog(cfg.DataDir)
	gw, err := hostapi.NewGateway(store, schemas, journal, graph, publisher,
		hostapi.WithAuditLog(audit), hostapi.WithLogger(logger), hostapi.WithClock(clock))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build gateway: %w", err)
	}
	return store, gw, journal, graph, nil
}

// buildRouter wires the remote providers configured in cfg, falling back to
// the local rule-based adapter when enabled (spec.md §4.4).
func buildRouter(cfg *config.Config, logger telemetry.Logger) (*llmrouter.Router, error) {
	providers := map[string]llmrouter.Client{}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		adapter, err := llmrouter.NewAnthropicAdapter(key, "claude-sonnet-4-5")
		if err != nil {
			return nil, fmt.Errorf("build anthropic adapter: %w", err)
		}
		providers["anthropic"] = llmrouter.NewRateLimitedClient(adapter, 2, 4)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		adapter, err := llmrouter.NewOpenAIAdapter(key, "gpt-4o")
		if err != nil {
			return nil, fmt.Errorf("build openai adapter: %w", err)
		}
		providers["openai"] = llmrouter.NewRateLimitedClient(adapter, 2, 4)
	}
	local := llmrouter.NewLocalAdapter()
	providers["local"] = local

	taskTypeProvider := map[llmrouter.TaskType]string{
		llmrouter.TaskPlanning:    fallbackIfAbsent(providers, cfg.Router.PlanningProvider),
		llmrouter.TaskStructuring: fallbackIfAbsent(providers, cfg.Router.StructuringProvider),
		llmrouter.TaskDefault:     fallbackIfAbsent(providers, cfg.Router.DefaultProvider),
	}

	return llmrouter.NewRouter(llmrouter.Config{
		Providers:           providers,
		TaskTypeProvider:    taskTypeProvider,
		LocalFallback:       local,
		EnableLocalFallback: cfg.Router.EnableLocalFallback,
		Backoff:             llmrouter.DefaultBackoffPolicy(),
	}, logger), nil
}

func fallbackIfAbsent(providers map[string]llmrouter.Client, name string) string {
	if _, ok := providers[name]; ok {
		return name
	}
	return "local"
}

// registerScheduledJobs wires the recurring maintenance job the bus's
// scheduler is responsible for: an hourly sweep of idempotency records
// older than 30 days (spec.md §3 idempotency record TTL). No sync.tick job
// is registered.
func registerScheduledJobs(scheduler *bus.Scheduler, idem *bus.IdempotencyStore, logger telemetry.Logger) {
	err := scheduler.ScheduleInterval(bus.Job{
		ID: "idempotency-sweep",
		Fn: func(ctx context.Context) error {
			n, err := idem.Sweep(ctx, 30*24*time.Hour)
			if err != nil {
				return err
			}
			logger.Debug("kira-agentd: swept idempotency records", "count", n)
			return nil
		},
		DriftBudget: time.Minute,
	}, time.Hour)
	if err != nil {
		logger.Error("kira-agentd: schedule idempotency sweep", "err", err.Error())
	}
}

type chatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
	Execute   *bool  `json:"execute"`
}

type chatResponse struct {
	Status   string             `json:"status"`
	Response string             `json:"response"`
	Results  []agent.ToolResult `json:"results"`
	TraceID  string             `json:"trace_id"`
}

// buildHTTPEngine exposes POST /agent/chat, GET /health, GET /metrics
// (spec.md §6 "HTTP surface").
func buildHTTPEngine(executor *agent.Executor, reg *prometheus.Registry, metrics telemetry.Metrics, logger telemetry.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	engine.POST("/agent/chat", func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
			return
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = "http:" + c.ClientIP()
		}
		traceID := fmt.Sprintf("http-%d", time.Now().UnixNano())
		dryRun := req.Execute != nil && !*req.Execute

		start := time.Now()
		result, err := executor.Run(c.Request.Context(), sessionID, traceID, req.Message, nil, dryRun)
		metrics.RecordTimer("agent_chat_duration", time.Since(start))
		if err != nil {
			metrics.IncCounter("agent_chat_requests", 1, "outcome", "error")
			logger.Error("kira-agentd: chat request failed", "trace_id", traceID, "err", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error(), "trace_id": traceID})
			return
		}
		metrics.IncCounter("agent_chat_requests", 1, "outcome", "ok")
		c.JSON(http.StatusOK, chatResponse{Status: "ok", Response: result.Response, Results: result.ToolResults, TraceID: traceID})
	})

	return engine
}
