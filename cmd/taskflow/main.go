package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/api/handlers"
	"github.com/BaSui01/taskflow/config"
	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/internal/server"
	"github.com/BaSui01/taskflow/workflow"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Exit codes of the run command.
const (
	exitCompleted     = 0
	exitFailed        = 1
	exitPartial       = 2
	exitConfigInvalid = 64
	exitCancelled     = 130
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitConfigInvalid)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runWorkflow(os.Args[2:]))
	case "validate":
		os.Exit(runValidate(os.Args[2:]))
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitConfigInvalid)
	}
}

// runWorkflow executes one workflow to completion and maps its terminal
// state to the exit code.
func runWorkflow(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to workflow file (YAML or JSON)")
	jsonOut := fs.Bool("json", false, "Print the full result as JSON")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	fs.Parse(args)

	logger := buildLogger(*verbose)
	defer logger.Sync()

	cfg, err := config.NewLoader().
		WithConfigPath(*configPath).
		WithEnvPrefix("TASKFLOW").
		Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitConfigInvalid
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := workflow.New(cfg, workflow.WithLogger(logger))
	result, err := engine.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Workflow rejected: %v\n", err)
		return exitConfigInvalid
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	} else {
		printSummary(result)
	}

	switch result.State {
	case workflow.WorkflowCompleted:
		return exitCompleted
	case workflow.WorkflowPartiallyCompleted:
		return exitPartial
	case workflow.WorkflowCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}

// runValidate checks a workflow document without executing it.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to workflow file (YAML or JSON)")
	fs.Parse(args)

	_, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitConfigInvalid
	}
	fmt.Println("Configuration is valid")
	return exitCompleted
}

// runServe starts the REST control surface.
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "Listen address")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	rps := fs.Float64("rate-limit", 50, "Requests per second allowed per client")
	fs.Parse(args)

	logger := buildLogger(*verbose)
	defer logger.Sync()

	collector := metrics.NewCollector("taskflow", logger)
	store := workflow.NewStore(func(cfg *config.WorkflowConfig) *workflow.Engine {
		return workflow.New(cfg,
			workflow.WithLogger(logger),
			workflow.WithMetrics(collector))
	}, collector, logger)

	mux := http.NewServeMux()
	handlers.NewWorkflowHandler(store, logger).Register(mux)
	handlers.NewAgentHandler(nil, logger).Register(mux)
	handlers.NewEventsHandler(store, logger).Register(mux)
	handlers.NewHealthHandler(Version).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := Chain(mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger, collector),
		RateLimitMiddleware(*rps, logger),
	)

	srvConfig := server.DefaultConfig()
	srvConfig.Addr = *addr
	manager := server.NewManager(handler, srvConfig, logger)
	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	logger.Info("taskflow server started",
		zap.String("addr", manager.Addr()),
		zap.String("version", Version))

	if err := manager.WaitForSignal(); err != nil {
		os.Exit(1)
	}
}

func printSummary(result *workflow.Result) {
	fmt.Printf("Workflow %s: %s\n", result.Name, result.State)
	fmt.Printf("  completed=%d failed=%d cancelled=%d total=%d\n",
		result.CompletedTasks, result.FailedTasks, result.CancelledTasks, result.TotalTasks)
	for name, msg := range result.Errors {
		fmt.Printf("  error %s: %s\n", name, msg)
	}
}

func buildLogger(verbose bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func printVersion() {
	fmt.Printf("taskflow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
}

func printUsage() {
	fmt.Print(`taskflow - declarative agent workflow orchestrator

Usage:
  taskflow run --config <file>       Execute a workflow and exit
  taskflow validate --config <file>  Validate a workflow document
  taskflow serve [--addr :8080]      Start the REST control surface
  taskflow version                   Show version information
`)
}
