// Command ledgerlink is an interactive console for a hardware signing
// device session.
//
// It drives the session manager against the built-in device simulator:
// connecting, signing payloads, and injecting device faults (unplug,
// busy answers, stalled probes) to watch the manager recover.
//
// Usage:
//
//	ledgerlink [flags]
//
// Flags:
//
//	-account int         Account number to target (default 1)
//	-path string         Explicit derivation path (overrides -account)
//	-config string       YAML configuration file path
//	-connect             Connect at startup
//	-interactive         Run the readline console (default true)
//	-log-level string    Log level: debug, info, warn, error (default "info")
//	-trace string        Write a protocol trace to this file
//	-mnemonic string     Simulator BIP-39 mnemonic (default: test mnemonic)
//	-app-version string  Simulator signer app version (default "5.4.1")
//	-retry-interval      Connect retry interval (default 1s)
//	-retry-budget        Total connect retry budget (default 25s)
//	-liveness-interval   Liveness probe interval (default 1s)
//
// Examples:
//
//	# Start the console and connect to account 1
//	ledgerlink -connect
//
//	# Capture a protocol trace while working against account 3
//	ledgerlink -account 3 -trace /tmp/ledgerlink.trace
//
//	# Headless: connect and log session events until interrupted
//	ledgerlink -interactive=false -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/helionwallet/ledgerlink/cmd/ledgerlink/interactive"
	"github.com/helionwallet/ledgerlink/pkg/devicesim"
	"github.com/helionwallet/ledgerlink/pkg/session"
	"github.com/helionwallet/ledgerlink/pkg/trace"
)

// Config holds the console configuration.
type Config struct {
	Account     int
	Path        string
	ConfigFile  string
	Connect     bool
	Interactive bool
	LogLevel    string
	TraceFile   string

	// Simulator settings
	Mnemonic   string
	AppVersion string

	// Session tuning
	RetryInterval    time.Duration
	RetryBudget      time.Duration
	LivenessInterval time.Duration
}

var config Config

func init() {
	flag.IntVar(&config.Account, "account", 1, "Account number to target")
	flag.StringVar(&config.Path, "path", "", "Explicit derivation path (overrides -account)")
	flag.StringVar(&config.ConfigFile, "config", "", "YAML configuration file path")
	flag.BoolVar(&config.Connect, "connect", false, "Connect at startup")
	flag.BoolVar(&config.Interactive, "interactive", true, "Run the readline console")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.TraceFile, "trace", "", "Write a protocol trace to this file")

	flag.StringVar(&config.Mnemonic, "mnemonic", devicesim.TestMnemonic, "Simulator BIP-39 mnemonic")
	flag.StringVar(&config.AppVersion, "app-version", "5.4.1", "Simulator signer app version")

	flag.DurationVar(&config.RetryInterval, "retry-interval", session.DefaultRetryInterval, "Connect retry interval")
	flag.DurationVar(&config.RetryBudget, "retry-budget", session.DefaultRetryBudget, "Total connect retry budget")
	flag.DurationVar(&config.LivenessInterval, "liveness-interval", session.DefaultLivenessInterval, "Liveness probe interval")
}

func main() {
	flag.Parse()

	if config.ConfigFile != "" {
		fc, err := loadConfigFile(config.ConfigFile)
		if err != nil {
			log.Fatalf("Failed to load config file: %v", err)
		}
		mergeConfigFile(fc, explicitFlags())
	}

	setupLogging(config.LogLevel)

	log.Println("LedgerLink Device Console")
	log.Println("=========================")
	log.Printf("Target: %s", connectTarget())
	log.Printf("Signer app: %s", config.AppVersion)

	if err := validateConfig(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	simCfg := devicesim.DefaultConfig()
	simCfg.Mnemonic = config.Mnemonic
	simCfg.Version = config.AppVersion
	sim, err := devicesim.New(simCfg)
	if err != nil {
		log.Fatalf("Failed to create device simulator: %v", err)
	}

	var tracer trace.Logger = trace.NoopLogger{}
	if config.TraceFile != "" {
		fl, err := trace.NewFileLogger(config.TraceFile)
		if err != nil {
			log.Fatalf("Failed to open trace file: %v", err)
		}
		defer fl.Close()
		tracer = fl
		log.Printf("Writing protocol trace to %s", config.TraceFile)
	}

	// The manager's structured log goes through a swappable sink so
	// interactive mode can route it through readline later.
	sink := &consoleWriter{w: os.Stderr}
	logger := slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level: slogLevel(config.LogLevel),
	}))

	mgr, err := session.New(session.Config{
		Opener:           sim,
		Bind:             sim.Bind,
		Retry:            session.RetryPolicy{Interval: config.RetryInterval, Budget: config.RetryBudget},
		LivenessInterval: config.LivenessInterval,
		Logger:           logger,
		Tracer:           tracer,
	})
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !config.Interactive {
		// Headless mode has no console printing events, so log them here.
		sub := mgr.Subscribe(16)
		go logEvents(sub)
	}

	if config.Connect || !config.Interactive {
		target := connectTarget()
		log.Printf("Connecting to %s...", target)
		info, err := mgr.Connect(ctx, target)
		switch {
		case err != nil && config.Interactive:
			log.Printf("Connect failed: %v", err)
		case err != nil:
			log.Fatalf("Connect failed: %v", err)
		default:
			log.Printf("Connected: %s (app %s)", info.Path, info.Configuration.Version)
		}
	}

	if config.Interactive {
		ic, err := interactive.New(mgr, sim)
		if err != nil {
			log.Fatalf("Failed to create interactive console: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(ic.Stdout())
		sink.Set(ic.Stdout())
		go ic.Run(ctx, cancel)
	}

	// Wait for shutdown signal or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled (e.g., by the quit command)
	}

	log.Println("Shutting down...")

	if err := mgr.Close(); err != nil {
		log.Printf("Error closing session manager: %v", err)
	}

	log.Println("Goodbye!")
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "warn", "error":
		log.SetFlags(log.Ltime)
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func validateConfig() error {
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", config.LogLevel)
	}
	if config.Path == "" && config.Account < 1 {
		return fmt.Errorf("account must be 1 or higher, got %d", config.Account)
	}
	if config.RetryInterval < 0 || config.RetryBudget < 0 || config.LivenessInterval < 0 {
		return fmt.Errorf("retry and liveness durations must not be negative")
	}
	return nil
}

// connectTarget builds the session target from the configuration. An
// explicit path wins over the account number.
func connectTarget() session.Target {
	if config.Path != "" {
		return session.AtPath(config.Path)
	}
	return session.Account(config.Account)
}

// explicitFlags reports which flags were set on the command line, so
// config file values do not override them.
func explicitFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func logEvents(sub *session.Subscription) {
	for ev := range sub.C {
		switch ev.Type {
		case session.EventConnected:
			log.Printf("[EVENT] Session connected: %s", ev.Path)
		case session.EventDisconnected:
			log.Printf("[EVENT] Session disconnected: %s (%s)", ev.Path, ev.Reason)
		}
	}
}

// consoleWriter is an io.Writer whose destination can be swapped while
// in use. The manager logs through it from several goroutines.
type consoleWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(p)
}

func (c *consoleWriter) Set(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w = w
}
