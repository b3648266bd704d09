package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-logger/internal/agentlog"
	"agent-logger/internal/config"
	"agent-logger/internal/hook"
	"agent-logger/internal/realtime"
	"agent-logger/internal/session"
	"agent-logger/internal/watcher"
)

const historySize = 1000

const usage = `agent-logger records Claude Code hook events into per-session logs.

Usage:
  agent-logger          read one hook event from stdin and log it (always exits 0)
  agent-logger serve    stream new log entries over WebSocket
  agent-logger version  print version
`

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "", "log":
		return runHook(stdin, stderr, time.Now())
	case "serve":
		if err := runServe(stderr); err != nil {
			fmt.Fprintf(stderr, "agent-logger: %v\n", err)
			return 1
		}
		return 0
	case "version":
		fmt.Fprintf(stdout, "agent-logger v%s\n", version)
		return 0
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n%s", cmd, usage)
		return 2
	}
}

// runHook logs a single event. Whatever happens, it returns 0: the hook
// runner must never be blocked by a logging failure.
func runHook(stdin io.Reader, stderr io.Writer, now time.Time) (code int) {
	logger := log.New(stderr, "", 0)

	defer func() {
		if r := recover(); r != nil {
			logger.Printf("Unexpected error in agent logger: %v", r)
			code = 0
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("agent-logger config: %v", err)
	}
	if cfg.LogsRoot == "" {
		logger.Printf("agent-logger: no logs root configured")
		return 0
	}

	ev, err := hook.Decode(stdin, now)
	if err != nil {
		logger.Print(err)
		return 0
	}

	l := agentlog.New(cfg, now)
	dir, err := l.Log(ev)
	if err != nil {
		logger.Print(agentlog.FailureMessage(ev.HookName, err))
		// If even this fails there is nowhere left to report it.
		_ = l.RecordFailure(dir, ev.HookName, err)
	}
	return 0
}

// runServe tails the logs root and streams new entries until interrupted.
func runServe(stderr io.Writer) error {
	log.SetOutput(stderr)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rtServer := realtime.New(session.NewStore(cfg.LogsRoot), historySize)

	logWatch := watcher.New(cfg.LogsRoot, rtServer.OnChunk)
	if err := logWatch.Start(); err != nil {
		return fmt.Errorf("watch %s: %w", cfg.LogsRoot, err)
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		logWatch.Shutdown()
		httpServer.Close()
	}()

	log.Printf("agent-logger streaming %s on http://%s", cfg.LogsRoot, cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
