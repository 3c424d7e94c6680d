package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskdock/internal/config"
	"taskdock/internal/engine"
	"taskdock/internal/eventbus"
	logx "taskdock/pkg/logx"
)

func main() {
	var (
		cfgPath  string
		logLevel string
		logFile  string
		baseDir  string
	)
	flag.StringVar(&cfgPath, "config", "./taskdock.json", "path to the task document (json or yaml)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	flag.StringVar(&logFile, "log-file", "", "optional log file path (console logging stays on)")
	flag.StringVar(&baseDir, "base-dir", "", "base directory for relative script resolution (default: cwd)")
	flag.Parse()

	logSvc, log := logx.New(logx.Config{
		Level:   logLevel,
		Console: true,
		File:    logx.FileConfig{Enabled: logFile != "", Path: logFile},
	})
	defer logSvc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := config.NewStore(cfgPath, log.With(logx.String("comp", "config")))
	eng := engine.New(store, engine.Options{
		Log:     log.With(logx.String("comp", "engine")),
		BaseDir: baseDir,
	})

	events, unsubscribe := eng.Events(64)
	go logEvents(log.With(logx.String("comp", "events")), events)
	defer unsubscribe()

	if err := eng.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	eng.Stop(stopCtx)
}

// logEvents mirrors the engine event stream into the log so an operator can
// follow scheduling activity without attaching a client.
func logEvents(log logx.Logger, events <-chan eventbus.Event) {
	for ev := range events {
		log.Debug("event",
			logx.String("type", string(ev.Type)),
			logx.Time("at", ev.Time),
			logx.Any("data", ev.Data))
	}
}
