package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"github.com/warpdl/quickq/internal/config"
)

const (
	DEF_GC_INTERVAL   = time.Minute
	DEF_DRAIN_TIMEOUT = 10 * time.Second
)

var (
	serveConc          int
	serveScheduler     string
	serveJournalDriver string
	serveJournalPath   string
	serveGCInterval    time.Duration
	serveDrainTimeout  time.Duration

	serveFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "concurrency, j",
			Usage:       "queue concurrency (default: from the config)",
			EnvVar:      "QUICKQ_CONCURRENCY",
			Destination: &serveConc,
		},
		cli.StringFlag{
			Name:        "scheduler",
			Usage:       "fair or capped (default: from the config)",
			EnvVar:      "QUICKQ_SCHEDULER",
			Destination: &serveScheduler,
		},
		cli.StringFlag{
			Name:        "journal-driver",
			Usage:       "none, file or sqlite (default: from the config)",
			EnvVar:      "QUICKQ_JOURNAL_DRIVER",
			Destination: &serveJournalDriver,
		},
		cli.StringFlag{
			Name:        "journal-path",
			Usage:       "journal file or sqlite database",
			EnvVar:      "QUICKQ_JOURNAL_PATH",
			Destination: &serveJournalPath,
		},
		cli.DurationFlag{
			Name:        "gc-interval",
			Usage:       "how often idle scheduler counters are collected",
			Value:       DEF_GC_INTERVAL,
			Destination: &serveGCInterval,
		},
		cli.DurationFlag{
			Name:        "drain-timeout",
			Usage:       "how long shutdown waits for running jobs",
			Value:       DEF_DRAIN_TIMEOUT,
			Destination: &serveDrainTimeout,
		},
	}
)

// serveConfig loads the configuration and applies the serve flags.
func serveConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	if serveConc > 0 {
		cfg.Concurrency = serveConc
	}
	if serveScheduler != "" {
		cfg.Scheduler = serveScheduler
	}
	if serveJournalDriver != "" {
		cfg.Journal.Driver = serveJournalDriver
	}
	if serveJournalPath != "" {
		cfg.Journal.Path = serveJournalPath
	}
	return cfg, cfg.Validate()
}

func serve(ctx *cli.Context) error {
	cfg, err := serveConfig()
	if err != nil {
		return runtimeErr("serve", "config", err)
	}
	l, err := cfg.Log.Open(fsys, os.Stderr)
	if err != nil {
		return runtimeErr("serve", "logger", err)
	}
	defer l.Close()
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(runCtx, cfg, l, daemonOptions{
		gcInterval:   serveGCInterval,
		drainTimeout: serveDrainTimeout,
	})
	if err != nil {
		return runtimeErr("serve", "start", err)
	}
	defer d.Close()
	if err := d.Run(runCtx); err != nil {
		return runtimeErr("serve", "run", err)
	}
	return nil
}
