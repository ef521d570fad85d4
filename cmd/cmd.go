// Package cmd implements the quickq command line.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli"
)

type BuildArgs struct {
	Version   string
	BuildType string
	Date      string
	Commit    string
}

// currentBuildArgs is reported by "version" and system.getVersion.
var currentBuildArgs BuildArgs

func Execute(args []string, bArgs BuildArgs) error {
	currentBuildArgs = bArgs
	app := cli.App{
		Name:                  "quickq",
		HelpName:              "quickq",
		Usage:                 "A fast bounded-concurrency job queue.",
		Version:               fmt.Sprintf("%s-%s", bArgs.Version, bArgs.BuildType),
		UsageText:             "quickq <command> [arguments...]",
		Description:           DESCRIPTION,
		CustomAppHelpTemplate: HELP_TEMPL,
		OnUsageError:          usageErrorCallback,
		Writer:                out,
		Flags:                 globalFlags,
		Commands: []cli.Command{
			{
				Name:               "bench",
				Aliases:            []string{"b"},
				Usage:              "measure queue throughput",
				Description:        BenchDescription,
				OnUsageError:       usageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             bench,
				Flags:              benchFlags,
			},
			{
				Name:               "serve",
				Usage:              "run a queue daemon with the control plane",
				Description:        ServeDescription,
				OnUsageError:       usageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             serve,
				Flags:              serveFlags,
			},
			{
				Name:         "status",
				Aliases:      []string{"s"},
				Usage:        "show the daemon queue counters",
				OnUsageError: usageErrorCallback,
				Action:       status,
			},
			{
				Name:         "pause",
				Usage:        "stop starting new jobs",
				OnUsageError: usageErrorCallback,
				Action:       pause,
			},
			{
				Name:         "resume",
				Usage:        "resume a paused queue",
				UsageText:    "quickq resume [concurrency]",
				OnUsageError: usageErrorCallback,
				Action:       resume,
			},
			{
				Name:         "concurrency",
				Usage:        "change the number of runner loops",
				UsageText:    "quickq concurrency <n>",
				OnUsageError: usageErrorCallback,
				Action:       concurrency,
			},
			{
				Name:               "submit",
				Usage:              "queue a job on the daemon",
				UsageText:          "quickq submit [--type t] <json payload>",
				Description:        SubmitDescription,
				OnUsageError:       usageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             submit,
				Flags:              submitFlags,
			},
			{
				Name:               "schedule",
				Usage:              "run a job later or on a cron schedule",
				UsageText:          "quickq schedule [--type t] (--at time | --in duration | --cron expr) <json payload>",
				Description:        ScheduleDescription,
				OnUsageError:       usageErrorCallback,
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             schedule,
				Flags:              scheduleFlags,
			},
			{
				Name:         "unschedule",
				Usage:        "cancel a scheduled job",
				UsageText:    "quickq unschedule <id>",
				OnUsageError: usageErrorCallback,
				Action:       unschedule,
			},
			{
				Name:         "watch",
				Usage:        "print job completions as they happen",
				OnUsageError: usageErrorCallback,
				Action:       watch,
			},
			{
				Name:         "journal",
				Aliases:      []string{"j"},
				Usage:        "list the jobs pending in a journal",
				OnUsageError: usageErrorCallback,
				Action:       listJournal,
				Flags:        journalFlags,
			},
			{
				Name:         "config",
				Usage:        "print the effective configuration",
				OnUsageError: usageErrorCallback,
				Action:       printConfig,
			},
			{
				Name:    "help",
				Aliases: []string{"h"},
				Usage:   "prints the help message",
				Action:  help,
			},
			{
				Name:               "version",
				Aliases:            []string{"v"},
				Usage:              "prints installed version of quickq",
				UsageText:          " ",
				CustomHelpTemplate: CMD_HELP_TEMPL,
				Action:             getVersion,
			},
		},
		HideHelp:    true,
		HideVersion: true,
	}
	return app.Run(args)
}

func getVersion(ctx *cli.Context) error {
	fmt.Fprintf(ctx.App.Writer,
		"%s %s (%s_%s)\nBuild: %s=%s\n",
		ctx.App.Name,
		ctx.App.Version,
		runtime.GOOS,
		runtime.GOARCH,
		currentBuildArgs.Date, currentBuildArgs.Commit,
	)
	return nil
}
