package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli"
	"github.com/warpdl/quickq/internal/delay"
	"github.com/warpdl/quickq/internal/server"
)

const startAtLayout = "2006-01-02 15:04"

var (
	scheduleType  string
	scheduleAt    string
	scheduleIn    string
	scheduleCron  string
	scheduleFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "type, t",
			Usage:       "job type, required by daemons with a scheduler",
			Destination: &scheduleType,
		},
		cli.StringFlag{
			Name:        "at",
			Usage:       "run once at a local time (YYYY-MM-DD HH:MM)",
			Destination: &scheduleAt,
		},
		cli.StringFlag{
			Name:        "in",
			Usage:       "run once after a duration (e.g. 90s, 2h)",
			Destination: &scheduleIn,
		},
		cli.StringFlag{
			Name:        "cron",
			Usage:       "run on a 5-field cron schedule",
			Destination: &scheduleCron,
		},
	}
	errScheduleWhen = errors.New("one of --at, --in or --cron is required")
)

func parseStartAt(value string) (time.Time, error) {
	t, err := time.ParseInLocation(startAtLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q, expected YYYY-MM-DD HH:MM", value)
	}
	return t, nil
}

func parseStartIn(value string) (time.Time, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid --in %q, expected a duration like 30m or 1h30m", value)
	}
	return time.Now().Add(d), nil
}

// scheduleTime resolves the --at, --in and --cron flags. --at and --in are
// mutually exclusive; either may be combined with --cron to delay the first
// run.
func scheduleTime(at, in, cron string) (time.Time, error) {
	switch {
	case at != "" && in != "":
		return time.Time{}, errors.New("flags --at and --in are mutually exclusive")
	case at != "":
		return parseStartAt(at)
	case in != "":
		return parseStartIn(in)
	case cron == "":
		return time.Time{}, errScheduleWhen
	}
	if _, err := delay.Next(cron, time.Now()); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, nil
}

func schedule(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if arg == "" {
		return printErrWithCmdHelp(ctx, errMissingArg)
	}
	if !json.Valid([]byte(arg)) {
		return printErrWithCmdHelp(ctx, fmt.Errorf("payload is not valid JSON: %s", arg))
	}
	at, err := scheduleTime(scheduleAt, scheduleIn, scheduleCron)
	if err != nil {
		return printErrWithCmdHelp(ctx, err)
	}
	if !at.IsZero() && at.Before(time.Now()) {
		fmt.Fprintln(ctx.App.Writer, "warning: scheduled time is in the past, the job runs immediately")
	}
	return withClient("schedule", func(rctx context.Context, c *server.Client) error {
		res, err := c.Schedule(rctx, scheduleType, []byte(arg), at, scheduleCron)
		if err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "%s\tnext run %s\n", res.ID, res.Next.Local().Format(startAtLayout))
		return nil
	})
}

func unschedule(ctx *cli.Context) error {
	id := ctx.Args().First()
	if id == "" {
		return printErrWithCmdHelp(ctx, errMissingArg)
	}
	return withClient("unschedule", func(rctx context.Context, c *server.Client) error {
		if err := c.Unschedule(rctx, id); err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "unscheduled %s\n", id)
		return nil
	})
}
