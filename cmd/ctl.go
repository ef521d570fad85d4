package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"github.com/warpdl/quickq/internal/server"
	"github.com/warpdl/quickq/pkg/quickq"
)

const DEF_CTL_TIMEOUT = 10 * time.Second

var (
	submitType  string
	submitFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "type, t",
			Usage:       "job type, required by daemons with a scheduler",
			Destination: &submitType,
		},
	}
)

// dial connects to the daemon named by the config and global flags.
func dial(ctx context.Context, onNotify server.NotifyFunc) (*server.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return server.Dial(ctx, cfg.RPC.Listen, cfg.RPC.Secret, onNotify)
}

// withClient runs fn against the daemon under the default timeout.
func withClient(cmd string, fn func(ctx context.Context, c *server.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), DEF_CTL_TIMEOUT)
	defer cancel()
	c, err := dial(ctx, nil)
	if err != nil {
		return runtimeErr(cmd, "dial", err)
	}
	defer c.Close()
	if err := fn(ctx, c); err != nil {
		return runtimeErr(cmd, "call", err)
	}
	return nil
}

func printStats(w io.Writer, st *quickq.Stats) {
	state := "running"
	if st.Paused {
		state = "paused"
	}
	fmt.Fprintf(w, "state:       %s\n", state)
	fmt.Fprintf(w, "concurrency: %d\n", st.Concurrency)
	fmt.Fprintf(w, "jobs:        %d (%d running, %d waiting)\n", st.Length, st.Running, st.Length-st.Running)
	fmt.Fprintf(w, "runners:     %d\n", st.Runners)
	if st.Scheduler == nil || len(st.Scheduler.PerType) == 0 {
		return
	}
	types := make([]string, 0, len(st.Scheduler.PerType))
	for typ := range st.Scheduler.PerType {
		types = append(types, typ)
	}
	sort.Strings(types)
	fmt.Fprintln(w, "types:")
	for _, typ := range types {
		ts := st.Scheduler.PerType[typ]
		fmt.Fprintf(w, "  %-16s %d running, %d waiting\n", strconv.Quote(typ), ts.Running, ts.Waiting)
	}
}

func status(ctx *cli.Context) error {
	return withClient("status", func(rctx context.Context, c *server.Client) error {
		st, err := c.Status(rctx)
		if err != nil {
			return err
		}
		printStats(ctx.App.Writer, st)
		return nil
	})
}

func pause(ctx *cli.Context) error {
	return withClient("pause", func(rctx context.Context, c *server.Client) error {
		st, err := c.Pause(rctx)
		if err != nil {
			return err
		}
		printStats(ctx.App.Writer, st)
		return nil
	})
}

func resume(ctx *cli.Context) error {
	n := 0
	if arg := ctx.Args().First(); arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return printErrWithCmdHelp(ctx, fmt.Errorf("invalid concurrency %q", arg))
		}
		n = v
	}
	return withClient("resume", func(rctx context.Context, c *server.Client) error {
		st, err := c.Resume(rctx, n)
		if err != nil {
			return err
		}
		printStats(ctx.App.Writer, st)
		return nil
	})
}

func concurrency(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if arg == "" {
		return printErrWithCmdHelp(ctx, errMissingArg)
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return printErrWithCmdHelp(ctx, fmt.Errorf("invalid concurrency %q", arg))
	}
	return withClient("concurrency", func(rctx context.Context, c *server.Client) error {
		st, err := c.SetConcurrency(rctx, n)
		if err != nil {
			return err
		}
		printStats(ctx.App.Writer, st)
		return nil
	})
}

func submit(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if arg == "" {
		return printErrWithCmdHelp(ctx, errMissingArg)
	}
	if !json.Valid([]byte(arg)) {
		return printErrWithCmdHelp(ctx, fmt.Errorf("payload is not valid JSON: %s", arg))
	}
	return withClient("submit", func(rctx context.Context, c *server.Client) error {
		id, err := c.Submit(rctx, submitType, []byte(arg))
		if err != nil {
			return err
		}
		fmt.Fprintln(ctx.App.Writer, id)
		return nil
	})
}

// watch prints pushed notifications until interrupted.
func watch(ctx *cli.Context) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchUntil(sigCtx, ctx.App.Writer)
}

func watchUntil(ctx context.Context, w io.Writer) error {
	lines := make(chan string, 64)
	onNotify := func(method string, params json.RawMessage) {
		select {
		case lines <- formatNotification(method, params):
		default:
			// Drops lines while the writer lags behind.
		}
	}
	dctx, cancel := context.WithTimeout(ctx, DEF_CTL_TIMEOUT)
	c, err := dial(dctx, onNotify)
	cancel()
	if err != nil {
		return runtimeErr("watch", "dial", err)
	}
	defer c.Close()
	// A first call confirms the session before waiting for pushes.
	if _, err := c.Version(ctx); err != nil {
		return runtimeErr("watch", "call", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(w, line)
		}
	}
}

func formatNotification(method string, params json.RawMessage) string {
	switch method {
	case server.NotifyJobCompleted:
		var n server.JobCompletedNotification
		if err := json.Unmarshal(params, &n); err == nil {
			if n.Error != "" {
				return fmt.Sprintf("failed  %s %s: %s", n.ID, n.Type, n.Error)
			}
			return fmt.Sprintf("done    %s %s", n.ID, n.Type)
		}
	case server.NotifyQueueIdle:
		var n server.QueueIdleNotification
		if err := json.Unmarshal(params, &n); err == nil {
			return fmt.Sprintf("idle    %d completed, %d failed", n.Completed, n.Failed)
		}
	}
	return fmt.Sprintf("%s %s", method, params)
}
