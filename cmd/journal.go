package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli"
	"github.com/warpdl/quickq/internal/config"
	"github.com/warpdl/quickq/pkg/journal"
)

var (
	listDriver string
	listPath   string

	journalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "driver",
			Usage:       "file or sqlite (default: from the config)",
			Destination: &listDriver,
		},
		cli.StringFlag{
			Name:        "path, p",
			Usage:       "journal file or sqlite database (default: from the config)",
			Destination: &listPath,
		},
	}
)

// listJournal prints the jobs a journal still holds, oldest first.
func listJournal(ctx *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return runtimeErr("journal", "config", err)
	}
	jc := cfg.Journal
	if listDriver != "" {
		jc.Driver = listDriver
	}
	if listPath != "" {
		jc.Path = listPath
	}
	if jc.Driver == "" || jc.Driver == config.DriverNone {
		return printErrWithCmdHelp(ctx, fmt.Errorf("no journal configured"))
	}
	if jc.Path == "" {
		return printErrWithCmdHelp(ctx, fmt.Errorf("journal driver %s needs a path", jc.Driver))
	}

	rctx := context.Background()
	store, err := jc.OpenStore(rctx, fsys)
	if err != nil {
		return runtimeErr("journal", "open", err)
	}
	if store == nil {
		return printErrWithCmdHelp(ctx, fmt.Errorf("unknown journal driver %q", jc.Driver))
	}
	j, err := journal.Open[json.RawMessage](rctx, store)
	if err != nil {
		_ = store.Close()
		return runtimeErr("journal", "load", err)
	}
	defer j.Close()

	pending := j.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(ctx.App.Writer, "no pending jobs")
		return nil
	}
	tw := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPAYLOAD")
	for _, e := range pending {
		typ := e.Type
		if typ == "" {
			typ = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, typ, e.Payload)
	}
	return tw.Flush()
}

// printConfig writes the effective configuration as YAML with the secret
// masked.
func printConfig(ctx *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return runtimeErr("config", "load", err)
	}
	if cfg.RPC.Secret != "" {
		cfg.RPC.Secret = "********"
	}
	data, err := cfg.Marshal()
	if err != nil {
		return runtimeErr("config", "marshal", err)
	}
	_, err = ctx.App.Writer.Write(data)
	return err
}
