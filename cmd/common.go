package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"github.com/warpdl/quickq/internal/config"
)

var (
	// out receives command output; tests replace it.
	out io.Writer = os.Stdout
	// fsys backs config and journal files; tests replace it.
	fsys afero.Fs = afero.NewOsFs()

	configPath string
	rpcAddr    string
	rpcSecret  string

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path of the YAML configuration file",
			EnvVar:      "QUICKQ_CONFIG",
			Destination: &configPath,
		},
		cli.StringFlag{
			Name:        "addr, a",
			Usage:       "control-plane address (default: rpc.listen from the config)",
			EnvVar:      "QUICKQ_ADDR",
			Destination: &rpcAddr,
		},
		cli.StringFlag{
			Name:        "secret",
			Usage:       "control-plane bearer token (default: rpc.secret from the config)",
			EnvVar:      "QUICKQ_SECRET",
			Destination: &rpcSecret,
		},
	}
)

var errMissingArg = errors.New("missing argument")

// loadConfig reads the configuration file and applies the global flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(fsys, configPath)
	if err != nil {
		return cfg, err
	}
	if rpcAddr != "" {
		cfg.RPC.Listen = rpcAddr
	}
	if rpcSecret != "" {
		cfg.RPC.Secret = rpcSecret
	}
	return cfg, nil
}

func initBar(p *mpb.Progress, name string, total int64) *mpb.Bar {
	barStyle := mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")
	bar := p.New(total,
		barStyle,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(
				decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "Complete",
			),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("%d / %d", decor.WC{W: 12}),
		),
	)
	return bar
}

func help(ctx *cli.Context) error {
	arg := ctx.Args().First()
	if arg == "" || arg == "help" {
		fmt.Fprintf(ctx.App.Writer, "%s %s\n", ctx.App.Name, ctx.App.Version)
		return cli.ShowAppHelp(ctx)
	}
	return cli.ShowCommandHelp(ctx, arg)
}

// runtimeErr tags err with the command and the step that failed.
func runtimeErr(cmd, action string, err error) error {
	return fmt.Errorf("%s[%s]: %w", cmd, action, err)
}

func printErrWithCmdHelp(ctx *cli.Context, err error) error {
	fmt.Fprintf(ctx.App.Writer, "%s: %s\n\n", ctx.App.HelpName, err.Error())
	return cli.ShowCommandHelp(ctx, ctx.Command.Name)
}

func usageErrorCallback(ctx *cli.Context, err error, _ bool) error {
	estr := strings.ToLower(err.Error())
	if estr == "flag: help requested" {
		return help(ctx)
	}
	if ctx.Command.Name != "" {
		return printErrWithCmdHelp(ctx, err)
	}
	fmt.Fprintf(ctx.App.Writer, "%s: %s\n\n", ctx.App.HelpName, err.Error())
	return cli.ShowAppHelp(ctx)
}
