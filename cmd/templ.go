package cmd

const DESCRIPTION = `
quickq runs jobs with bounded concurrency. Typed jobs can be
shared fairly between job types or held under hard per-type
caps, and a daemon can journal pending jobs so they survive a
restart.
`

const (
	BenchDescription = `The bench command pushes a batch of no-op jobs through a
queue and reports the throughput of each round.

Example:
        quickq bench --tasks 100000 --rounds 5
        quickq bench --types 4 --scheduler fair

`
	ServeDescription = `The serve command runs a queue of sleep jobs, payload
{"ms": <milliseconds>}, with the JSON-RPC control plane
listening on --listen. Pending jobs are journaled when a
journal driver is configured and replayed on the next start.

Example:
        quickq serve --secret s3cret --journal-driver file --journal-path jobs.log

`
	SubmitDescription = `The submit command queues a job on a running daemon and
prints its id.

Example:
        quickq submit '{"ms": 250}'
        quickq submit --type mail '{"ms": 40}'

`
	ScheduleDescription = `The schedule command holds a job on a running daemon until
a given time, or queues it on every tick of a cron expression. Scheduled
jobs are kept in memory and are lost when the daemon stops.

Example:
        quickq schedule --in 10m '{"ms": 250}'
        quickq schedule --at "2026-12-01 08:00" '{"ms": 250}'
        quickq schedule --type report --cron "0 * * * *" '{"ms": 1000}'

`
)

const HELP_TEMPL = `Usage: {{if .UsageText}}{{.UsageText}}{{else}}{{.HelpName}} {{if .VisibleFlags}}[global options]{{end}}{{if .Commands}} command [command options]{{end}} {{if .ArgsUsage}}{{.ArgsUsage}}{{else}}[arguments...]{{end}}{{end}}
{{.Description}}{{if .VisibleCommands}}
Commands:{{range .VisibleCategories}}{{if .Name}}

{{.Name}}:{{range .VisibleCommands}}
  {{join .Names ", "}}{{"\t"}}{{.Usage}}{{end}}{{else}}{{range .VisibleCommands}}
{{"\t"}}{{index .Names 0}}{{"\t:\t"}}{{.Usage}}{{end}}{{end}}{{end}}{{end}}{{if .VisibleFlags}}

Global Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

Use "{{.HelpName}} help <command>" for more information about any command.

`

const CMD_HELP_TEMPL = `{{if .Description}}{{.Description}}{{else}}{{.HelpName}} - {{.Usage}}

{{end}}Usage:
        {{.HelpName}} {{if .UsageText}}{{.UsageText}}{{else}}[arguments...]{{end}}{{if .VisibleFlags}}

Supported Flags:{{range .VisibleFlags}}
  {{.}}{{end}}{{end}}

`
