// Package server exposes a running queue over JSON-RPC 2.0, on plain HTTP
// POST and on websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/warpdl/quickq/pkg/logger"
	"github.com/warpdl/quickq/pkg/quickq"
	"github.com/warpdl/quickq/pkg/scheduler"
)

// Custom JSON-RPC error codes for queue operations.
const (
	codeUnsupported   = jrpc2.Code(-32001)
	codeSubmitFailed  = jrpc2.Code(-32002)
	codeNotScheduled  = jrpc2.Code(-32003)
	codeInvalidParams = jrpc2.Code(-32602)
)

// Controller is the queue surface driven by the control plane.
// *quickq.Queue satisfies it for any payload and result type.
type Controller interface {
	Stats() quickq.Stats
	Pause()
	Resume()
	ResumeConcurrency(n int) error
	SetConcurrency(n int)
	Configure(opts scheduler.Options) error
	GC() bool
}

// SubmitFunc queues a job decoded from payload and returns its id.
type SubmitFunc func(ctx context.Context, typ string, payload json.RawMessage) (string, error)

// Delayer holds jobs back for jobs.schedule and jobs.unschedule.
type Delayer interface {
	Schedule(ctx context.Context, typ string, payload json.RawMessage, at time.Time, cron string) (id string, next time.Time, err error)
	Unschedule(id string) bool
}

// Config holds configuration for the JSON-RPC endpoint.
type Config struct {
	Secret    string // Auth token (required, empty means RPC disabled)
	Version   string
	Commit    string
	BuildType string
}

// RPCServer serves the control-plane methods.
type RPCServer struct {
	methods   handler.Map
	bridge    jhttp.Bridge
	secret    string
	version   string
	commit    string
	buildType string
	queue     Controller
	submit    SubmitFunc
	delayer   Delayer
	notifier  *RPCNotifier
	log       logger.Logger
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildType string `json:"buildType,omitempty"`
}

// ResumeParams is the input for queue.resume. A zero Concurrency restores
// the value saved by the last pause.
type ResumeParams struct {
	Concurrency int `json:"concurrency,omitempty"`
}

// ConcurrencyParams is the input for queue.setConcurrency.
type ConcurrencyParams struct {
	Concurrency *int `json:"concurrency"`
}

// SubmitParams is the input for jobs.submit.
type SubmitParams struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// SubmitResult is the response for jobs.submit.
type SubmitResult struct {
	ID string `json:"id"`
}

// ScheduleParams is the input for jobs.schedule. Either At or Cron must be
// set; with both, the first run happens at At.
type ScheduleParams struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at,omitzero"`
	Cron    string          `json:"cron,omitempty"`
}

// ScheduleResult is the response for jobs.schedule.
type ScheduleResult struct {
	ID   string    `json:"id"`
	Next time.Time `json:"next"`
}

// UnscheduleParams is the input for jobs.unschedule.
type UnscheduleParams struct {
	ID string `json:"id"`
}

// GCResult is the response for scheduler.gc.
type GCResult struct {
	Stats *scheduler.Stats `json:"stats,omitempty"`
}

// EmptyResult is a placeholder for methods that return no data.
type EmptyResult struct{}

// NewRPCServer creates the method table and HTTP bridge for q. submit may
// be nil, in which case jobs.submit reports codeUnsupported.
func NewRPCServer(cfg *Config, q Controller, submit SubmitFunc, l logger.Logger) *RPCServer {
	if l == nil {
		l = logger.NewNopLogger()
	}
	rs := &RPCServer{
		secret:    cfg.Secret,
		version:   cfg.Version,
		commit:    cfg.Commit,
		buildType: cfg.BuildType,
		queue:     q,
		submit:    submit,
		notifier:  NewRPCNotifier(l),
		log:       l,
	}
	rs.methods = handler.Map{
		"system.getVersion":    handler.New(rs.systemGetVersion),
		"queue.status":         handler.New(rs.queueStatus),
		"queue.pause":          handler.New(rs.queuePause),
		"queue.resume":         handler.New(rs.queueResume),
		"queue.setConcurrency": handler.New(rs.queueSetConcurrency),
		"scheduler.configure":  handler.New(rs.schedulerConfigure),
		"scheduler.gc":         handler.New(rs.schedulerGC),
		"jobs.submit":          handler.New(rs.jobsSubmit),
		"jobs.schedule":        handler.New(rs.jobsSchedule),
		"jobs.unschedule":      handler.New(rs.jobsUnschedule),
	}
	rs.bridge = jhttp.NewBridge(rs.methods, nil)
	return rs
}

// SetDelayer enables jobs.schedule and jobs.unschedule. It must be called
// before the server handles requests.
func (rs *RPCServer) SetDelayer(d Delayer) {
	rs.delayer = d
}

// Notifier returns the broadcaster for the websocket sessions.
func (rs *RPCServer) Notifier() *RPCNotifier {
	return rs.notifier
}

// Handler routes POST /jsonrpc to the HTTP bridge and /jsonrpc/ws to the
// websocket endpoint, both behind token authentication.
func (rs *RPCServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/jsonrpc", requireToken(rs.secret, rs.bridge))
	mux.Handle("/jsonrpc/ws", requireToken(rs.secret, http.HandlerFunc(rs.serveWS)))
	return mux
}

func (rs *RPCServer) systemGetVersion(_ context.Context) (*VersionResult, error) {
	return &VersionResult{
		Version:   rs.version,
		Commit:    rs.commit,
		BuildType: rs.buildType,
	}, nil
}

func (rs *RPCServer) queueStatus(_ context.Context) (*quickq.Stats, error) {
	st := rs.queue.Stats()
	return &st, nil
}

// queuePause stops new jobs from starting; running jobs finish.
func (rs *RPCServer) queuePause(_ context.Context) (*quickq.Stats, error) {
	rs.queue.Pause()
	rs.log.Info("rpc: queue paused")
	return rs.queueStatus(context.Background())
}

func (rs *RPCServer) queueResume(_ context.Context, p *ResumeParams) (*quickq.Stats, error) {
	switch {
	case p.Concurrency < 0:
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "concurrency must be positive"}
	case p.Concurrency > 0:
		if err := rs.queue.ResumeConcurrency(p.Concurrency); err != nil {
			return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
		}
	default:
		rs.queue.Resume()
	}
	rs.log.Info("rpc: queue resumed")
	return rs.queueStatus(context.Background())
}

// queueSetConcurrency changes the concurrency; zero or less pauses.
func (rs *RPCServer) queueSetConcurrency(_ context.Context, p *ConcurrencyParams) (*quickq.Stats, error) {
	if p.Concurrency == nil {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: concurrency"}
	}
	rs.queue.SetConcurrency(*p.Concurrency)
	return rs.queueStatus(context.Background())
}

func (rs *RPCServer) schedulerConfigure(_ context.Context, p *scheduler.Options) (*quickq.Stats, error) {
	if p.MaxTypeShare < 0 || p.MaxTypeShare > 1 {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "maxTypeShare must be within (0, 1]"}
	}
	if p.Concurrency < 0 || p.MaxScanLength < 0 {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "scheduler limits must not be negative"}
	}
	if err := rs.queue.Configure(*p); err != nil {
		if errors.Is(err, quickq.ErrNotConfigurable) {
			return nil, &jrpc2.Error{Code: codeUnsupported, Message: err.Error()}
		}
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	}
	return rs.queueStatus(context.Background())
}

func (rs *RPCServer) schedulerGC(_ context.Context) (*GCResult, error) {
	if !rs.queue.GC() {
		return nil, &jrpc2.Error{Code: codeUnsupported, Message: "queue has no collectable scheduler"}
	}
	return &GCResult{Stats: rs.queue.Stats().Scheduler}, nil
}

func (rs *RPCServer) jobsSubmit(ctx context.Context, p *SubmitParams) (*SubmitResult, error) {
	if rs.submit == nil {
		return nil, &jrpc2.Error{Code: codeUnsupported, Message: "job submission is disabled"}
	}
	if len(p.Payload) == 0 {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: payload"}
	}
	id, err := rs.submit(ctx, p.Type, p.Payload)
	if err != nil {
		if errors.Is(err, quickq.ErrInvalidArgument) {
			return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
		}
		return nil, &jrpc2.Error{Code: codeSubmitFailed, Message: err.Error()}
	}
	return &SubmitResult{ID: id}, nil
}

func (rs *RPCServer) jobsSchedule(ctx context.Context, p *ScheduleParams) (*ScheduleResult, error) {
	if rs.delayer == nil {
		return nil, &jrpc2.Error{Code: codeUnsupported, Message: "job scheduling is disabled"}
	}
	if len(p.Payload) == 0 {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: payload"}
	}
	if p.At.IsZero() && p.Cron == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "one of at or cron is required"}
	}
	id, next, err := rs.delayer.Schedule(ctx, p.Type, p.Payload, p.At, p.Cron)
	if err != nil {
		if errors.Is(err, quickq.ErrInvalidArgument) {
			return nil, &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
		}
		return nil, &jrpc2.Error{Code: codeSubmitFailed, Message: err.Error()}
	}
	return &ScheduleResult{ID: id, Next: next}, nil
}

func (rs *RPCServer) jobsUnschedule(_ context.Context, p *UnscheduleParams) (*EmptyResult, error) {
	if rs.delayer == nil {
		return nil, &jrpc2.Error{Code: codeUnsupported, Message: "job scheduling is disabled"}
	}
	if p.ID == "" {
		return nil, &jrpc2.Error{Code: codeInvalidParams, Message: "missing required param: id"}
	}
	if !rs.delayer.Unschedule(p.ID) {
		return nil, &jrpc2.Error{Code: codeNotScheduled, Message: "no scheduled job " + p.ID}
	}
	return &EmptyResult{}, nil
}

// Close shuts down the jrpc2 bridge, releasing internal goroutines.
func (rs *RPCServer) Close() {
	rs.bridge.Close()
}
