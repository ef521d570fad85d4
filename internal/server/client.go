package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/warpdl/quickq/pkg/quickq"
	"github.com/warpdl/quickq/pkg/scheduler"
)

// ErrUnauthorized is returned by Dial when the server rejects the secret.
var ErrUnauthorized = errors.New("unauthorized: check the rpc secret")

// Client talks to a running control plane over its websocket endpoint.
type Client struct {
	rpc *jrpc2.Client
}

// NotifyFunc receives server pushes such as NotifyJobCompleted.
type NotifyFunc func(method string, params json.RawMessage)

// Dial connects to the control plane listening on addr (host:port).
// onNotify may be nil.
func Dial(ctx context.Context, addr, secret string, onNotify NotifyFunc) (*Client, error) {
	url := "ws://" + strings.TrimPrefix(addr, "http://") + "/jsonrpc/ws"
	conn, resp, err := cws.Dial(ctx, url, &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{bearer(secret)}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("error connecting to server: %w", err)
	}
	// Reads run on a background context; Close ends the session.
	ch := &wsChannel{conn: conn, ctx: context.Background()}
	var opts *jrpc2.ClientOptions
	if onNotify != nil {
		opts = &jrpc2.ClientOptions{
			OnNotify: func(req *jrpc2.Request) {
				onNotify(req.Method(), json.RawMessage(req.ParamString()))
			},
		}
	}
	return &Client{rpc: jrpc2.NewClient(ch, opts)}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func invoke[T any](ctx context.Context, c *Client, method string, params any) (*T, error) {
	var d T
	if err := c.rpc.CallResult(ctx, method, params, &d); err != nil {
		return nil, fmt.Errorf("failed to invoke %s: %w", method, err)
	}
	return &d, nil
}

func (c *Client) Version(ctx context.Context) (*VersionResult, error) {
	return invoke[VersionResult](ctx, c, "system.getVersion", nil)
}

func (c *Client) Status(ctx context.Context) (*quickq.Stats, error) {
	return invoke[quickq.Stats](ctx, c, "queue.status", nil)
}

func (c *Client) Pause(ctx context.Context) (*quickq.Stats, error) {
	return invoke[quickq.Stats](ctx, c, "queue.pause", nil)
}

// Resume restarts a paused queue. A zero concurrency restores the value
// saved by the pause.
func (c *Client) Resume(ctx context.Context, concurrency int) (*quickq.Stats, error) {
	return invoke[quickq.Stats](ctx, c, "queue.resume", &ResumeParams{Concurrency: concurrency})
}

func (c *Client) SetConcurrency(ctx context.Context, n int) (*quickq.Stats, error) {
	return invoke[quickq.Stats](ctx, c, "queue.setConcurrency", &ConcurrencyParams{Concurrency: &n})
}

func (c *Client) Configure(ctx context.Context, opts scheduler.Options) (*quickq.Stats, error) {
	return invoke[quickq.Stats](ctx, c, "scheduler.configure", &opts)
}

func (c *Client) GC(ctx context.Context) (*GCResult, error) {
	return invoke[GCResult](ctx, c, "scheduler.gc", nil)
}

// Submit queues payload, which must be valid JSON, and returns the job id.
func (c *Client) Submit(ctx context.Context, typ string, payload []byte) (string, error) {
	res, err := invoke[SubmitResult](ctx, c, "jobs.submit", &SubmitParams{Type: typ, Payload: payload})
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

// Schedule holds payload back until at, or runs it on every tick of cron,
// and returns the id and first run time.
func (c *Client) Schedule(ctx context.Context, typ string, payload []byte, at time.Time, cron string) (*ScheduleResult, error) {
	return invoke[ScheduleResult](ctx, c, "jobs.schedule", &ScheduleParams{
		Type:    typ,
		Payload: payload,
		At:      at,
		Cron:    cron,
	})
}

func (c *Client) Unschedule(ctx context.Context, id string) error {
	_, err := invoke[EmptyResult](ctx, c, "jobs.unschedule", &UnscheduleParams{ID: id})
	return err
}
