package cmd

import (
	"bytes"
	"flag"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of watch.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureOutput points command output at a buffer and gives every test a
// fresh in-memory filesystem and empty global flags.
func captureOutput(t *testing.T) (*syncBuffer, afero.Fs) {
	t.Helper()
	oldOut, oldFs := out, fsys
	oldConfig, oldAddr, oldSecret := configPath, rpcAddr, rpcSecret
	buf := &syncBuffer{}
	mem := afero.NewMemMapFs()
	out, fsys = buf, mem
	configPath, rpcAddr, rpcSecret = "", "", ""
	t.Cleanup(func() {
		out, fsys = oldOut, oldFs
		configPath, rpcAddr, rpcSecret = oldConfig, oldAddr, oldSecret
	})
	return buf, mem
}

// assertContains checks if output contains the expected substring.
func assertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

func newContext(app *cli.App, args []string, name string) *cli.Context {
	set := flag.NewFlagSet(name, flag.ContinueOnError)
	_ = set.Parse(args)
	ctx := cli.NewContext(app, set, nil)
	ctx.Command = cli.Command{Name: name}
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
