package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transporthttp "github.com/xiaot623/quorum/internal/transport/http"
	"github.com/xiaot623/quorum/internal/transport/ws"
	"github.com/xiaot623/quorum/tests/harness"
	"github.com/xiaot623/quorum/tests/helpers"
)

func startServer(t *testing.T) (*harness.Harness, string) {
	t.Helper()
	hs := harness.New(t)
	wsServer := ws.NewServer(hs.Config, hs.Hub, hs.Service, helpers.DiscardLogger())
	srv := transporthttp.NewServer(hs.Service, hs.Store, hs.Hub, wsServer, helpers.DiscardLogger())
	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)
	return hs, ts.URL
}

func execute(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--addr", addr, "--interval", "10ms"}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})
	for _, name := range []string{"analyze", "get", "events", "runs", "cancel", "watch", "activity"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"addr", "poll", "interval"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag))
	}
}

func TestAnalyzeGetCancel(t *testing.T) {
	hs, addr := startServer(t)

	out, err := execute(t, addr, "analyze", "thread-42")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "queued"`)

	runs, err := hs.Service.ListRuns(context.Background(), "thread-42")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	runID := runs[0].ID

	out, err = execute(t, addr, "cancel", runID)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "cancelled"`)

	out, err = execute(t, addr, "events", runID)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "queued")
	assert.Contains(t, lines[1], "cancelled")

	out, err = execute(t, addr, "runs", "thread-42")
	require.NoError(t, err)
	assert.Contains(t, out, runID+"\tcancelled")

	_, err = execute(t, addr, "get", "run_missing")
	assert.Error(t, err)
}

func TestWatchUntilTerminal(t *testing.T) {
	for _, mode := range [][]string{nil, {"--poll"}} {
		hs, addr := startServer(t)
		run, err := hs.Service.Start(context.Background(), "thread-42")
		require.NoError(t, err)
		hs.Finish()

		out, err := execute(t, addr, append(mode, "watch", run.ID)...)
		require.NoError(t, err)

		events, err := hs.Service.ListEvents(context.Background(), run.ID)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		assert.Len(t, lines, len(events))
		assert.Contains(t, lines[len(lines)-1], "completed")
	}
}

func TestWatchUnknownRunFails(t *testing.T) {
	_, addr := startServer(t)
	_, err := execute(t, addr, "watch", "run_missing")
	assert.Error(t, err)
}

func TestActivityCount(t *testing.T) {
	hs, addr := startServer(t)
	run, err := hs.Service.Start(context.Background(), "thread-42")
	require.NoError(t, err)
	_, err = hs.Service.Cancel(context.Background(), run.ID)
	require.NoError(t, err)

	out, err := execute(t, addr, "activity", "--count", "2")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run_started")
	assert.Contains(t, lines[1], "run_cancelled")
}
