package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shadowfs/pkg/api"
	"github.com/marmos91/shadowfs/pkg/api/handlers"
	"github.com/marmos91/shadowfs/pkg/shadow"
	"github.com/marmos91/shadowfs/pkg/shadow/scheduler"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs/memfs"
)

// run executes the root command with args against a server and returns
// what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags restores every flag to its default so runs do not leak into
// each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func mustLookup(t *testing.T, m *shadow.Mount, rel string) vfs.Node {
	t.Helper()
	n, err := m.LookupPath(context.Background(), rel)
	require.NoError(t, err)
	return n
}

func newTestServer(t *testing.T) (*shadow.Mount, *memfs.FS, string) {
	t.Helper()
	local, remote := memfs.New(memfs.Options{}), memfs.New(memfs.Options{})
	require.NoError(t, remote.MkdirAll("docs", 0o755))
	require.NoError(t, remote.WriteFile("docs/readme", []byte("read me"), 0o644))

	m, err := shadow.MountAsShadow(context.Background(), shadow.Options{
		ID:        "cli-test",
		Local:     local,
		Remote:    remote,
		Scheduler: scheduler.Config{Interval: time.Hour},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Unconfigure(context.Background()) })

	srv := httptest.NewServer(api.NewRouter(m))
	t.Cleanup(srv.Close)
	return m, local, srv.URL
}

func TestVersion(t *testing.T) {
	Version = "1.2.3"
	out, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestProcessCountsEntries(t *testing.T) {
	m, local, url := newTestServer(t)

	_, err := run(t, "process", "-n", "10", "--blocking", "--api-url", url, "-o", "json")
	require.NoError(t, err)

	hs, err := m.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hs)
	got, err := local.ReadFile("docs/readme")
	require.NoError(t, err)
	assert.Equal(t, []byte("read me"), got)
}

func TestStandbyAndControl(t *testing.T) {
	m, _, url := newTestServer(t)

	_, err := run(t, "standby", "on", "--api-url", url)
	require.NoError(t, err)
	assert.True(t, m.Standby())

	_, err = run(t, "standby", "off", "--api-url", url)
	require.NoError(t, err)
	assert.False(t, m.Standby())

	_, err = run(t, "standby", "maybe", "--api-url", url)
	assert.Error(t, err)

	_, err = run(t, "control", "force-migrate", "--path", "docs/readme", "--blocking", "--api-url", url)
	require.NoError(t, err)
	assert.False(t, m.IsMigrationPending(context.Background(), mustLookup(t, m, "docs/readme")))

	n := mustLookup(t, m, "docs/readme")
	_, err = run(t, "control", "remote-path", "--handle", n.ID().Hex(), "--binary", "--api-url", url)
	assert.Error(t, err)

	_, err = run(t, "control", "remote-path", "--path", "docs", "--binary", "--api-url", url)
	assert.ErrorContains(t, err, "--binary requires --handle")
}

func TestPendingListRenders(t *testing.T) {
	l := PendingList{Total: 2, Entries: []handlers.PendingEntry{{Handle: "0a", Path: "/"}, {Handle: "0b"}}}
	assert.Equal(t, [][]string{{"0a", "/"}, {"0b", "-"}}, l.Rows())

	data, err := json.Marshal(l)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total":2`)
}

func TestCompletion(t *testing.T) {
	out, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "shadowfs")

	_, err = run(t, "completion", "tcsh")
	assert.Error(t, err)
}
