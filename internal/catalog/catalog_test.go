package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/chkforge/internal/catalog"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCheckpointName(t *testing.T) {
	w := catalog.Workload{Name: "stream_add", Command: "/x/stream_add"}
	assert.Equal(t, "chk_stream_add", w.CheckpointName())
}

func TestDefaultCatalogIsWellFormed(t *testing.T) {
	workloads := catalog.Default()
	require.NotEmpty(t, workloads)

	seen := map[string]bool{}
	for _, w := range workloads {
		assert.NotEmpty(t, w.Name)
		assert.NotEmpty(t, w.Command)
		assert.False(t, seen[w.Name], "duplicate workload %s", w.Name)
		seen[w.Name] = true
	}
}

func TestLoadSortsByName(t *testing.T) {
	path := writeCatalog(t, `
zeta: /bench/zeta
alpha: /bench/alpha --iters 3
mid: /bench/mid
`)

	workloads, err := catalog.Load(path)
	require.NoError(t, err)
	require.Len(t, workloads, 3)
	assert.Equal(t, "alpha", workloads[0].Name)
	assert.Equal(t, "/bench/alpha --iters 3", workloads[0].Command)
	assert.Equal(t, "mid", workloads[1].Name)
	assert.Equal(t, "zeta", workloads[2].Name)
}

func TestLoadRejectsEmptyCommand(t *testing.T) {
	path := writeCatalog(t, `
good: /bench/good
broken: ""
`)

	_, err := catalog.Load(path)
	require.ErrorIs(t, err, catalog.ErrEmptyCommand)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := catalog.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestFilterPreservesCatalogOrder(t *testing.T) {
	workloads := []catalog.Workload{
		{Name: "a", Command: "1"},
		{Name: "b", Command: "2"},
		{Name: "c", Command: "3"},
	}

	// Requested out of order; catalog order wins.
	out, err := catalog.Filter(workloads, []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Name)
	assert.Equal(t, "c", out[1].Name)
}

func TestFilterEmptySelectionKeepsAll(t *testing.T) {
	workloads := catalog.Default()

	out, err := catalog.Filter(workloads, nil)
	require.NoError(t, err)
	assert.Equal(t, workloads, out)
}

func TestFilterUnknownName(t *testing.T) {
	_, err := catalog.Filter(catalog.Default(), []string{"stream_add", "no_such_workload"})
	require.ErrorIs(t, err, catalog.ErrUnknownWorkload)
	assert.Contains(t, err.Error(), "no_such_workload")
}
