package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facetd/facetd/internal/source"
	"github.com/facetd/facetd/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "facetd version dev")
}

func TestSplitThenRun(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "all.sqlite")

	var items []types.Contribution
	for doc := int64(0); doc < 40; doc++ {
		key, value := "odd", int64(100)
		if doc%2 == 0 {
			key, value = "even", 1
		}
		items = append(items, types.Contribution{DocID: doc, Path: types.Path{types.K(key)}, Value: types.Int(value), Weight: 1})
	}
	require.NoError(t, source.WriteSQLite(context.Background(), input, items))

	dataDir := filepath.Join(dir, "data")
	out, err := execute(t, "split", "--env-file", filepath.Join(dir, "none.env"), "--data-dir", dataDir,
		"--input", input, "--partitions", "3", "--out", filepath.Join(dir, "parts"), "--upload-prefix", "segments")
	require.NoError(t, err)
	objects := strings.Fields(out)
	require.Len(t, objects, 3)
	assert.Equal(t, "segments/p000.sqlite", objects[0])

	cfgPath := filepath.Join(dir, "facetd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
facet:
  kind: integer
  levels:
    - collector: list
      stats: n,sum
      sort_type: sum
      sort_direction: desc
      number: 1
`), 0644))

	args := []string{"run", "--config", cfgPath, "--env-file", filepath.Join(dir, "none.env"),
		"--data-dir", dataDir, "--log-level", "error"}
	for _, o := range objects {
		args = append(args, "--partition", o)
	}
	out, err = execute(t, args...)
	require.NoError(t, err)

	var report struct {
		Round  string `json:"round"`
		Result struct {
			Items []struct {
				Key   *string            `json:"key"`
				Stats map[string]float64 `json:"stats"`
			} `json:"items"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Result.Items, 1)
	assert.Equal(t, "odd", *report.Result.Items[0].Key)
	assert.Equal(t, 2000.0, report.Result.Items[0].Stats["sum"])
	assert.Equal(t, 20.0, report.Result.Items[0].Stats["n"])
}

func TestSplitRequiresInput(t *testing.T) {
	_, err := execute(t, "split", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}
