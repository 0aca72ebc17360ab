package source

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facetd/facetd/pkg/types"
)

func sampleContributions() []types.Contribution {
	return []types.Contribution{
		{DocID: 1, Path: types.Path{types.K("books"), types.K("sf")}, Value: types.Int(12), Weight: 1},
		{DocID: 2, Path: types.Path{types.K("books")}, Value: types.Float(2.5), Weight: 3},
		{DocID: 3, Path: types.Path{types.NoKey}, Value: types.Int(-4), Weight: 0},
		{DocID: 4, Path: types.Path{types.K("music")}, Fault: "bad price"},
	}
}

func TestSliceSource_Each(t *testing.T) {
	items := sampleContributions()
	src := NewSliceSource("p0", items)
	assert.Equal(t, "p0", src.Name())
	assert.Equal(t, 4, src.Len())

	got, err := Collect(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, items, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Collect(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteSource_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "p0.sqlite")
	items := sampleContributions()
	require.NoError(t, WriteSQLite(ctx, path, items))

	src := NewSQLiteSource("p0", path)
	got, err := Collect(ctx, src)
	require.NoError(t, err)
	require.Len(t, got, len(items))

	for i := range items[:3] {
		assert.Equal(t, items[i].DocID, got[i].DocID)
		assert.Equal(t, items[i].Path, got[i].Path)
		assert.Equal(t, items[i].Value, got[i].Value)
		assert.Equal(t, items[i].Weight, got[i].Weight)
		assert.Empty(t, got[i].Fault)
	}
	assert.Equal(t, "bad price", got[3].Fault)
	assert.Equal(t, items[3].Path, got[3].Path)

	// writing again replaces the file
	require.NoError(t, WriteSQLite(ctx, path, items[:1]))
	got, err = Collect(ctx, src)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteSource_MalformedRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bad.sqlite")
	require.NoError(t, WriteSQLite(ctx, path, nil))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	rows := []struct {
		path   string
		kind   string
		value  interface{}
		weight interface{}
	}{
		{`["a"]`, "integer", "17", 1},
		{`["a"]`, "floating", 7, 2},
		{`not json`, "integer", 1, 1},
		{`["a"]`, "complex", 1, 1},
		{`["a"]`, "integer", 2.5, 1},
		{`["a"]`, "integer", nil, 1},
		{`["a"]`, "integer", 1, -1},
		{`["a"]`, "floating", "abc", 1},
	}
	for i, r := range rows {
		_, err := db.Exec(`INSERT INTO contributions (doc_id, path, kind, value, weight) VALUES (?, ?, ?, ?, ?)`,
			i, r.path, r.kind, r.value, r.weight)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	got, err := Collect(ctx, NewSQLiteSource("bad", path))
	require.NoError(t, err)
	require.Len(t, got, len(rows))

	assert.Empty(t, got[0].Fault)
	assert.Equal(t, types.Int(17), got[0].Value)
	assert.Empty(t, got[1].Fault)
	assert.Equal(t, types.Float(7), got[1].Value)
	assert.Equal(t, int64(2), got[1].Weight)
	for i := 2; i < len(rows); i++ {
		assert.NotEmpty(t, got[i].Fault, "row %d", i)
	}
	assert.Nil(t, got[2].Path)
}

func TestSQLiteSource_MissingFile(t *testing.T) {
	src := NewSQLiteSource("gone", filepath.Join(t.TempDir(), "missing.sqlite"))
	err := src.Each(context.Background(), func(types.Contribution) error { return nil })
	assert.Error(t, err)
}

func TestHashRouter_Split(t *testing.T) {
	_, err := NewHashRouter(0)
	require.Error(t, err)

	r, err := NewHashRouter(4)
	require.NoError(t, err)

	var items []types.Contribution
	for doc := int64(0); doc < 200; doc++ {
		for j := 0; j < 3; j++ {
			items = append(items, types.Contribution{
				DocID:  doc,
				Path:   types.Path{types.K("k")},
				Value:  types.Int(int64(j)),
				Weight: 1,
			})
		}
	}

	groups, err := r.Split(context.Background(), NewSliceSource("all", items))
	require.NoError(t, err)
	require.Len(t, groups, 4)

	total := 0
	seen := make(map[int64]int)
	for i, g := range groups {
		assert.NotEmpty(t, g, "partition %d", i)
		total += len(g)
		for _, c := range g {
			if p, ok := seen[c.DocID]; ok {
				assert.Equal(t, p, i, "doc %d split across partitions", c.DocID)
			}
			seen[c.DocID] = i
			assert.Equal(t, i, r.Route(c.DocID))
		}
	}
	assert.Equal(t, len(items), total)
	assert.Equal(t, "p007", PartitionName(7))
}
