package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumberKind(t *testing.T) {
	for _, name := range []string{"long", "integer", "INT"} {
		k, err := ParseNumberKind(name)
		require.NoError(t, err)
		assert.Equal(t, KindInteger, k)
	}
	for _, name := range []string{"double", "floating", "Float"} {
		k, err := ParseNumberKind(name)
		require.NoError(t, err)
		assert.Equal(t, KindFloating, k)
	}
	_, err := ParseNumberKind("decimal")
	assert.Error(t, err)
}

func TestNumber_JSONKeepsKind(t *testing.T) {
	var n Number
	require.NoError(t, json.Unmarshal([]byte("42"), &n))
	assert.Equal(t, Int(42), n)

	require.NoError(t, json.Unmarshal([]byte("4.5"), &n))
	assert.Equal(t, Float(4.5), n)

	b, err := json.Marshal(Float(3))
	require.NoError(t, err)
	assert.Equal(t, "3.0", string(b))

	require.NoError(t, json.Unmarshal(b, &n))
	assert.Equal(t, KindFloating, n.Kind)

	_, err = json.Marshal(Float(math.NaN()))
	assert.Error(t, err)
}

func TestNumber_IsFinite(t *testing.T) {
	assert.True(t, Int(1).IsFinite())
	assert.True(t, Float(1.5).IsFinite())
	assert.False(t, Float(math.Inf(1)).IsFinite())
	assert.False(t, Float(math.NaN()).IsFinite())
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath(`["a", null, "c"]`)
	require.NoError(t, err)
	require.Len(t, p, 3)
	assert.Equal(t, K("a"), p[0])
	assert.Equal(t, NoKey, p[1])
	assert.Equal(t, K("c"), p[2])
	assert.Equal(t, `["a",null,"c"]`, p.String())
	assert.Equal(t, "[]", Path(nil).String())

	_, err = ParsePath(`{"a":1}`)
	assert.Error(t, err)
}

func TestContribution_JSON(t *testing.T) {
	c := Contribution{DocID: 7, Path: Path{K("x")}, Value: Int(3), Weight: 2}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"doc_id":7,"path":["x"],"value":3,"weight":2}`, string(b))
}
