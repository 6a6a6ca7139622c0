package event

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPath(t *testing.T) {
	var p Path
	assert.Equal(t, "", p.Key())
	assert.Empty(t, p.Components())

	p.Push("A")
	p.Push("B C")
	assert.Equal(t, 2, p.Depth())
	assert.Equal(t, []string{"A", "B C"}, p.Components())
	comps, err := SplitKey(p.Key())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B C"}, comps)

	comps = p.Components()
	comps[0] = "changed"
	assert.Equal(t, "A", p.Components()[0])

	require.NoError(t, p.Pop())
	require.NoError(t, p.Pop())
	assert.ErrorIs(t, p.Pop(), ErrUnbalancedContainer)

	root, err := SplitKey("")
	require.NoError(t, err)
	assert.Nil(t, root)

	_, err = SplitKey(`"open`)
	assert.Error(t, err)
}

func TestPathKeyDistinct(t *testing.T) {
	key := func(comps ...string) string {
		var p Path
		for _, c := range comps {
			p.Push(c)
		}
		return p.Key()
	}

	paths := [][]string{
		nil,
		{""},
		{"", ""},
		{"A", "B"},
		{"A\x1fB"},
		{"A_B"},
		{`A"B`},
		{"A", `"B"`},
		{"../../escaped"},
	}
	seen := map[string][]string{}
	for _, comps := range paths {
		k := key(comps...)
		if prev, ok := seen[k]; ok {
			t.Fatalf("paths %q and %q share key %q", prev, comps, k)
		}
		seen[k] = comps

		back, err := SplitKey(k)
		require.NoError(t, err)
		if len(comps) == 0 {
			assert.Nil(t, back)
		} else {
			assert.Equal(t, comps, back)
		}
	}
}

func TestCollector(t *testing.T) {
	cause := errors.New("boom")

	t.Run("abort returns the record error", func(t *testing.T) {
		c := Collector{}
		err := c.Handle(&RecordError{Dataset: "roads", Index: 3, Err: cause})

		var rec *RecordError
		require.ErrorAs(t, err, &rec)
		assert.Equal(t, 3, rec.Index)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "dataset roads record 3: boom", err.Error())
		assert.Empty(t, c.Errors())
	})

	t.Run("collect keeps going", func(t *testing.T) {
		c := Collector{Policy: CollectErrors, Logger: zap.NewNop()}
		assert.NoError(t, c.Handle(&RecordError{Index: 0, Err: cause}))
		assert.NoError(t, c.Handle(&RecordError{Index: 1, Err: cause}))
		assert.Len(t, c.Errors(), 2)
	})
}

func TestParseErrorPolicy(t *testing.T) {
	p, err := ParseErrorPolicy("Collect")
	require.NoError(t, err)
	assert.Equal(t, CollectErrors, p)

	p, err = ParseErrorPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AbortOnError, p)

	_, err = ParseErrorPolicy("retry")
	var cfg *ConfigError
	assert.ErrorAs(t, err, &cfg)
}
