package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReducer(t *testing.T) {
	got, err := AppendReducer(nil, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)

	got, err = AppendReducer([]string{"a"}, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = AppendReducer([]string{"a"}, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	// Values read back from a checkpoint are []any.
	got, err = AppendReducer([]any{"a"}, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	// Mismatched element types fall back to []any.
	got, err = AppendReducer([]string{"a"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", 1}, got)

	_, err = AppendReducer("not a slice", "b")
	assert.Error(t, err)
}

func TestAppendReducer_DoesNotAlias(t *testing.T) {
	current := make([]string, 1, 10)
	current[0] = "a"

	x, err := AppendReducer(current, "x")
	require.NoError(t, err)
	y, err := AppendReducer(current, "y")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "x"}, x)
	assert.Equal(t, []string{"a", "y"}, y)
	assert.Equal(t, []string{"a"}, current)
}

func TestUnionReducer(t *testing.T) {
	got, err := UnionReducer([]string{"a", "b"}, []string{"b", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = UnionReducer(nil, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestSumReducer(t *testing.T) {
	got, err := SumReducer(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = SumReducer(2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	got, err = SumReducer(float64(2), 3)
	require.NoError(t, err)
	assert.Equal(t, float64(5), got)

	got, err = SumReducer(int64(2), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	// Past 2^53 a float64 round trip would drop the low bit.
	big := int64(1)<<53 + 1
	got, err = SumReducer(big, int64(2))
	require.NoError(t, err)
	assert.Equal(t, big+2, got)

	got, err = SumReducer(uint32(1), big)
	require.NoError(t, err)
	assert.Equal(t, big+1, got)

	_, err = SumReducer("x", 1)
	assert.Error(t, err)
}

func TestOverwriteReducer(t *testing.T) {
	got, err := OverwriteReducer("old", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

// Merging [a, b] then c must equal merging a then [b, c] for every reducer.
func TestReducers_Associative(t *testing.T) {
	reducers := map[string]struct {
		reducer Reducer
		a, b, c any
	}{
		"append":    {AppendReducer, []string{"a"}, []string{"b"}, []string{"c"}},
		"union":     {UnionReducer, []string{"a", "b"}, []string{"b", "c"}, []string{"a", "d"}},
		"sum":       {SumReducer, 1, 2, 3},
		"overwrite": {OverwriteReducer, "a", "b", "c"},
		"messages": {
			AddMessages,
			[]Message{{ID: "1", Role: RoleUser, Content: "hi"}},
			[]Message{{ID: "2", Role: RoleAssistant, Content: "hello"}, {ID: "1", Role: RoleUser, Content: "hi!"}},
			[]Message{RemoveMessage("2"), {ID: "3", Role: RoleUser, Content: "bye"}},
		},
	}

	for name, tc := range reducers {
		t.Run(name, func(t *testing.T) {
			schema := NewMapSchema().RegisterReducer("f", tc.reducer)
			base := State{}

			left, err := schema.Update(base, State{"f": tc.a})
			require.NoError(t, err)
			left, err = schema.Update(left, State{"f": tc.b})
			require.NoError(t, err)
			left, err = schema.Update(left, State{"f": tc.c})
			require.NoError(t, err)

			bc, err := tc.reducer(nil, tc.b)
			require.NoError(t, err)
			bc, err = tc.reducer(bc, tc.c)
			require.NoError(t, err)

			right, err := schema.Update(base, State{"f": tc.a})
			require.NoError(t, err)
			right, err = schema.Update(right, State{"f": bc})
			require.NoError(t, err)

			assert.Equal(t, left["f"], right["f"])
		})
	}
}

func TestMapSchema_Update(t *testing.T) {
	schema := NewMapSchema().RegisterReducer("log", AppendReducer)
	current := State{"log": []string{"a"}, "name": "x"}

	next, err := schema.Update(current, State{"log": "b", "name": "y"})
	require.NoError(t, err)

	assert.Equal(t, State{"log": []string{"a", "b"}, "name": "y"}, next)
	assert.Equal(t, State{"log": []string{"a"}, "name": "x"}, current)

	// A nil schema overwrites every field.
	var none *MapSchema
	next, err = none.Update(nil, State{"log": "b"})
	require.NoError(t, err)
	assert.Equal(t, State{"log": "b"}, next)

	_, err = schema.Update(State{"log": "scalar"}, State{"log": "b"})
	assert.ErrorContains(t, err, "failed to reduce key log")
}

func TestCopyState_Deep(t *testing.T) {
	var s State
	require.NoError(t, json.Unmarshal([]byte(`{"nested":{"list":[1,2]},"tags":["a"]}`), &s))

	c := copyState(s)
	c["nested"].(map[string]any)["list"].([]any)[0] = "changed"
	c["tags"].([]any)[0] = "changed"

	assert.Equal(t, float64(1), s["nested"].(map[string]any)["list"].([]any)[0])
	assert.Equal(t, "a", s["tags"].([]any)[0])
}
