package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQdrantFilter_Empty(t *testing.T) {
	assert.Nil(t, buildQdrantFilter(nil))
	assert.Nil(t, buildQdrantFilter(Filter{}))
}

func TestBuildQdrantFilter_StringCondition(t *testing.T) {
	f := buildQdrantFilter(ProjectFilter("acme"))
	require.NotNil(t, f)
	require.Len(t, f.Must, 1)

	field := f.Must[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, "project_name", field.Key)
	assert.Equal(t, "acme", field.Match.GetKeyword())
}

func TestBuildQdrantFilter_MultipleConditionsAreAnded(t *testing.T) {
	f := buildQdrantFilter(Filter{"project_name": "acme", "category": "code"})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 2)
}

func TestBuildQdrantFilter_IntAndBoolAndKeywords(t *testing.T) {
	f := buildQdrantFilter(Filter{
		"start_line": int64(42),
		"archived":   true,
		"id":         []string{"a", "b"},
	})
	require.NotNil(t, f)
	require.Len(t, f.Must, 3)

	var sawInt, sawBool, sawKeywords bool
	for _, c := range f.Must {
		field := c.GetField()
		switch m := field.Match.MatchValue.(type) {
		case *qdrant.Match_Integer:
			assert.Equal(t, int64(42), m.Integer)
			sawInt = true
		case *qdrant.Match_Boolean:
			assert.True(t, m.Boolean)
			sawBool = true
		case *qdrant.Match_Keywords:
			assert.Equal(t, []string{"a", "b"}, m.Keywords.Strings)
			sawKeywords = true
		}
	}
	assert.True(t, sawInt && sawBool && sawKeywords)
}

func TestFieldCondition_UnsupportedTypeIsSkipped(t *testing.T) {
	assert.Nil(t, fieldCondition("weird", struct{}{}))
}
