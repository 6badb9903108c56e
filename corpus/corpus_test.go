package corpus

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		isLeaf  bool
	}{
		{
			name:   "leaf group",
			input:  `{"description": "integers", "schema": {"type": "integer"}, "tests": [{"description": "one", "instance": 1, "valid": true}]}`,
			isLeaf: true,
		},
		{
			name:  "branch group",
			input: `{"description": "drafts", "children": [{"description": "integers", "schema": {"type": "integer"}, "tests": [{"description": "one", "instance": 1}]}]}`,
		},
		{
			name:    "schema and children",
			input:   `{"description": "bad", "schema": {}, "children": [{"description": "x", "schema": {}, "tests": [{"description": "t", "instance": 1}]}]}`,
			wantErr: "both a schema and child groups",
		},
		{
			name:    "neither schema nor children",
			input:   `{"description": "empty"}`,
			wantErr: "neither a schema nor child groups",
		},
		{
			name:    "empty children",
			input:   `{"description": "hollow", "children": []}`,
			wantErr: "neither a schema nor child groups",
		},
		{
			name:    "schema without tests",
			input:   `{"description": "untested", "schema": {"type": "integer"}}`,
			wantErr: "a schema but no tests",
		},
		{
			name:    "tests and children",
			input:   `{"description": "mixed", "tests": [{"description": "t", "instance": 1}], "children": [{"description": "x", "schema": {}, "tests": [{"description": "t", "instance": 1}]}]}`,
			wantErr: "both tests and child groups",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Group
			err := json.Unmarshal([]byte(tt.input), &g)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.isLeaf, g.IsLeaf())
		})
	}
}

func TestGroupCasesFlattensInDocumentOrder(t *testing.T) {
	input := `{
		"description": "root",
		"children": [
			{"description": "first", "schema": {"type": "string"}, "tests": [{"description": "a", "instance": "a", "valid": true}]},
			{"description": "nested", "children": [
				{"description": "second", "schema": {"type": "number"}, "tests": [{"description": "b", "instance": 2, "valid": true}]}
			]},
			{"description": "third", "schema": {}, "tests": [{"description": "c", "instance": null, "valid": true}]}
		]
	}`

	var g Group
	require.NoError(t, json.Unmarshal([]byte(input), &g))
	require.False(t, g.IsLeaf())

	cases := g.Cases()
	require.Len(t, cases, 3)
	assert.Equal(t, "first", cases[0].Description)
	assert.Equal(t, "second", cases[1].Description)
	assert.Equal(t, "third", cases[2].Description)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cases.jsonl")
	content := `{"description": "one", "schema": {"type": "integer"}, "tests": [{"description": "int", "instance": 7, "valid": true}]}

{"description": "grouped", "children": [{"description": "two", "schema": {"type": "string"}, "tests": [{"description": "str", "instance": "x", "valid": true}]}]}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cases, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "one", cases[0].Description)
	assert.Equal(t, "two", cases[1].Description)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.jsonl"))
		require.Error(t, err)
	})

	t.Run("invalid group", func(t *testing.T) {
		path := filepath.Join(dir, "bad.jsonl")
		require.NoError(t, os.WriteFile(path, []byte(`{"description": "empty"}`+"\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("empty corpus", func(t *testing.T) {
		path := filepath.Join(dir, "empty.jsonl")
		require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no cases")
	})
}

func TestDigestIgnoresKeyOrder(t *testing.T) {
	a := TestCase{
		Description: "ordering",
		Schema:      json.RawMessage(`{"type": "object", "required": ["a"]}`),
		Tests:       []Test{{Description: "t", Instance: json.RawMessage(`{"a": 1, "b": 2}`)}},
	}
	b := TestCase{
		Description: "ordering",
		Schema:      json.RawMessage(`{"required": ["a"], "type": "object"}`),
		Tests:       []Test{{Description: "t", Instance: json.RawMessage(`{"b": 2, "a": 1}`)}},
	}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	c := a
	c.Schema = json.RawMessage(`{"type": "string"}`)
	dc, err := Digest(c)
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}
