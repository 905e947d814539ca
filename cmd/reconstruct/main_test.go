package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docextract-worker/internal/processor"
)

const response = `{"Blocks": [
	{"Id": "t1", "BlockType": "TABLE", "Relationships": [{"Type": "CHILD", "Ids": ["c1", "c2"]}]},
	{"Id": "c1", "BlockType": "CELL", "RowIndex": 1, "ColumnIndex": 1, "Relationships": [{"Type": "CHILD", "Ids": ["w1"]}]},
	{"Id": "c2", "BlockType": "CELL", "RowIndex": 1, "ColumnIndex": 2, "Relationships": [{"Type": "CHILD", "Ids": ["w2"]}]},
	{"Id": "w1", "BlockType": "WORD", "Text": "Qty"},
	{"Id": "w2", "BlockType": "WORD", "Text": "Price"}
]}`

func TestRunFromStdin(t *testing.T) {
	var out bytes.Buffer

	require.NoError(t, run("", true, strings.NewReader(response), &out))

	assert.JSONEq(t, `{
		"fields": {},
		"tables": [{"rows": 1, "columns": 2, "data": [["Qty", "Price"]]}],
		"raw_text": "",
		"block_count": 5
	}`, out.String())
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestRunFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "response.json")
	require.NoError(t, os.WriteFile(path, []byte(response), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(path, false, strings.NewReader(""), &out))

	assert.Contains(t, out.String(), "\n  \"tables\"")
}

func TestRunMalformedInput(t *testing.T) {
	var out bytes.Buffer

	err := run("", false, strings.NewReader(`{"Blocks": 2}`), &out)
	require.ErrorIs(t, err, processor.ErrMalformedInput)
	assert.Empty(t, out.String())
}

func TestRunMissingFile(t *testing.T) {
	err := run(filepath.Join(t.TempDir(), "missing.json"), false, strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, err)
}
