package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestible(t *testing.T) {
	assert.True(t, ingestible("/drop/movies.json"))
	assert.True(t, ingestible("/drop/movies.NDJSON"))
	assert.False(t, ingestible("/drop/movies.csv"))
	assert.False(t, ingestible("/drop/.mimir.lock"))
	assert.False(t, ingestible("/drop/readme"))
}

func TestReadDocumentsJSONArray(t *testing.T) {
	path := writeFile(t, "batch.json", `[{"id":1,"title":"a"},{"id":2,"title":"b"}]`)

	docs, err := readDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	v, ok := docs[0].Get("title")
	require.True(t, ok)
	title, _ := v.StringVal()
	assert.Equal(t, "a", title)
}

func TestReadDocumentsSingleObject(t *testing.T) {
	path := writeFile(t, "one.json", `{"id":1,"title":"solo"}`)

	docs, err := readDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestReadDocumentsEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.json", "  \n")

	docs, err := readDocuments(path)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReadDocumentsNDJSON(t *testing.T) {
	path := writeFile(t, "lines.ndjson", `{"id":1,"title":"a"}

{"id":2,"title":"b"}
`)

	docs, err := readDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 2, "blank lines are skipped")
}

func TestReadDocumentsNDJSONReportsBadLine(t *testing.T) {
	path := writeFile(t, "broken.ndjson", `{"id":1}
not json
`)

	_, err := readDocuments(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadDocumentsRejectsNonObjectJSON(t *testing.T) {
	path := writeFile(t, "scalar.json", `"just a string"`)

	_, err := readDocuments(path)
	require.Error(t, err)
}

func TestReadDocumentsMissingFile(t *testing.T) {
	_, err := readDocuments(filepath.Join(t.TempDir(), "gone.json"))
	require.Error(t, err)
}
