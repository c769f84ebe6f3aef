package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lming/mimir"
)

// maxLineSize bounds a single .ndjson line.
const maxLineSize = 16 * 1024 * 1024

// ingestible reports whether a path looks like a document file we accept.
func ingestible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".ndjson":
		return true
	default:
		return false
	}
}

// readDocuments parses a document file. A .json file holds either a single
// object or an array of objects; a .ndjson file holds one object per line.
func readDocuments(path string) ([]mimir.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".ndjson") {
		return readNDJSON(f)
	}
	return readJSON(f)
}

func readJSON(r io.Reader) ([]mimir.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		return mimir.DecodeDocuments(trimmed)
	}

	var doc mimir.Document
	if err := doc.UnmarshalJSON(trimmed); err != nil {
		return nil, err
	}
	return []mimir.Document{doc}, nil
}

func readNDJSON(r io.Reader) ([]mimir.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var docs []mimir.Document
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var doc mimir.Document
		if err := doc.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}
