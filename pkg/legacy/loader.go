// Package legacy reads dumps of the legacy file-based store and decodes the
// encodings it used for values and file names.
package legacy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
)

// maxLineBytes bounds a single NDJSON line. Page collections of large books
// are stored as one document per line and can run to several megabytes.
const maxLineBytes = 64 << 20

// RawRecord is one path-tagged document of the legacy store.
type RawRecord struct {
	Path   string
	Data   any
	Source string
	Seq    int
}

// LoadFile reads a dump from disk. A missing file is not an error: it yields
// no documents and a warning.
func LoadFile(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("legacy dump not found", "path", path)
			return nil, nil
		}
		return nil, fmt.Errorf("open dump %s: %w", path, err)
	}
	defer f.Close()
	docs, err := LoadReader(f)
	if err != nil {
		return nil, fmt.Errorf("read dump %s: %w", path, err)
	}
	return docs, nil
}

// LoadReader decodes either one JSON array or newline-delimited JSON.
// In NDJSON mode malformed lines are dropped; only read errors are returned.
func LoadReader(r io.Reader) ([]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var docs []any
		if err := decodeJSON(trimmed, &docs); err == nil {
			return docs, nil
		}
		// a broken array still gets the line-by-line pass below
	}
	return decodeLines(data)
}

func decodeLines(data []byte) ([]any, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var (
		docs    []any
		skipped int
	)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc any
		if err := decodeJSON(line, &doc); err != nil {
			skipped++
			continue
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		slog.Debug("skipped malformed dump lines", "count", skipped)
	}
	return docs, nil
}

func decodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// Records keeps the documents that carry a string path and tags them with the
// source name. Seq numbers continue from start so several sources share one
// scan order.
func Records(source string, start int, docs []any) []RawRecord {
	out := make([]RawRecord, 0, len(docs))
	seq := start
	for _, doc := range docs {
		m, ok := doc.(map[string]any)
		if !ok {
			continue
		}
		path, ok := String(m["path"])
		if !ok || path == "" {
			continue
		}
		out = append(out, RawRecord{Path: path, Data: m["data"], Source: source, Seq: seq})
		seq++
	}
	return out
}
