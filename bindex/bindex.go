// Package bindex decodes the legacy bulk index: a gzip-compressed Ruby
// Marshal 4.8 stream of [name, version, platform] triples, historically
// served as specs.4.8.gz and friends. It backs offline listing/search and
// a full-index resolver fallback for when the per-package endpoint is
// unavailable.
package bindex

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Record is one flattened index entry.
type Record struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// DecodeError locates a decode failure within the marshal byte stream.
type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bindex: offset %d: %s", e.Offset, e.Reason)
}

// Decode reads a gzip-compressed Marshal 4.8 stream from r and returns
// its flattened records. Any leaf that is not valid UTF-8 fails the whole
// decode with a [DecodeError].
func Decode(r io.Reader) ([]Record, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("not valid gzip: %v", err)}
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("reading decompressed stream: %v", err)}
	}
	return decodeEntries(data)
}

// CachePath returns the JSON side-file path for a bulk index downloaded
// from sourceURL, rooted at cacheDir.
func CachePath(cacheDir, sourceURL string) string {
	return filepath.Join(cacheDir, fileNameFor(sourceURL)+".bindex.json")
}

// fileNameFor derives a filesystem-safe cache key from a source URL.
func fileNameFor(sourceURL string) string {
	b := make([]byte, 0, len(sourceURL))
	for _, r := range sourceURL {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b = append(b, byte(r))
		default:
			b = append(b, '_')
		}
	}
	return string(b)
}

// LoadCache reads a previously saved decode from its JSON side-file.
// Cache invalidation is by absence only: callers that want a fresh decode
// simply remove the file first.
func LoadCache(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("bindex: corrupt cache %s: %w", path, err)
	}
	return records, nil
}

// SaveCache persists a decoded index to its JSON side-file.
func SaveCache(path string, records []Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// FindGem returns every record in records whose Name equals name.
func FindGem(records []Record, name string) []Record {
	var out []Record
	for _, r := range records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}
