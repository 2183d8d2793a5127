// Package archive reads the on-disk gem package format: an outer plain
// tar holding at minimum a gzipped payload tarball ("data.tar.gz") and a
// gzipped metadata document ("metadata.gz"), plus optional detached
// signature entries.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/vgem/vgem/internal/vgerr"
)

const (
	dataEntry       = "data.tar.gz"
	metadataEntry   = "metadata.gz"
	metadataXZEntry = "metadata.xz"
)

// Entry is one member of the outer tar, named but not yet read.
type Entry struct {
	Name   string
	Header *tar.Header
	r      io.Reader
}

// Open reads the entry's content. It is only valid while the [Reader] it
// came from has not advanced past it.
func (e Entry) Open() io.Reader { return e.r }

// Reader lazily walks the outer tar's entries. Nothing is decompressed or
// copied until the caller reads a specific entry.
type Reader struct {
	gem  string
	tr   *tar.Reader
	cur  Entry
	done bool
	err  error
}

// NewReader wraps r, which must be positioned at the start of a gem
// package's outer tar stream.
func NewReader(gem string, r io.Reader) *Reader {
	return &Reader{gem: gem, tr: tar.NewReader(r)}
}

// Next advances to the next entry, returning false at end of archive or
// on error (use [Reader.Err] to distinguish the two).
func (r *Reader) Next() bool {
	if r.done {
		return false
	}
	h, err := r.tr.Next()
	if err == io.EOF {
		r.done = true
		return false
	}
	if err != nil {
		r.done = true
		r.err = err
		return false
	}
	r.cur = Entry{Name: h.Name, Header: h, r: r.tr}
	return true
}

// Entry returns the entry Next last positioned the reader at.
func (r *Reader) Entry() Entry { return r.cur }

// Err returns the error that stopped iteration, or nil at a clean EOF.
func (r *Reader) Err() error { return r.err }

func extractErr(gem, reason string, inner error) error {
	return vgerr.New(vgerr.KindArchive, "archive.extract", fmt.Sprintf("%s: %s", gem, reason), inner)
}

// ExtractPayload locates data.tar.gz in the outer tar read from r, and
// unpacks its contents into destDir. It refuses to write any entry whose
// resolved path would escape destDir, never follows symlinks while
// extracting, preserves file modes, and masks setuid/setgid bits.
func ExtractPayload(gem string, r io.Reader, destDir string) error {
	outer := NewReader(gem, r)
	for outer.Next() {
		if outer.Entry().Name != dataEntry {
			continue
		}
		gz, err := gzip.NewReader(outer.Entry().Open())
		if err != nil {
			return extractErr(gem, "data.tar.gz is not valid gzip", err)
		}
		defer gz.Close()
		if err := untar(gem, gz, destDir); err != nil {
			return err
		}
		return nil
	}
	if err := outer.Err(); err != nil {
		return extractErr(gem, "malformed outer archive", err)
	}
	return extractErr(gem, "data.tar.gz not found in gem archive", nil)
}

// untar unpacks a tar stream into destDir, applying the traversal guard
// and mode masking ExtractPayload promises.
func untar(gem string, r io.Reader, destDir string) error {
	destDir = filepath.Clean(destDir)
	tr := tar.NewReader(r)
	made := map[string]struct{}{destDir: {}}
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return extractErr(gem, "malformed payload tar", err)
		}
		target, err := safeJoin(destDir, h.Name)
		if err != nil {
			return extractErr(gem, fmt.Sprintf("entry %q escapes destination", h.Name), err)
		}
		dir := filepath.Dir(target)
		if _, ok := made[dir]; !ok {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return extractErr(gem, "creating directory", err)
			}
			made[dir] = struct{}{}
		}
		mode := maskSetIDBits(h.FileInfo().Mode())
		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode.Perm()|0o700); err != nil {
				return extractErr(gem, "creating directory", err)
			}
			made[target] = struct{}{}
		case tar.TypeReg, tar.TypeRegA:
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
			if err != nil {
				return extractErr(gem, "creating file", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return extractErr(gem, "writing file", err)
			}
			if err := f.Close(); err != nil {
				return extractErr(gem, "closing file", err)
			}
		default:
			// Symlinks and anything else are not followed or recreated; the
			// package format has no legitimate use for them in a payload.
		}
	}
}

// safeJoin joins dir and name, refusing any result that resolves outside
// dir once cleaned. This is the path-traversal guard.
func safeJoin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute entry path %q", name)
	}
	joined := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, joined)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %q", name, dir)
	}
	return joined, nil
}

// maskSetIDBits strips setuid and setgid from a mode extracted from an
// archive; nothing a gem install writes should carry them.
func maskSetIDBits(m os.FileMode) os.FileMode {
	return m &^ (os.ModeSetuid | os.ModeSetgid)
}

// ExtractMetadata locates the metadata entry in the outer tar read from r
// and returns its decompressed contents. Gzip (metadata.gz) is the
// standard form; xz (metadata.xz) is accepted as an alternate compression
// some third-party indexers emit for smaller mirrored archives.
func ExtractMetadata(gem string, r io.Reader) ([]byte, error) {
	outer := NewReader(gem, r)
	for outer.Next() {
		switch outer.Entry().Name {
		case metadataEntry:
			gz, err := gzip.NewReader(outer.Entry().Open())
			if err != nil {
				return nil, extractErr(gem, "metadata.gz is not valid gzip", err)
			}
			defer gz.Close()
			b, err := io.ReadAll(gz)
			if err != nil {
				return nil, extractErr(gem, "reading metadata.gz", err)
			}
			return b, nil
		case metadataXZEntry:
			xr, err := xz.NewReader(outer.Entry().Open())
			if err != nil {
				return nil, extractErr(gem, "metadata.xz is not valid xz", err)
			}
			b, err := io.ReadAll(xr)
			if err != nil {
				return nil, extractErr(gem, "reading metadata.xz", err)
			}
			return b, nil
		}
	}
	if err := outer.Err(); err != nil {
		return nil, extractErr(gem, "malformed outer archive", err)
	}
	return nil, extractErr(gem, "metadata.gz not found in gem archive", nil)
}

// ExtractRaw returns the uninterpreted bytes of the outer tar entry named
// name, with no decompression applied. Used to pull data.tar.gz and its
// detached .sig entry for signature verification, since a gem's signature
// is computed over the compressed payload bytes, not its contents.
func ExtractRaw(gem string, r io.Reader, name string) ([]byte, error) {
	outer := NewReader(gem, r)
	for outer.Next() {
		if outer.Entry().Name != name {
			continue
		}
		b, err := io.ReadAll(outer.Entry().Open())
		if err != nil {
			return nil, extractErr(gem, fmt.Sprintf("reading %s", name), err)
		}
		return b, nil
	}
	if err := outer.Err(); err != nil {
		return nil, extractErr(gem, "malformed outer archive", err)
	}
	return nil, extractErr(gem, fmt.Sprintf("%s not found in gem archive", name), nil)
}

// HasSignatureFiles reports whether the outer tar read from r contains
// any entry whose name ends in ".sig", case-insensitively.
func HasSignatureFiles(gem string, r io.Reader) (bool, error) {
	outer := NewReader(gem, r)
	for outer.Next() {
		if strings.HasSuffix(strings.ToLower(outer.Entry().Name), ".sig") {
			return true, nil
		}
	}
	if err := outer.Err(); err != nil {
		return false, extractErr(gem, "malformed outer archive", err)
	}
	return false, nil
}
