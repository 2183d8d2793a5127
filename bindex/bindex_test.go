package bindex

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func writeFixnum(n int64) []byte {
	switch {
	case n == 0:
		return []byte{0}
	case n > 0 && n < 123:
		return []byte{byte(n + 5)}
	case n < 0 && n > -124:
		return []byte{byte(n - 5)}
	case n > 0:
		return []byte{4, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	default:
		un := uint32(n)
		return []byte{0xFC, byte(un), byte(un >> 8), byte(un >> 16), byte(un >> 24)}
	}
}

func writeString(s string) []byte {
	out := []byte{'"'}
	out = append(out, writeFixnum(int64(len(s)))...)
	out = append(out, s...)
	return out
}

func writeSymbol(s string) []byte {
	out := []byte{':'}
	out = append(out, writeFixnum(int64(len(s)))...)
	out = append(out, s...)
	return out
}

func writeArray(elems ...[]byte) []byte {
	out := []byte{'['}
	out = append(out, writeFixnum(int64(len(elems)))...)
	for _, e := range elems {
		out = append(out, e...)
	}
	return out
}

func writeHash(pairs ...[]byte) []byte {
	// pairs must be an even number of encoded key/value byte slices.
	out := []byte{'{'}
	out = append(out, writeFixnum(int64(len(pairs)/2))...)
	for _, p := range pairs {
		out = append(out, p...)
	}
	return out
}

func writeObject(class string, ivars ...[]byte) []byte {
	out := []byte{'o'}
	out = append(out, writeSymbol(class)...)
	out = append(out, writeFixnum(int64(len(ivars)/2))...)
	for _, iv := range ivars {
		out = append(out, iv...)
	}
	return out
}

func marshalStream(top []byte) []byte {
	return append([]byte{4, 8}, top...)
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeStringVersion(t *testing.T) {
	entry := writeArray(writeString("rack"), writeString("3.0.8"), writeString("ruby"))
	top := writeArray(entry)
	stream := gzipBytes(t, marshalStream(top))

	recs, err := Decode(bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0] != (Record{Name: "rack", Version: "3.0.8", Platform: "ruby"}) {
		t.Errorf("records = %+v", recs)
	}
}

func TestDecodeArrayWrappedVersion(t *testing.T) {
	entry := writeArray(writeString("nokogiri"), writeArray(writeString("1.15.0")), writeString("x86_64-linux"))
	top := writeArray(entry)
	stream := gzipBytes(t, marshalStream(top))

	recs, err := Decode(bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Version != "1.15.0" || recs[0].Platform != "x86_64-linux" {
		t.Errorf("records = %+v", recs)
	}
}

func TestDecodeHashWrappedVersion(t *testing.T) {
	versionHash := writeHash(writeSymbol("version"), writeString("2.1.0"))
	entry := writeArray(writeString("json"), versionHash, writeNilEntry())
	top := writeArray(entry)
	stream := gzipBytes(t, marshalStream(top))

	recs, err := Decode(bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Version != "2.1.0" || recs[0].Platform != "ruby" {
		t.Errorf("records = %+v", recs)
	}
}

func writeNilEntry() []byte { return []byte{'0'} }

func TestDecodeObjectWrappedVersion(t *testing.T) {
	obj := writeObject("Gem::Version", writeSymbol("@version"), writeString("7.0.1"))
	entry := writeArray(writeString("rails"), obj, writeString("ruby"))
	top := writeArray(entry)
	stream := gzipBytes(t, marshalStream(top))

	recs, err := Decode(bytes.NewReader(stream))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Version != "7.0.1" {
		t.Errorf("records = %+v", recs)
	}
}

func TestDecodeInvalidUTF8(t *testing.T) {
	bad := []byte{'"', 8, 0xff, 0xfe, 0xfd} // 8 is the Marshal fixnum for length 3
	entry := writeArray(bad, writeString("1.0"), writeString("ruby"))
	top := writeArray(entry)
	stream := gzipBytes(t, marshalStream(top))

	if _, err := Decode(bytes.NewReader(stream)); err == nil {
		t.Fatal("expected decode error for invalid UTF-8 name")
	}
}

func TestDecodeNotGzip(t *testing.T) {
	if _, err := Decode(bytes.NewReader([]byte("not gzip"))); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := CachePath(dir, "https://rubygems.org/specs.4.8.gz")
	want := []Record{{Name: "rack", Version: "3.0.8", Platform: "ruby"}}

	if err := SaveCache(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := LoadCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("LoadCache = %+v, want %+v", got, want)
	}
}

func TestLoadCacheAbsentIsError(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadCache(CachePath(dir, "https://example.test/x.gz")); err == nil {
		t.Fatal("expected error loading nonexistent cache")
	}
}

func TestFindGem(t *testing.T) {
	recs := []Record{
		{Name: "rack", Version: "3.0.8", Platform: "ruby"},
		{Name: "rack", Version: "3.0.7", Platform: "ruby"},
		{Name: "rails", Version: "7.0.8", Platform: "ruby"},
	}
	found := FindGem(recs, "rack")
	if len(found) != 2 {
		t.Errorf("FindGem = %+v", found)
	}
}
