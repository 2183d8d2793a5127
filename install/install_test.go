package install

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/vgem/vgem"
	"github.com/vgem/vgem/download"
	"github.com/vgem/vgem/lockfile"
	"github.com/vgem/vgem/signature"
	"github.com/vgem/vgem/store"
	"github.com/vgem/vgem/version"
)

// buildPureGem assembles a minimal outer tar (data.tar.gz + metadata.gz)
// for a pure-Ruby gem, with no ext/ directory, so the build phase is a
// guaranteed no-op.
func buildPureGem(t *testing.T) []byte {
	t.Helper()

	var dataBuf bytes.Buffer
	gz := gzip.NewWriter(&dataBuf)
	tw := tar.NewWriter(gz)
	body := []byte("puts 'hi'\n")
	if err := tw.WriteHeader(&tar.Header{Name: "lib/widget.rb", Mode: 0o644, Size: int64(len(body))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(body); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	var metaBuf bytes.Buffer
	mgz := gzip.NewWriter(&metaBuf)
	if _, err := mgz.Write([]byte("--- !ruby/object:Gem::Specification\nname: widget\n")); err != nil {
		t.Fatal(err)
	}
	if err := mgz.Close(); err != nil {
		t.Fatal(err)
	}

	var outer bytes.Buffer
	ow := tar.NewWriter(&outer)
	write := func(name string, b []byte) {
		if err := ow.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(b))}); err != nil {
			t.Fatal(err)
		}
		if _, err := ow.Write(b); err != nil {
			t.Fatal(err)
		}
	}
	write("data.tar.gz", dataBuf.Bytes())
	write("metadata.gz", metaBuf.Bytes())
	if err := ow.Close(); err != nil {
		t.Fatal(err)
	}
	return outer.Bytes()
}

func TestPipelineEndToEndPureGem(t *testing.T) {
	gemBytes := buildPureGem(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(gemBytes)
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	dl, err := download.New(cacheDir, []string{srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	vendor := t.TempDir()
	layout := store.New(vendor, "3.2.0")

	lf := &lockfile.Lockfile{
		Gems: []lockfile.GemSpec{
			{Name: "widget", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")},
		},
	}

	verifier, err := signature.NewVerifier(signature.None, "")
	if err != nil {
		t.Fatal(err)
	}

	p := New(lf, layout, dl, verifier, Options{RuntimeExe: "ruby"})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	release := vgem.Release{Name: "widget", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")}
	if _, err := os.Stat(filepath.Join(layout.GemDir(release), "lib", "widget.rb")); err != nil {
		t.Fatalf("expected extracted file: %v", err)
	}
	if _, err := os.Stat(layout.SpecPath(release)); err != nil {
		t.Fatalf("expected spec file: %v", err)
	}
}

// TestPipelineEmitsStandaloneBundle covers spec.md §4.J phase 9 / §4.K:
// with Standalone set, a finished install also produces a
// bundle/bundler/setup.rb plus copies of the installed gem under
// bundle/<engine>/<R>/gems/.
func TestPipelineEmitsStandaloneBundle(t *testing.T) {
	gemBytes := buildPureGem(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(gemBytes)
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	dl, err := download.New(cacheDir, []string{srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	vendor := t.TempDir()
	layout := store.New(vendor, "3.2.0")

	lf := &lockfile.Lockfile{
		Gems: []lockfile.GemSpec{
			{Name: "widget", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")},
		},
	}

	verifier, err := signature.NewVerifier(signature.None, "")
	if err != nil {
		t.Fatal(err)
	}

	p := New(lf, layout, dl, verifier, Options{RuntimeExe: "ruby", Standalone: true})
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	setupPath := filepath.Join(vendor, "bundle", "bundler", "setup.rb")
	if _, err := os.Stat(setupPath); err != nil {
		t.Fatalf("expected %s: %v", setupPath, err)
	}

	release := vgem.Release{Name: "widget", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")}
	bundleLayout := store.New(filepath.Join(vendor, "bundle"), "3.2.0")
	if _, err := os.Stat(filepath.Join(bundleLayout.GemDir(release), "lib", "widget.rb")); err != nil {
		t.Fatalf("expected bundled gem file: %v", err)
	}
}

func TestPipelineSkipsAlreadyInstalled(t *testing.T) {
	vendor := t.TempDir()
	layout := store.New(vendor, "3.2.0")
	release := vgem.Release{Name: "widget", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")}
	if err := os.MkdirAll(layout.GemDir(release), 0o755); err != nil {
		t.Fatal(err)
	}

	lf := &lockfile.Lockfile{
		Gems: []lockfile.GemSpec{
			{Name: "widget", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")},
		},
	}

	dl, err := download.New(t.TempDir(), []string{"http://example.invalid"})
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := signature.NewVerifier(signature.None, "")
	if err != nil {
		t.Fatal(err)
	}

	p := New(lf, layout, dl, verifier, Options{RuntimeExe: "ruby"})
	units := p.filter()
	units = p.skip(units)
	if len(units) != 0 {
		t.Fatalf("expected already-installed gem to be skipped, got %d units", len(units))
	}
}

func TestPipelineFilterDropsMismatchedPlatform(t *testing.T) {
	vendor := t.TempDir()
	layout := store.New(vendor, "3.2.0")

	lf := &lockfile.Lockfile{
		Gems: []lockfile.GemSpec{
			{Name: "universal", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")},
			{Name: "other-os", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("sparc-solaris")},
		},
	}
	dl, err := download.New(t.TempDir(), []string{"http://example.invalid"})
	if err != nil {
		t.Fatal(err)
	}
	verifier, _ := signature.NewVerifier(signature.None, "")

	p := New(lf, layout, dl, verifier, Options{RuntimeExe: "ruby"})
	units := p.filter()
	if len(units) != 1 || units[0].release.Name != "universal" {
		t.Fatalf("expected only the universal gem to survive filtering, got %+v", units)
	}
}

func TestLocalPrecheckReportsMissing(t *testing.T) {
	vendor := t.TempDir()
	layout := store.New(vendor, "3.2.0")
	lf := &lockfile.Lockfile{
		Gems: []lockfile.GemSpec{
			{Name: "widget", Version: version.MustParse("1.0.0"), Platform: vgem.ParsePlatform("")},
		},
	}
	dl, err := download.New(t.TempDir(), []string{"http://example.invalid"})
	if err != nil {
		t.Fatal(err)
	}
	verifier, _ := signature.NewVerifier(signature.None, "")

	p := New(lf, layout, dl, verifier, Options{RuntimeExe: "ruby", LocalOnly: true})
	units := p.filter()
	if err := p.localPrecheck(units); err == nil {
		t.Fatal("expected local precheck failure for uncached gem")
	}
}
