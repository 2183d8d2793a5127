package requirement

import (
	"testing"

	"github.com/vgem/vgem/version"
)

func v(s string) version.Version { return version.MustParse(s) }

func TestContainsOperators(t *testing.T) {
	tests := []struct {
		req  string
		ver  string
		want bool
	}{
		{">= 1.0", "1.0", true},
		{">= 1.0", "0.9", false},
		{"> 1.0", "1.0", false},
		{"> 1.0", "1.0.1", true},
		{"< 2.0", "1.9.9", true},
		{"< 2.0", "2.0", false},
		{"<= 2.0", "2.0", true},
		{"= 1.2.3", "1.2.3", true},
		{"= 1.2.3", "1.2.4", false},
		{"!= 1.2.3", "1.2.3", false},
		{"!= 1.2.3", "1.2.4", true},
		{"", "999.999.999", true}, // empty requirement accepts every version
		{"~> 1.2", "1.9.9", true},
		{"~> 1.2", "2.0.0", false},
		{"~> 1.2.3", "1.2.9", true},
		{"~> 1.2.3", "1.3.0", false},
		{"1.0.0-alpha", "1.0.0-alpha", true}, // bare version implies "="
	}
	for _, tc := range tests {
		t.Run(tc.req+"_"+tc.ver, func(t *testing.T) {
			r, err := Parse(tc.req)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tc.req, err)
			}
			if got := r.Contains(v(tc.ver)); got != tc.want {
				t.Errorf("Contains(%q) in %q = %v, want %v", tc.ver, tc.req, got, tc.want)
			}
		})
	}
}

func TestAndSemantics(t *testing.T) {
	r, err := Parse(">= 2.0, < 3.0")
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		ver  string
		want bool
	}{
		{"1.9.9", false},
		{"2.0.0", true},
		{"2.5.0", true},
		{"3.0.0", false},
	} {
		if got := r.Contains(v(tc.ver)); got != tc.want {
			t.Errorf("Contains(%q) = %v, want %v", tc.ver, got, tc.want)
		}
	}
}

func TestNotEqualSplitsRange(t *testing.T) {
	r, err := Parse(">= 1.0, < 2.0, != 1.5")
	if err != nil {
		t.Fatal(err)
	}
	if r.Contains(v("1.5")) {
		t.Error("Contains(1.5) = true, want false")
	}
	if !r.Contains(v("1.4.9")) {
		t.Error("Contains(1.4.9) = false, want true")
	}
	if !r.Contains(v("1.5.1")) {
		t.Error("Contains(1.5.1) = false, want true")
	}
}

func TestUnsatisfiable(t *testing.T) {
	r, err := Parse(">= 2.0, < 1.0")
	if err != nil {
		t.Fatal(err)
	}
	for _, ver := range []string{"0.5", "1.0", "1.5", "2.0", "3.0"} {
		if r.Contains(v(ver)) {
			t.Errorf("Contains(%q) = true, want false (unsatisfiable range)", ver)
		}
	}
}

// TestRoundTrip is spec.md §8 property 2: parsing, formatting, and
// reparsing a non-empty requirement yields the same set of versions.
func TestRoundTrip(t *testing.T) {
	exprs := []string{
		">= 1.0",
		"~> 1.2",
		"~> 1.2.3",
		">= 2.0, < 3.0",
		"!= 1.5",
		"= 1.2.3",
	}
	probes := []string{"0.5", "1.0", "1.2.3", "1.2.9", "1.3.0", "1.5", "1.9.9", "2.0.0", "2.5.0", "3.0.0"}

	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			r1, err := Parse(expr)
			if err != nil {
				t.Fatal(err)
			}
			r2, err := Parse(r1.String())
			if err != nil {
				t.Fatalf("reparse %q: %v", r1.String(), err)
			}
			for _, p := range probes {
				ver := v(p)
				if r1.Contains(ver) != r2.Contains(ver) {
					t.Errorf("round trip mismatch on %q: orig.Contains=%v reparsed.Contains=%v",
						p, r1.Contains(ver), r2.Contains(ver))
				}
			}
		})
	}
}

func TestCacheMemoizes(t *testing.T) {
	c := NewCache()
	r1, err := c.Get("rack", "~> 3.0")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := c.Get("rack", "~> 3.0")
	if err != nil {
		t.Fatal(err)
	}
	if r1.String() != r2.String() {
		t.Errorf("cache returned different parses: %q vs %q", r1.String(), r2.String())
	}
}

func TestParseErrors(t *testing.T) {
	for _, bad := range []string{
		"> ", // missing version
		"?? 1.0",
		"1.0,,2.0",
		"~> abc",
	} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", bad)
		}
	}
}
