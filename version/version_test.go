package version

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	testcases := []struct {
		version string
		valid   bool
	}{
		{version: "1", valid: true},
		{version: "1.", valid: false},
		{version: "1.alpha", valid: true},
		{version: "1-alpha", valid: true},
		{version: "", valid: true},
		{version: ".3", valid: false},
		{version: "beta", valid: false},
		{version: "beta.1", valid: false},
		{version: "-", valid: false},
		{version: "0-0", valid: true},
		{version: "1/2", valid: false},
		{version: "1..2", valid: false},
		{version: "1111111111111111111111111111111111111111111111111111111", valid: true},
		{version: "1.234567890987654321234567890987654321234567890987654321234567890987654.3.21", valid: true},
	}

	for _, tc := range testcases {
		t.Run(tc.version, func(t *testing.T) {
			_, err := Parse(tc.version)
			if !cmp.Equal(tc.valid, err == nil) {
				t.Error(cmp.Diff(tc.valid, err == nil))
			}
		})
	}
}

func TestCompare(t *testing.T) {
	testcases := []struct {
		a, b string
		want int
	}{
		{a: "1", b: "2", want: -1},
		{a: "1.1.2", b: "1.1.0", want: +1},
		{a: "1.1.02", b: "1.1.0", want: +1},
		{a: "1.1.2", b: "1.1.2", want: 0},
		{a: "5", b: "4.2.10", want: +1},
		{a: "4.2.10", b: "5", want: -1},
		{a: "4.2.10", b: "4.2.10.0.0.0.0.0.0", want: 0},
		{a: "0.9", b: "1.0", want: -1},
		{a: "0.9", b: "1.0.a.2", want: -1},
		{a: "1.0.a.2", b: "1.0.b1", want: -1},
		{a: "1.0.b1", b: "1.0", want: -1},
		{a: "0.alpha", b: "0", want: -1},
		{a: "1-2", b: "1-2", want: 0},
		{a: "1-1", b: "1-2", want: -1},
		{a: "1-2", b: "1-1", want: +1},
		{a: "1.2.3.0.00.0-0.0.0000.3.0000.00000000", b: "1.2.3.0.0.0-0.0.0.3.0.0", want: 0},
		{a: "1.0.3.beta", b: "1.beta", want: +1},
		{a: "   1.alpha.0.1.0.5.00000.0", b: " 1.alpha.0.1.0.5.0          ", want: 0},
		{a: "", b: "\t", want: 0},
		{a: "1.2.000000000000000000000000000000000000000000000000000000000001", b: "1.2.1", want: 0},
		{a: "1.2.000000000000000000000000000000000000000000000000000000000001", b: "1.2.2", want: -1},
		// boundary behaviours named in spec.md §8
		{a: "1.0.0-alpha", b: "1.0.0", want: -1},
		{a: "3.0.8", b: "3.1.0-beta", want: -1},
	}

	for _, tc := range testcases {
		t.Run(fmt.Sprintf("%s_%s", tc.a, tc.b), func(t *testing.T) {
			a, err := Parse(tc.a)
			if err != nil {
				t.Fatal(err)
			}
			b, err := Parse(tc.b)
			if err != nil {
				t.Fatal(err)
			}
			if got := a.Compare(b); got != tc.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
			// Compare must be antisymmetric.
			if got := b.Compare(a); got != -tc.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tc.b, tc.a, got, -tc.want)
			}
		})
	}
}

func TestIsPrerelease(t *testing.T) {
	for _, tc := range []struct {
		version string
		want    bool
	}{
		{"1.0.0", false},
		{"1.0.0-alpha", true},
		{"1.0.0.rc1", true},
		{"0", false},
	} {
		v := MustParse(tc.version)
		if got := v.IsPrerelease(); got != tc.want {
			t.Errorf("IsPrerelease(%q) = %v, want %v", tc.version, got, tc.want)
		}
	}
}
