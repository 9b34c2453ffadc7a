package keybase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"6.2.4", "6.2.4", 0},
		{"6.2.4-20230530213535+7ba3d6d4b2", "6.2.4", 0},
		{"v6.2.4", "6.2.4", 0},
		{"6.2.4", "6.2.5", -1},
		{"6.3.0", "6.2.9", 1},
		{"5.10.0", "5.9.1", 1},
		{"6", "6.0.0", 0},
		{"6.2", "6.2.1", -1},
		{" 6.2.4\n", "6.2.4", 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_vs_%s", tt.a, tt.b), func(t *testing.T) {
			require.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
		})
	}
}

func TestCheckVersion(t *testing.T) {
	require.NoError(t, CheckVersion("6.2.4", ""))
	require.NoError(t, CheckVersion("6.2.4-20230530213535+7ba3d6d4b2", "6.2.0"))

	err := CheckVersion("5.9.0", "6.0.0")
	require.EqualError(t, err, "keybase version 6.0.0 required, found 5.9.0")
}

func versionGen() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		return fmt.Sprintf("%d.%d.%d",
			rapid.IntRange(0, 30).Draw(t, "major"),
			rapid.IntRange(0, 30).Draw(t, "minor"),
			rapid.IntRange(0, 30).Draw(t, "patch"))
	})
}

// Property: CompareVersions is antisymmetric and reflexive.
func TestCompareVersions_AntisymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := versionGen().Draw(t, "a")
		b := versionGen().Draw(t, "b")

		if CompareVersions(a, a) != 0 {
			t.Fatalf("%s not equal to itself", a)
		}
		if CompareVersions(a, b) != -CompareVersions(b, a) {
			t.Fatalf("compare(%s,%s) not antisymmetric", a, b)
		}
	})
}

// Property: build metadata never affects ordering.
func TestCompareVersions_SuffixIgnoredProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := versionGen().Draw(t, "v")
		suffix := rapid.StringMatching(`[-+][0-9a-z.+]{1,20}`).Draw(t, "suffix")

		if CompareVersions(v+suffix, v) != 0 {
			t.Fatalf("%s%s compared unequal to %s", v, suffix, v)
		}
	})
}
