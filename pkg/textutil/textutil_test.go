package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "frau.müller", NormalizeName("  Frau. Müller\t"))
}

func TestBestMatch(t *testing.T) {
	teachers := []string{"Müller, Anna", "Schmidt, Bernd", "Schneider, Clara"}

	match, ok := BestMatch("Schmit Bernd", teachers, 0.85)
	require.True(t, ok)
	require.Equal(t, 1, match.Index)

	match, ok = BestMatch("Schmidt, Bernd", teachers, 0.85)
	require.True(t, ok)
	require.Equal(t, 1, match.Index)
	require.Equal(t, 1.0, match.Similarity)

	_, ok = BestMatch("zzz", teachers, 0.85)
	require.False(t, ok)

	_, ok = BestMatch("", teachers, 0.85)
	require.False(t, ok)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 3))
	require.Equal(t, "ab…", Truncate("abcd", 3))
}

func TestHash(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(""))
	require.NotEqual(t, Hash("a"), Hash("b"))
}
