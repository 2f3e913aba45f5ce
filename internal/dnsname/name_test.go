package dnsname

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewNormalizesToFQDN(t *testing.T) {
	n, err := New("example.com")
	require.NoError(t, err)
	require.Equal(t, "example.com.", n.String())
}

func TestNewRejectsOverlongName(t *testing.T) {
	label := ""
	for i := 0; i < 63; i++ {
		label += "a"
	}
	long := ""
	for i := 0; i < 5; i++ {
		long += label + "."
	}
	_, err := New(long)
	require.ErrorIs(t, err, ErrNameTooLong)
}

func TestMustNewPanicsOnError(t *testing.T) {
	require.Panics(t, func() {
		label := ""
		for i := 0; i < 64; i++ {
			label += "a"
		}
		MustNew(label + ".example.com")
	})
}

func TestParent(t *testing.T) {
	n := MustNew("www.example.com")
	require.Equal(t, "example.com.", n.Parent().String())
	require.True(t, Root.Parent().IsRoot())
}

func TestEqualIsCaseInsensitive(t *testing.T) {
	a := MustNew("Example.COM")
	b := MustNew("example.com")
	require.True(t, a.Equal(b))
}

func TestCompareCanonicalOrder(t *testing.T) {
	a := MustNew("a.example.com")
	b := MustNew("z.example.com")
	require.True(t, a.Compare(b) < 0)
	require.True(t, b.Compare(a) > 0)
	require.Equal(t, 0, a.Compare(a))
}

func TestCoversNormalRange(t *testing.T) {
	owner := MustNew("a.example.com")
	next := MustNew("m.example.com")
	require.True(t, Covers(owner, next, MustNew("g.example.com")))
	require.False(t, Covers(owner, next, MustNew("z.example.com")))
}

func TestCoversWrapAround(t *testing.T) {
	owner := MustNew("z.example.com")
	next := MustNew("example.com") // zone apex, wraps
	require.True(t, Covers(owner, next, MustNew("zz.example.com")))
	require.False(t, Covers(owner, next, MustNew("m.example.com")))
}

func TestLabelsRootIsEmpty(t *testing.T) {
	require.Nil(t, Root.Labels())
}
