package iov

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// partition splits b into consecutive regions at the given cut points.
func partition(b []byte, cuts ...int) [][]byte {
	var regions [][]byte
	prev := 0
	for _, c := range cuts {
		regions = append(regions, b[prev:c])
		prev = c
	}
	return append(regions, b[prev:])
}

func TestLength(t *testing.T) {
	assert.Equal(t, 0, Length(nil))
	assert.Equal(t, 0, Length([][]byte{{}, {}}))
	assert.Equal(t, 5, Length([][]byte{{1, 2}, {}, {3, 4, 5}}))
}

func TestFlatten(t *testing.T) {
	src := []byte("the quick brown fox jumps over the lazy dog")
	dst := make([]byte, len(src))

	n := Flatten(dst, partition(src, 3, 9, 9, 20))
	assert.Equal(t, len(src), n)
	assert.Equal(t, src, dst)

	// A larger destination only gets the region bytes.
	big := make([]byte, len(src)+16)
	n = Flatten(big, partition(src, 10))
	assert.Equal(t, len(src), n)
	assert.Equal(t, src, big[:n])
}

func TestCopyShapeIndependence(t *testing.T) {
	// For any partitioning of source and destination, the first total bytes of
	// the flattened destination must equal the flattened source.
	rnd := rand.New(rand.NewSource(1))
	src := make([]byte, 257)
	_, err := rnd.Read(src)
	require.NoError(t, err)

	for trial := 0; trial < 64; trial++ {
		srcRegions := partition(append([]byte(nil), src...), randomCuts(rnd, len(src))...)

		dstBuf := make([]byte, len(src)+rnd.Intn(64))
		dstRegions := partition(dstBuf, randomCuts(rnd, len(dstBuf))...)

		require.NoError(t, Copy(dstRegions, srcRegions, len(src)))

		flat := make([]byte, len(dstBuf))
		Flatten(flat, dstRegions)
		assert.True(t, bytes.Equal(src, flat[:len(src)]), "trial %d", trial)
	}
}

func randomCuts(rnd *rand.Rand, n int) []int {
	cuts := make([]int, rnd.Intn(8))
	for i := range cuts {
		cuts[i] = rnd.Intn(n + 1)
	}
	// partition requires monotonically increasing cut points
	for i := 1; i < len(cuts); i++ {
		if cuts[i] < cuts[i-1] {
			cuts[i] = cuts[i-1]
		}
	}
	return cuts
}

func TestCopyUnevenChunks(t *testing.T) {
	src := [][]byte{[]byte("abcdef"), []byte("ghi"), []byte("jklmnopqr")}
	dst := [][]byte{make([]byte, 2), make([]byte, 11), make([]byte, 5)}

	require.NoError(t, Copy(dst, src, 18))

	flat := make([]byte, 18)
	Flatten(flat, dst)
	assert.Equal(t, []byte("abcdefghijklmnopqr"), flat)
}

func TestCopyZeroLengthRegions(t *testing.T) {
	src := [][]byte{{}, []byte("ab"), {}, []byte("cd")}
	dst := [][]byte{make([]byte, 1), {}, make([]byte, 3)}

	require.NoError(t, Copy(dst, src, 4))
	assert.Equal(t, []byte("a"), dst[0])
	assert.Equal(t, []byte("bcd"), dst[2])
}

func TestCopyInsufficientCapacity(t *testing.T) {
	src := [][]byte{[]byte("abcd")}
	dst := [][]byte{make([]byte, 2), make([]byte, 1)}

	err := Copy(dst, src, 4)
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
	// No partial copy may have happened.
	assert.Equal(t, make([]byte, 2), dst[0])

	err = Copy([][]byte{make([]byte, 8)}, src, 5)
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
}

func TestCopyPartialSource(t *testing.T) {
	// Copying fewer bytes than the source holds stops at total.
	src := [][]byte{[]byte("abcdefgh")}
	dst := [][]byte{make([]byte, 8)}

	require.NoError(t, Copy(dst, src, 3))
	assert.Equal(t, []byte("abc"), dst[0][:3])
	assert.Equal(t, make([]byte, 5), dst[0][3:])
}
