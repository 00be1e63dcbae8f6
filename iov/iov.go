// Package iov implements copy primitives for ordered lists of buffer regions,
// as produced by descriptor chains. Source and destination lists may be split
// into regions of completely different sizes; the algorithms only care about
// the total number of bytes.
package iov

import "errors"

// ErrInsufficientCapacity is returned when the source or destination regions
// cannot hold the requested number of bytes.
var ErrInsufficientCapacity = errors.New("regions have insufficient capacity")

// Length returns the total number of bytes across all regions.
func Length(regions [][]byte) int {
	var n int
	for _, r := range regions {
		n += len(r)
	}
	return n
}

// Flatten copies all regions sequentially into dst and returns the number of
// bytes copied. The caller must ensure that dst is large enough to hold all
// regions; guest-declared lengths are validated before this is called, so a
// short dst is a caller bug, not guest input.
func Flatten(dst []byte, regions [][]byte) int {
	var n int
	for _, r := range regions {
		n += copy(dst[n:], r)
	}
	return n
}

// Copy copies exactly total bytes from the src regions into the dst regions,
// in order. The two region lists may be partitioned differently; a cursor is
// kept on both sides and each step copies as many bytes as the current source
// region, the current destination region and the remaining total allow.
//
// Both sides are validated up front: when either list is shorter than total,
// ErrInsufficientCapacity is returned and no bytes are copied.
func Copy(dst, src [][]byte, total int) error {
	if total < 0 || Length(src) < total || Length(dst) < total {
		return ErrInsufficientCapacity
	}

	var srcOff, dstOff int
	for total > 0 {
		for len(src[0]) == srcOff {
			src = src[1:]
			srcOff = 0
		}
		for len(dst[0]) == dstOff {
			dst = dst[1:]
			dstOff = 0
		}

		n := min(len(src[0])-srcOff, len(dst[0])-dstOff, total)
		copy(dst[0][dstOff:dstOff+n], src[0][srcOff:srcOff+n])

		srcOff += n
		dstOff += n
		total -= n
	}

	return nil
}
