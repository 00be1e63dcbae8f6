package virtqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableRing_MemoryLayout(t *testing.T) {
	const queueSize = 2

	memory := make([]byte, AvailableRingSize(queueSize))
	r := newAvailableRing(queueSize, memory)

	*r.flags = 0x01ff
	*r.ringIndex = 1
	r.ring[0] = 0x1234
	r.ring[1] = 0x5678

	assert.Equal(t, []byte{
		0xff, 0x01,
		0x01, 0x00,
		0x34, 0x12,
		0x78, 0x56,
		0x00, 0x00,
	}, memory)
}

func TestAvailableRing_Take(t *testing.T) {
	const queueSize = 8

	tests := []struct {
		name       string
		startIndex uint16
		heads      []uint16
	}{
		{
			name:       "no overflow",
			startIndex: 0,
			heads:      []uint16{42, 33, 69},
		},
		{
			name:       "ring overflow",
			startIndex: 6,
			heads:      []uint16{42, 33, 69},
		},
		{
			name:       "index overflow",
			startIndex: 65535,
			heads:      []uint16{42, 33, 69},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := make([]byte, AvailableRingSize(queueSize))
			r := newAvailableRing(queueSize, memory)
			*r.ringIndex = tt.startIndex
			r.lastIndex = tt.startIndex

			for i, head := range tt.heads {
				r.ring[(tt.startIndex+uint16(i))%queueSize] = head
			}
			*r.ringIndex = tt.startIndex + uint16(len(tt.heads))

			assert.Equal(t, len(tt.heads), r.pending())
			for i, want := range tt.heads {
				assert.Equal(t, want, r.peek(i))
			}

			for _, want := range tt.heads {
				head, ok := r.take()
				assert.True(t, ok)
				assert.Equal(t, want, head)
			}

			assert.Zero(t, r.pending())
			_, ok := r.take()
			assert.False(t, ok)
		})
	}
}

func TestAvailableRing_Suppressed(t *testing.T) {
	memory := make([]byte, AvailableRingSize(2))
	r := newAvailableRing(2, memory)

	assert.False(t, r.suppressed())
	*r.flags = availableRingFlagNoInterrupt
	assert.True(t, r.suppressed())
}
