package virtqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsedRing_MemoryLayout(t *testing.T) {
	const queueSize = 2

	memory := make([]byte, UsedRingSize(queueSize))
	r := newUsedRing(queueSize, memory)

	*r.flags = 0x01ff
	*r.ringIndex = 1
	r.ring[0] = UsedElement{
		DescriptorIndex: 0x0123,
		Length:          0x4567,
	}
	r.ring[1] = UsedElement{
		DescriptorIndex: 0x89ab,
		Length:          0xcdef,
	}

	assert.Equal(t, []byte{
		0xff, 0x01,
		0x01, 0x00,
		0x23, 0x01, 0x00, 0x00,
		0x67, 0x45, 0x00, 0x00,
		0xab, 0x89, 0x00, 0x00,
		0xef, 0xcd, 0x00, 0x00,
		0x00, 0x00,
	}, memory)
}

func TestUsedRing_Offer(t *testing.T) {
	const queueSize = 4

	tests := []struct {
		name              string
		startRingIndex    uint16
		expectedRingIndex uint16
		expectedRing      []UsedElement
	}{
		{
			name:              "no overflow",
			startRingIndex:    0,
			expectedRingIndex: 2,
			expectedRing: []UsedElement{
				{DescriptorIndex: 7, Length: 100},
				{DescriptorIndex: 3, Length: 200},
				{}, {},
			},
		},
		{
			name:              "ring overflow",
			startRingIndex:    3,
			expectedRingIndex: 5,
			expectedRing: []UsedElement{
				{DescriptorIndex: 3, Length: 200},
				{}, {},
				{DescriptorIndex: 7, Length: 100},
			},
		},
		{
			name:              "index overflow",
			startRingIndex:    65535,
			expectedRingIndex: 1,
			expectedRing: []UsedElement{
				{DescriptorIndex: 3, Length: 200},
				{}, {},
				{DescriptorIndex: 7, Length: 100},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memory := make([]byte, UsedRingSize(queueSize))
			r := newUsedRing(queueSize, memory)
			*r.ringIndex = tt.startRingIndex

			r.offer(UsedElement{DescriptorIndex: 7, Length: 100})
			r.offer(UsedElement{DescriptorIndex: 3, Length: 200})

			assert.Equal(t, tt.expectedRingIndex, *r.ringIndex)
			assert.Equal(t, tt.expectedRing, r.ring)
		})
	}
}
