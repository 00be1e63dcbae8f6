// Package virtio holds the small slice of virtio protocol vocabulary this
// module needs.
package virtio

// Feature contains feature bits that describe a virtio device or driver.
type Feature uint64

// Device-independent feature bits.
//
// Source: https://docs.oasis-open.org/virtio/virtio/v1.2/csd01/virtio-v1.2-csd01.html#x1-6600006
const (
	// FeatureRingIndirectDescriptors indicates that the driver can use
	// descriptors with an additional layer of indirection.
	FeatureRingIndirectDescriptors Feature = 1 << 28

	// FeatureRingEventIndex enables the used_event and avail_event fields of
	// the rings.
	FeatureRingEventIndex Feature = 1 << 29

	// FeatureVersion1 indicates compliance with version 1.0 of the virtio
	// specification.
	FeatureVersion1 Feature = 1 << 32
)
