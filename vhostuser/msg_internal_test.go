package vhostuser

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplyUnique(t *testing.T) {
	header := make([]byte, OutHeaderSize)
	assert.Zero(t, replyUnique(header))

	binary.LittleEndian.PutUint64(header[8:16], 0xdeadbeef)
	assert.EqualValues(t, 0xdeadbeef, replyUnique(header))
}
