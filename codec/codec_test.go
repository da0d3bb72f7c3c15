package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildZeroFillsUnmentionedOffsets(t *testing.T) {
	buf := Build(8, Field{Width: U16, Offset: 2, Value: 0xABCD})
	assert.Len(t, buf, 8)
	assert.Equal(t, byte(0), buf[0])
	assert.Equal(t, byte(0), buf[1])
	assert.Equal(t, byte(0xAB), buf[2])
	assert.Equal(t, byte(0xCD), buf[3])
	assert.Equal(t, byte(0), buf[7])
}

func TestBuildAndReadRoundTrip(t *testing.T) {
	buf := Build(12,
		Field{Width: U8, Offset: 0, Value: 7},
		Field{Width: U16, Offset: 4, Value: 4000},
		Field{Width: U32, Offset: 8, Value: 7200},
	)
	assert.Equal(t, uint8(7), ReadU8(buf, 0))
	assert.Equal(t, uint16(4000), ReadU16(buf, 4))
	assert.Equal(t, uint32(7200), ReadU32(buf, 8))
}

func TestRequireLen(t *testing.T) {
	assert.NoError(t, RequireLen(make([]byte, 16), 16))
	assert.Error(t, RequireLen(make([]byte, 15), 16))
}
