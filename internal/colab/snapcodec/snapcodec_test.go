package snapcodec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	inputs := []string{
		`{"blocks":[{"id":"b1","opcode":"motion_movesteps","x":10,"y":20}]}`,
		`{"blocks":[]}`,
		`{}`,
		// Repetitive content that benefits from compression.
		`{"blocks":[` + strings.Repeat(`{"id":"b1","opcode":"looks_say","x":0,"y":0},`, 200) +
			`{"id":"bN","opcode":"looks_say","x":0,"y":0}]}`,
	}

	for _, input := range inputs {
		data := []byte(input)
		compressed := Compress(data)

		decompressed, err := Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, data, decompressed)
	}
}

func TestCompressShrinksRepetitiveInput(t *testing.T) {
	data := []byte(strings.Repeat(`{"id":"block","opcode":"event_whenflagclicked"}`, 1000))
	compressed := Compress(data)
	assert.Less(t, len(compressed), len(data))
}

func TestDecompressGarbageReturnsError(t *testing.T) {
	_, err := Decompress([]byte("not zstd data"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "decompress")
}
