package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLineRaw(t *testing.T) {
	line := []byte{'P', ' ', 0, ' ', 0xC8, ' ', 1, ' ', 'A', ' ', 0, '\n'}

	raw, ok := ParseLine(line, EncodingRaw)

	assert.True(t, ok)
	assert.Equal(t, [FRAME_SIZE]byte{'P', 0, 0xC8, 1, 'A', 0}, raw)
}

func TestParseLineDecimal(t *testing.T) {
	raw, ok := ParseLine([]byte("80 0 200 0 10 0\r\n"), EncodingDecimal)

	assert.True(t, ok)
	assert.Equal(t, [FRAME_SIZE]byte{80, 0, 200, 0, 10, 0}, raw)
}

func TestParseLineRejectsWrongTokenCount(t *testing.T) {
	cases := map[string]string{
		"five":  "1 2 3 4 5\n",
		"seven": "1 2 3 4 5 6 7\n",
		"empty": "\n",
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseLine([]byte(line), EncodingDecimal)
			assert.False(t, ok)
			_, ok = ParseLine([]byte(line), EncodingRaw)
			assert.False(t, ok)
		})
	}
}

func TestParseLineRejectsBadTokens(t *testing.T) {
	_, ok := ParseLine([]byte("ab c d e f g\n"), EncodingRaw)
	assert.False(t, ok, "multi-byte token in raw mode")

	_, ok = ParseLine([]byte("1 2 3 4 5 256\n"), EncodingDecimal)
	assert.False(t, ok, "out of byte range")

	_, ok = ParseLine([]byte("1 2 3 4 5 x\n"), EncodingDecimal)
	assert.False(t, ok, "not a number")

	_, ok = ParseLine([]byte("1 2 3 4 5 6\n"), Encoding(42))
	assert.False(t, ok, "unknown encoding")
}

func TestParseEncoding(t *testing.T) {
	enc, err := ParseEncoding("")
	assert.NoError(t, err)
	assert.Equal(t, EncodingRaw, enc)

	enc, err = ParseEncoding(" Decimal ")
	assert.NoError(t, err)
	assert.Equal(t, EncodingDecimal, enc)
	assert.Equal(t, "decimal", enc.String())

	_, err = ParseEncoding("hex")
	assert.Error(t, err)
}

func TestAppendLine(t *testing.T) {
	raw := [FRAME_SIZE]byte{80, 0, 200, 1, 10, 0}

	assert.Equal(t, "80 0 200 1 10 0\n", string(AppendLine(nil, raw, EncodingDecimal)))
	assert.Equal(t, []byte{80, ' ', 0, ' ', 200, ' ', 1, ' ', 10, ' ', 0, '\n'}, AppendLine(nil, raw, EncodingRaw))
}

func TestAppendLineParsesBack(t *testing.T) {
	raw := [FRAME_SIZE]byte{0, 255, 65, 128, 14, 127}

	for _, enc := range []Encoding{EncodingRaw, EncodingDecimal} {
		parsed, ok := ParseLine(AppendLine(nil, raw, enc), enc)
		assert.True(t, ok, enc.String())
		assert.Equal(t, raw, parsed, enc.String())
	}
}

func TestIsSeparator(t *testing.T) {
	for _, b := range []byte{'\t', '\n', '\v', '\f', '\r', ' '} {
		assert.True(t, IsSeparator(b), "%d", b)
	}
	for _, b := range []byte{0, 1, 'a', 0x85, 0xA0, 255} {
		assert.False(t, IsSeparator(b), "%d", b)
	}
}

func TestParseLineSplitsOnASCIIWhitespaceOnly(t *testing.T) {
	// U+0085 and U+00A0 are whitespace in Unicode but not separators
	_, ok := ParseLine([]byte("1 2 3 4 5\xc2\x856\n"), EncodingDecimal)
	assert.False(t, ok)

	_, ok = ParseLine([]byte("1 2 3 4 5\xc2\xa06\n"), EncodingDecimal)
	assert.False(t, ok)

	raw, ok := ParseLine([]byte("1\t2\v3\f4\r5 6\n"), EncodingDecimal)
	assert.True(t, ok)
	assert.Equal(t, [FRAME_SIZE]byte{1, 2, 3, 4, 5, 6}, raw)
}
