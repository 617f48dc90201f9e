package frame

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Encoding selects how a token maps to its byte value.
type Encoding int

const (
	// each token is the byte itself, as sent by the device firmware
	EncodingRaw Encoding = iota
	// each token is a decimal number 0..255, as sent by simulators
	EncodingDecimal
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingDecimal:
		return "decimal"
	}
	return "unknown"
}

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "raw":
		return EncodingRaw, nil
	case "decimal":
		return EncodingDecimal, nil
	}
	return EncodingRaw, fmt.Errorf("unsupported encoding %q: expected raw or decimal", s)
}

// ParseLine splits a line on ASCII whitespace and maps each of exactly FRAME_SIZE
// tokens to a byte. Lines of any other shape are reported as not ok.
//
// With EncodingRaw the byte values of ASCII whitespace can not be transmitted,
// they split the line instead.
func ParseLine(line []byte, enc Encoding) ([FRAME_SIZE]byte, bool) {
	var raw [FRAME_SIZE]byte

	tokens := bytes.FieldsFunc(line, func(r rune) bool {
		return r < utf8.RuneSelf && IsSeparator(byte(r))
	})
	if len(tokens) != FRAME_SIZE {
		return raw, false
	}

	for i, token := range tokens {
		switch enc {
		case EncodingRaw:
			if len(token) != 1 {
				return raw, false
			}
			raw[i] = token[0]
		case EncodingDecimal:
			v, err := strconv.ParseUint(string(token), 10, 8)
			if err != nil {
				return raw, false
			}
			raw[i] = byte(v)
		default:
			return raw, false
		}
	}
	return raw, true
}

// AppendLine appends raw as a newline terminated line in the given encoding.
func AppendLine(dst []byte, raw [FRAME_SIZE]byte, enc Encoding) []byte {
	for i, b := range raw {
		if i > 0 {
			dst = append(dst, ' ')
		}
		if enc == EncodingDecimal {
			dst = strconv.AppendUint(dst, uint64(b), 10)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, '\n')
}

// IsSeparator reports whether b splits tokens in a line.
func IsSeparator(b byte) bool {
	switch b {
	case '\t', '\n', '\v', '\f', '\r', ' ':
		return true
	}
	return false
}
