package packet

import (
	"strconv"
	"strings"
)

// EncodeAlpha writes s left-justified into a space-padded field of the given width.
// Returns width on success, 0 if s does not fit or buf is too small.
func EncodeAlpha(buf []byte, s string, width int) int {
	if len(s) > width || len(buf) < width {
		return 0
	}
	n := copy(buf, s)
	for i := n; i < width; i++ {
		buf[i] = ' '
	}
	return width
}

// EncodeNumeric writes v as right-justified decimal text into a space-padded field.
// Returns width on success, 0 if the digits do not fit or buf is too small.
func EncodeNumeric(buf []byte, v uint64, width int) int {
	digits := strconv.FormatUint(v, 10)
	if len(digits) > width || len(buf) < width {
		return 0
	}
	pad := width - len(digits)
	for i := 0; i < pad; i++ {
		buf[i] = ' '
	}
	copy(buf[pad:], digits)
	return width
}

// DecodeAlpha returns the field with its space padding removed.
func DecodeAlpha(field []byte) string {
	return strings.TrimRight(string(field), " ")
}

// DecodeNumeric parses a space-padded decimal field. An all-space field is zero.
func DecodeNumeric(field []byte) (uint64, error) {
	s := strings.TrimSpace(string(field))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidSequenceNumber
	}
	return v, nil
}
