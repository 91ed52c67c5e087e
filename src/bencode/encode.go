package bencode

import (
	"bytes"
	"strconv"
)

/*
*
Encode renders a Value tree back to its wire form. Dictionary entries are
written in the order the dictionary holds them; for a decoded dictionary
that reproduces the input byte for byte, and a hand-built dictionary is the
caller's responsibility to keep sorted.
*/
func Encode(v *Value) []byte {
	var buf bytes.Buffer
	EncodeTo(&buf, v)
	return buf.Bytes()
}

func EncodeTo(buf *bytes.Buffer, v *Value) {
	switch v.kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.num, 10))
		buf.WriteByte('e')
	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.raw)))
		buf.WriteByte(':')
		buf.Write(v.raw)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.items {
			EncodeTo(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		for _, e := range v.dict.entries {
			EncodeTo(buf, Bytes(e.key))
			EncodeTo(buf, e.val)
		}
		buf.WriteByte('e')
	}
}
