package bencode

import (
	"bytes"
	"errors"
	"fmt"
)

var ErrUnorderedKeys = errors.New("dictionary keys are not strictly ascending")

/*
*
Decode parses a complete bencoded buffer into a Value tree. Byte strings in
the result alias the input buffer, so the buffer must outlive the tree.

Dictionaries are required to carry their keys in strictly ascending byte
order, as every well-formed encoder emits them.
*/
func Decode(data []byte) (*Value, error) {
	d := decoder{data: data}

	v, err := d.value()
	if err != nil {
		return nil, err
	}

	if d.pos != len(d.data) {
		return nil, fmt.Errorf("trailing garbage after value at offset %d", d.pos)
	}

	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) value() (*Value, error) {
	if d.pos >= len(d.data) {
		return nil, errors.New("unexpected end of input")
	}

	switch c := d.data[d.pos]; {
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dictionary()
	case c >= '0' && c <= '9':
		return d.byteString()
	default:
		return nil, fmt.Errorf("unexpected byte %q at offset %d", c, d.pos)
	}
}

func (d *decoder) integer() (*Value, error) {
	start := d.pos
	d.pos++ // 'i'

	end := bytes.IndexByte(d.data[d.pos:], 'e')
	if end < 0 {
		return nil, fmt.Errorf("unterminated integer at offset %d", start)
	}

	digits := d.data[d.pos : d.pos+end]
	n, err := parseInt(digits)
	if err != nil {
		return nil, fmt.Errorf("bad integer at offset %d: %w", start, err)
	}

	d.pos += end + 1
	return Int(n), nil
}

/*
*
Integers are decimal with no leading zeros ("i0e" being the only zero) and
no negative zero.
*/
func parseInt(digits []byte) (int64, error) {
	neg := false
	if len(digits) > 0 && digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}

	if len(digits) == 0 {
		return 0, errors.New("no digits")
	}
	if digits[0] == '0' && (neg || len(digits) > 1) {
		return 0, errors.New("leading zero")
	}

	var n int64
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("unexpected byte %q", c)
		}
		n = n*10 + int64(c-'0')
	}

	if neg {
		n = -n
	}
	return n, nil
}

func (d *decoder) rawBytes() ([]byte, error) {
	start := d.pos

	colon := bytes.IndexByte(d.data[d.pos:], ':')
	if colon < 0 {
		return nil, fmt.Errorf("unterminated byte string length at offset %d", start)
	}

	lenDigits := d.data[d.pos : d.pos+colon]
	if len(lenDigits) == 0 {
		return nil, fmt.Errorf("missing byte string length at offset %d", start)
	}
	if lenDigits[0] == '0' && len(lenDigits) > 1 {
		return nil, fmt.Errorf("byte string length has leading zero at offset %d", start)
	}

	var length int
	for _, c := range lenDigits {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("bad byte string length at offset %d", start)
		}
		length = length*10 + int(c-'0')
	}

	d.pos += colon + 1
	if d.pos+length > len(d.data) {
		return nil, fmt.Errorf("byte string at offset %d runs past end of input", start)
	}

	raw := d.data[d.pos : d.pos+length]
	d.pos += length
	return raw, nil
}

func (d *decoder) byteString() (*Value, error) {
	raw, err := d.rawBytes()
	if err != nil {
		return nil, err
	}
	return Bytes(raw), nil
}

func (d *decoder) list() (*Value, error) {
	start := d.pos
	d.pos++ // 'l'

	list := NewList()
	for {
		if d.pos >= len(d.data) {
			return nil, fmt.Errorf("unterminated list at offset %d", start)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return list, nil
		}

		item, err := d.value()
		if err != nil {
			return nil, err
		}
		list.Append(item)
	}
}

func (d *decoder) dictionary() (*Value, error) {
	start := d.pos
	d.pos++ // 'd'

	dict := NewDict()
	inner, _ := dict.Dict()

	var prevKey []byte
	first := true
	for {
		if d.pos >= len(d.data) {
			return nil, fmt.Errorf("unterminated dictionary at offset %d", start)
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return dict, nil
		}

		if c := d.data[d.pos]; c < '0' || c > '9' {
			return nil, fmt.Errorf("dictionary key at offset %d is not a byte string", d.pos)
		}
		key, err := d.rawBytes()
		if err != nil {
			return nil, err
		}

		if !first && bytes.Compare(prevKey, key) >= 0 {
			return nil, ErrUnorderedKeys
		}
		first = false
		prevKey = key

		val, err := d.value()
		if err != nil {
			return nil, err
		}

		inner.Set(key, val)
	}
}
