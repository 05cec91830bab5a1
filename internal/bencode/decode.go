package bencode

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"
)

const maxDepth = 512

// Decode parses a single bencoded value occupying the whole of data.
// Trailing bytes after the top-level value are an error.
func Decode(data []byte) (any, error) {
	d := &decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, d.errorf("trailing data after top-level value")
	}
	return v, nil
}

// RawValue returns the encoded bytes of key inside the top-level dictionary
// held by data, exactly as they appear in the input.
func RawValue(data []byte, key string) ([]byte, bool, error) {
	d := &decoder{data: data}
	if len(data) == 0 || data[0] != 'd' {
		return nil, false, d.errorf("top-level value is not a dictionary")
	}
	d.pos++

	var (
		raw   []byte
		found bool
	)
	for {
		if d.pos >= len(d.data) {
			return nil, false, d.errorf("unterminated dictionary")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			break
		}
		k, err := d.byteString()
		if err != nil {
			return nil, false, err
		}
		start := d.pos
		if _, err := d.value(); err != nil {
			return nil, false, err
		}
		if string(k) == key {
			raw = d.data[start:d.pos]
			found = true
		}
	}
	if d.pos != len(d.data) {
		return nil, false, d.errorf("trailing data after top-level value")
	}
	return raw, found, nil
}

type decoder struct {
	data  []byte
	pos   int
	depth int
}

func (d *decoder) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: d.pos, Reason: fmt.Sprintf(format, args...)}
}

func (d *decoder) value() (any, error) {
	if d.pos >= len(d.data) {
		return nil, d.errorf("unexpected end of input")
	}
	switch c := d.data[d.pos]; {
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dict()
	case c >= '0' && c <= '9':
		return d.byteString()
	default:
		return nil, d.errorf("invalid value prefix %q", c)
	}
}

func (d *decoder) integer() (any, error) {
	d.pos++
	end := bytes.IndexByte(d.data[d.pos:], 'e')
	if end < 0 {
		return nil, d.errorf("unterminated integer")
	}
	digits := d.data[d.pos : d.pos+end]
	if err := d.checkInteger(digits); err != nil {
		return nil, err
	}
	d.pos += end + 1

	if n, err := strconv.ParseInt(string(digits), 10, 64); err == nil {
		return n, nil
	}
	n, ok := new(big.Int).SetString(string(digits), 10)
	if !ok {
		return nil, d.errorf("invalid integer %q", digits)
	}
	return n, nil
}

func (d *decoder) checkInteger(digits []byte) error {
	if len(digits) == 0 {
		return d.errorf("empty integer")
	}
	magnitude := digits
	if digits[0] == '-' {
		magnitude = digits[1:]
		if len(magnitude) == 0 {
			return d.errorf("invalid integer %q", digits)
		}
		if magnitude[0] == '0' {
			return d.errorf("non-canonical integer %q", digits)
		}
	}
	if len(magnitude) > 1 && magnitude[0] == '0' {
		return d.errorf("non-canonical integer %q", digits)
	}
	for _, c := range magnitude {
		if c < '0' || c > '9' {
			return d.errorf("invalid integer %q", digits)
		}
	}
	return nil
}

func (d *decoder) byteString() ([]byte, error) {
	colon := bytes.IndexByte(d.data[d.pos:], ':')
	if colon < 0 {
		return nil, d.errorf("missing length separator")
	}
	prefix := d.data[d.pos : d.pos+colon]
	if len(prefix) == 0 || (len(prefix) > 1 && prefix[0] == '0') {
		return nil, d.errorf("bad length prefix %q", prefix)
	}
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return nil, d.errorf("bad length prefix %q", prefix)
		}
	}
	n, err := strconv.Atoi(string(prefix))
	if err != nil {
		return nil, d.errorf("bad length prefix %q", prefix)
	}
	start := d.pos + colon + 1
	if n > len(d.data)-start {
		return nil, d.errorf("byte string length %d exceeds input", n)
	}
	b := make([]byte, n)
	copy(b, d.data[start:start+n])
	d.pos = start + n
	return b, nil
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > maxDepth {
		return d.errorf("nesting deeper than %d", maxDepth)
	}
	return nil
}

func (d *decoder) list() (any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	d.pos++
	items := make([]any, 0)
	for {
		if d.pos >= len(d.data) {
			return nil, d.errorf("unterminated list")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return items, nil
		}
		item, err := d.value()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
}

func (d *decoder) dict() (any, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	d.pos++
	dict := make(map[string]any)
	for {
		if d.pos >= len(d.data) {
			return nil, d.errorf("unterminated dictionary")
		}
		c := d.data[d.pos]
		if c == 'e' {
			d.pos++
			return dict, nil
		}
		if c < '0' || c > '9' {
			return nil, d.errorf("dictionary key must be a byte string")
		}
		keyOffset := d.pos
		key, err := d.byteString()
		if err != nil {
			return nil, err
		}
		if _, dup := dict[string(key)]; dup {
			return nil, &SyntaxError{Offset: keyOffset, Reason: fmt.Sprintf("duplicate dictionary key %q", key)}
		}
		if d.pos >= len(d.data) || d.data[d.pos] == 'e' {
			return nil, d.errorf("dictionary key %q has no value", key)
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		dict[string(key)] = v
	}
}
