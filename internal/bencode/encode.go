package bencode

import (
	"bytes"
	"math/big"
	"sort"
	"strconv"
)

// Encode returns the canonical encoding of v. Dictionary keys are written in
// ascending byte order.
func Encode(v any) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := encodeValue(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	// Static allocation, length of max int64
	var lenBuf [20]byte

	buf.Write(strconv.AppendInt(lenBuf[:0], v, 10))
}

func writeString[T ~string | ~[]byte](buf *bytes.Buffer, v T) {
	writeInt64(buf, int64(len(v)))
	buf.WriteByte(':')
	buf.Write([]byte(v))
}

func writeNumber(buf *bytes.Buffer, v int64) {
	buf.WriteByte('i')
	writeInt64(buf, v)
	buf.WriteByte('e')
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case RawMessage:
		buf.Write(t)
	case []byte:
		writeString(buf, t)
	case string:
		writeString(buf, t)
	case int:
		writeNumber(buf, int64(t))
	case int8:
		writeNumber(buf, int64(t))
	case int16:
		writeNumber(buf, int64(t))
	case int32:
		writeNumber(buf, int64(t))
	case int64:
		writeNumber(buf, t)
	case uint8:
		writeNumber(buf, int64(t))
	case uint16:
		writeNumber(buf, int64(t))
	case uint32:
		writeNumber(buf, int64(t))
	case uint:
		return encodeBig(buf, new(big.Int).SetUint64(uint64(t)))
	case uint64:
		return encodeBig(buf, new(big.Int).SetUint64(t))
	case *big.Int:
		if t == nil {
			return &UnsupportedTypeError{Value: v}
		}
		return encodeBig(buf, t)
	case []any:
		buf.WriteByte('l')
		for _, item := range t {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case []string:
		buf.WriteByte('l')
		for _, item := range t {
			writeString(buf, item)
		}
		buf.WriteByte('e')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('d')
		for _, k := range keys {
			writeString(buf, k)
			if err := encodeValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	default:
		return &UnsupportedTypeError{Value: v}
	}
	return nil
}

func encodeBig(buf *bytes.Buffer, v *big.Int) error {
	buf.WriteByte('i')
	buf.WriteString(v.String())
	buf.WriteByte('e')
	return nil
}
