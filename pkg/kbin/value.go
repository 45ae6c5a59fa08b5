package kbin

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
)

// parseScalar converts the text form of a single element of a fixed-size
// type into its Go value.
func parseScalar(t NodeType, text string) (any, error) {
	switch t {
	case TypeS8:
		v, err := strconv.ParseInt(text, 10, 8)
		return int8(v), err
	case TypeU8:
		v, err := strconv.ParseUint(text, 10, 8)
		return uint8(v), err
	case TypeS16:
		v, err := strconv.ParseInt(text, 10, 16)
		return int16(v), err
	case TypeU16:
		v, err := strconv.ParseUint(text, 10, 16)
		return uint16(v), err
	case TypeS32:
		v, err := strconv.ParseInt(text, 10, 32)
		return int32(v), err
	case TypeU32, TypeTime:
		v, err := strconv.ParseUint(text, 10, 32)
		return uint32(v), err
	case TypeS64:
		return strconv.ParseInt(text, 10, 64)
	case TypeU64:
		return strconv.ParseUint(text, 10, 64)
	case TypeFloat:
		v, err := strconv.ParseFloat(text, 32)
		return float32(v), err
	case TypeDouble:
		return strconv.ParseFloat(text, 64)
	case TypeBool:
		return strconv.ParseBool(text)
	case TypeIP4:
		addr, err := netip.ParseAddr(text)
		if err != nil {
			return nil, err
		}
		if !addr.Is4() {
			return nil, fmt.Errorf("%q is not an IPv4 address", text)
		}
		return addr, nil
	default:
		return nil, fmt.Errorf("type %s has no scalar text form", t)
	}
}

// parseValue converts the text content of a typed element. count is the
// __count attribute for arrays and -1 otherwise.
func parseValue(t NodeType, text string, count int) (any, error) {
	switch t {
	case TypeString:
		return text, nil
	case TypeBinary:
		return hex.DecodeString(strings.TrimSpace(text))
	}

	if count < 0 {
		return parseScalar(t, strings.TrimSpace(text))
	}

	fields := strings.Fields(text)
	if len(fields) != count {
		return nil, fmt.Errorf("__count is %d but %d values present", count, len(fields))
	}
	values := make([]any, len(fields))
	for i, f := range fields {
		v, err := parseScalar(t, f)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		values[i] = v
	}
	return values, nil
}

func formatScalar(t NodeType, v any) (string, error) {
	switch val := v.(type) {
	case int8:
		return strconv.FormatInt(int64(val), 10), checkType(t, v, TypeS8)
	case uint8:
		return strconv.FormatUint(uint64(val), 10), checkType(t, v, TypeU8)
	case int16:
		return strconv.FormatInt(int64(val), 10), checkType(t, v, TypeS16)
	case uint16:
		return strconv.FormatUint(uint64(val), 10), checkType(t, v, TypeU16)
	case int32:
		return strconv.FormatInt(int64(val), 10), checkType(t, v, TypeS32)
	case uint32:
		return strconv.FormatUint(uint64(val), 10), checkType(t, v, TypeU32, TypeTime)
	case int64:
		return strconv.FormatInt(val, 10), checkType(t, v, TypeS64)
	case uint64:
		return strconv.FormatUint(val, 10), checkType(t, v, TypeU64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), checkType(t, v, TypeFloat)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), checkType(t, v, TypeDouble)
	case bool:
		if val {
			return "1", checkType(t, v, TypeBool)
		}
		return "0", checkType(t, v, TypeBool)
	case netip.Addr:
		if !val.Is4() {
			return "", fmt.Errorf("ip4 value %s is not an IPv4 address", val)
		}
		return val.String(), checkType(t, v, TypeIP4)
	default:
		return "", fmt.Errorf("value of Go type %T does not match node type %s", v, t)
	}
}

// formatValue renders a node value as element text.
func formatValue(n *Node) (string, error) {
	switch n.Type {
	case TypeVoid:
		return "", nil
	case TypeString:
		s, ok := n.Value.(string)
		if !ok {
			return "", fmt.Errorf("value of Go type %T does not match node type str", n.Value)
		}
		return s, nil
	case TypeBinary:
		b, ok := n.Value.([]byte)
		if !ok {
			return "", fmt.Errorf("value of Go type %T does not match node type bin", n.Value)
		}
		return hex.EncodeToString(b), nil
	}

	if !n.Array {
		return formatScalar(n.Type, n.Value)
	}
	items, ok := n.Value.([]any)
	if !ok {
		return "", fmt.Errorf("array node holds %T, want []any", n.Value)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		s, err := formatScalar(n.Type, item)
		if err != nil {
			return "", fmt.Errorf("element %d: %w", i, err)
		}
		parts[i] = s
	}
	return strings.Join(parts, " "), nil
}

func checkType(got NodeType, v any, want ...NodeType) error {
	for _, w := range want {
		if got == w {
			return nil
		}
	}
	return fmt.Errorf("value of Go type %T does not match node type %s", v, got)
}

// writeScalar appends the big-endian form of one element.
func writeScalar(w *kaitai.Writer, t NodeType, v any) error {
	if _, err := formatScalar(t, v); err != nil {
		return err
	}
	switch val := v.(type) {
	case int8:
		return w.WriteS1(val)
	case uint8:
		return w.WriteU1(val)
	case int16:
		return w.WriteS2be(val)
	case uint16:
		return w.WriteU2be(val)
	case int32:
		return w.WriteS4be(val)
	case uint32:
		return w.WriteU4be(val)
	case int64:
		return w.WriteS8be(val)
	case uint64:
		return w.WriteU8be(val)
	case float32:
		return w.WriteF4be(val)
	case float64:
		return w.WriteF8be(val)
	case bool:
		if val {
			return w.WriteU1(1)
		}
		return w.WriteU1(0)
	case netip.Addr:
		b := val.As4()
		return w.WriteBytes(b[:])
	}
	return fmt.Errorf("unsupported value %T", v)
}

// encodeFixed returns the packed big-endian bytes of a fixed-size node value.
func encodeFixed(n *Node) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := kaitai.NewWriter(buf)
	if !n.Array {
		if err := writeScalar(w, n.Type, n.Value); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	items, ok := n.Value.([]any)
	if !ok {
		return nil, fmt.Errorf("array node holds %T, want []any", n.Value)
	}
	for i, item := range items {
		if err := writeScalar(w, n.Type, item); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func readScalar(s *kaitai.Stream, t NodeType) (any, error) {
	switch t {
	case TypeS8:
		return s.ReadS1()
	case TypeU8:
		return s.ReadU1()
	case TypeS16:
		return s.ReadS2be()
	case TypeU16:
		return s.ReadU2be()
	case TypeS32:
		return s.ReadS4be()
	case TypeU32, TypeTime:
		return s.ReadU4be()
	case TypeS64:
		return s.ReadS8be()
	case TypeU64:
		return s.ReadU8be()
	case TypeFloat:
		return s.ReadF4be()
	case TypeDouble:
		return s.ReadF8be()
	case TypeBool:
		b, err := s.ReadU1()
		return b != 0, err
	case TypeIP4:
		raw, err := s.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		return netip.AddrFrom4([4]byte(raw)), nil
	}
	return nil, fmt.Errorf("type %s has no fixed binary form", t)
}

// decodeFixed unpacks raw bytes into a scalar or array value of type t.
func decodeFixed(t NodeType, array bool, raw []byte) (any, error) {
	size := t.Size()
	if size == 0 {
		return nil, fmt.Errorf("type %s has no fixed binary form", t)
	}
	s := kaitai.NewStream(bytes.NewReader(raw))
	if !array {
		if len(raw) != size {
			return nil, fmt.Errorf("%s value needs %d bytes, have %d", t, size, len(raw))
		}
		return readScalar(s, t)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%s array length %d is not a multiple of %d", t, len(raw), size)
	}
	items := make([]any, len(raw)/size)
	for i := range items {
		v, err := readScalar(s, t)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		items[i] = v
	}
	return items, nil
}
