package kbin

import (
	"bytes"
	"fmt"
	"math"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"
)

func align4(n int) int {
	return (n + 3) &^ 3
}

// dataWriter lays out node values in the data buffer. Values wider than two
// bytes and all length-prefixed values start on a 4-byte boundary. One- and
// two-byte values share 4-byte slots that are reserved on demand.
type dataWriter struct {
	buf   []byte
	pos   int
	pos8  int
	pos16 int
}

func (d *dataWriter) reserve(n int) int {
	start := d.pos
	d.pos += align4(n)
	if len(d.buf) < d.pos {
		d.buf = append(d.buf, make([]byte, d.pos-len(d.buf))...)
	}
	return start
}

func (d *dataWriter) writeFixed(raw []byte) {
	switch len(raw) {
	case 1:
		if d.pos8%4 == 0 {
			d.pos8 = d.reserve(4)
		}
		d.buf[d.pos8] = raw[0]
		d.pos8++
	case 2:
		if d.pos16%4 == 0 {
			d.pos16 = d.reserve(4)
		}
		copy(d.buf[d.pos16:], raw)
		d.pos16 += 2
	default:
		start := d.reserve(len(raw))
		copy(d.buf[start:], raw)
	}
}

func (d *dataWriter) writeSized(raw []byte) error {
	if uint64(len(raw)) > math.MaxUint32 {
		return fmt.Errorf("value of %d bytes exceeds the data buffer limit", len(raw))
	}
	var prefix bytes.Buffer
	if err := kaitai.NewWriter(&prefix).WriteU4be(uint32(len(raw))); err != nil {
		return err
	}
	start := d.reserve(4)
	copy(d.buf[start:], prefix.Bytes())
	start = d.reserve(len(raw))
	copy(d.buf[start:], raw)
	return nil
}

func (d *dataWriter) bytes() []byte {
	return d.buf
}

// dataReader mirrors dataWriter's layout.
type dataReader struct {
	buf   []byte
	pos   int
	pos8  int
	pos16 int
}

func (d *dataReader) take(n int) (int, error) {
	start := d.pos
	end := start + align4(n)
	if n < 0 || end > len(d.buf) {
		return 0, fmt.Errorf("%w: data buffer needs %d bytes at offset %d, has %d", ErrTruncated, n, start, len(d.buf))
	}
	d.pos = end
	return start, nil
}

func (d *dataReader) readFixed(n int) ([]byte, error) {
	switch n {
	case 1:
		if d.pos8%4 == 0 {
			start, err := d.take(4)
			if err != nil {
				return nil, err
			}
			d.pos8 = start
		}
		b := d.buf[d.pos8 : d.pos8+1]
		d.pos8++
		return b, nil
	case 2:
		if d.pos16%4 == 0 {
			start, err := d.take(4)
			if err != nil {
				return nil, err
			}
			d.pos16 = start
		}
		b := d.buf[d.pos16 : d.pos16+2]
		d.pos16 += 2
		return b, nil
	default:
		start, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return d.buf[start : start+n], nil
	}
}

func (d *dataReader) readSized() ([]byte, error) {
	start, err := d.take(4)
	if err != nil {
		return nil, err
	}
	size, err := kaitai.NewStream(bytes.NewReader(d.buf[start : start+4])).ReadU4be()
	if err != nil {
		return nil, err
	}
	if uint64(size) > uint64(len(d.buf)-d.pos) {
		return nil, fmt.Errorf("%w: value of %d bytes at offset %d overruns data buffer", ErrTruncated, size, d.pos)
	}
	start, err = d.take(int(size))
	if err != nil {
		return nil, err
	}
	return d.buf[start : start+int(size)], nil
}
