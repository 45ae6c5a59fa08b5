package kbin

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/kaitai-io/kaitai_struct_go_runtime/kaitai"

	"github.com/twinfer/kbinxml-plugin/format"
)

const (
	signature            byte = 0xA0
	compressedMarker     byte = 0x42
	uncompressedMarker   byte = 0x45
	maxUncompressedName       = 64
	uncompressedNameFlag byte = 0x40
)

// binaryEncoder writes a tree into the node and data buffers.
type binaryEncoder struct {
	opts  Options
	cs    charset
	nodes *kaitai.Writer
	data  *dataWriter
}

func encodeBinary(opts Options, tree *Tree) ([]byte, error) {
	if tree == nil || tree.Root == nil {
		return nil, fmt.Errorf("%w: tree has no root node", ErrMalformedTree)
	}
	cs, err := charsetFor(opts.Encoding)
	if err != nil {
		return nil, err
	}

	nodeBuf := new(bytes.Buffer)
	e := &binaryEncoder{
		opts:  opts,
		cs:    cs,
		nodes: kaitai.NewWriter(nodeBuf),
		data:  &dataWriter{},
	}
	if err := e.writeNode(tree.Root); err != nil {
		return nil, err
	}
	if err := e.nodes.WriteU1(markerFileEnd); err != nil {
		return nil, err
	}
	for nodeBuf.Len()%4 != 0 {
		nodeBuf.WriteByte(0)
	}

	compression := uncompressedMarker
	if opts.Compression == format.Compressed {
		compression = compressedMarker
	}

	out := new(bytes.Buffer)
	w := kaitai.NewWriter(out)
	header := []byte{signature, compression, opts.Encoding.Byte(), ^opts.Encoding.Byte()}
	if err := w.WriteBytes(header); err != nil {
		return nil, err
	}
	if err := w.WriteU4be(uint32(nodeBuf.Len())); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(nodeBuf.Bytes()); err != nil {
		return nil, err
	}
	data := e.data.bytes()
	if err := w.WriteU4be(uint32(len(data))); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(data); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (e *binaryEncoder) writeNode(n *Node) error {
	if !n.Type.Valid() || n.Type == TypeVoid && n.Array {
		return fmt.Errorf("%w: node %q has type %s", ErrUnknownNodeType, n.Name, n.Type)
	}
	if n.Array && !n.Type.Arrayable() {
		return fmt.Errorf("%w: node %q of type %s cannot be an array", ErrMalformedTree, n.Name, n.Type)
	}

	typeByte := byte(n.Type)
	if n.Array {
		typeByte |= arrayFlag
	}
	if err := e.nodes.WriteU1(typeByte); err != nil {
		return err
	}
	if err := e.writeName(n.Name); err != nil {
		return err
	}
	if err := e.writeValue(n); err != nil {
		return fmt.Errorf("node %q: %w", n.Name, err)
	}

	for _, attr := range n.Attributes {
		if err := e.nodes.WriteU1(markerAttribute); err != nil {
			return err
		}
		if err := e.writeName(attr.Name); err != nil {
			return err
		}
		if err := e.writeString(attr.Value); err != nil {
			return fmt.Errorf("attribute %q of node %q: %w", attr.Name, n.Name, err)
		}
	}

	for _, child := range n.Children {
		if err := e.writeNode(child); err != nil {
			return err
		}
	}
	return e.nodes.WriteU1(markerNodeEnd)
}

func (e *binaryEncoder) writeValue(n *Node) error {
	switch n.Type {
	case TypeVoid:
		return nil
	case TypeString:
		s, ok := n.Value.(string)
		if !ok {
			return fmt.Errorf("value of Go type %T does not match node type str", n.Value)
		}
		return e.writeString(s)
	case TypeBinary:
		b, ok := n.Value.([]byte)
		if !ok {
			return fmt.Errorf("value of Go type %T does not match node type bin", n.Value)
		}
		return e.data.writeSized(b)
	}

	raw, err := encodeFixed(n)
	if err != nil {
		return err
	}
	if n.Array {
		return e.data.writeSized(raw)
	}
	e.data.writeFixed(raw)
	return nil
}

// writeString stores s NUL-terminated in the document encoding.
func (e *binaryEncoder) writeString(s string) error {
	raw, err := e.cs.encode(s)
	if err != nil {
		return err
	}
	return e.data.writeSized(append(raw, 0))
}

func (e *binaryEncoder) writeName(name string) error {
	if e.opts.Compression == format.Compressed {
		packed, err := packSixbit(name)
		if err != nil {
			return err
		}
		if err := e.nodes.WriteU1(uint8(len(name))); err != nil {
			return err
		}
		return e.nodes.WriteBytes(packed)
	}

	raw, err := e.cs.encode(name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	if len(raw) == 0 || len(raw) > maxUncompressedName {
		return fmt.Errorf("%w: %q encodes to %d bytes, want 1..%d", ErrInvalidName, name, len(raw), maxUncompressedName)
	}
	if err := e.nodes.WriteU1(byte(len(raw)-1) | uncompressedNameFlag); err != nil {
		return err
	}
	return e.nodes.WriteBytes(raw)
}

// binaryDecoder walks the node buffer, pulling values from the data buffer.
type binaryDecoder struct {
	compressed bool
	cs         charset
	nodes      *kaitai.Stream
	data       *dataReader
}

func decodeBinary(input []byte) (*Tree, format.EncodingType, error) {
	s := kaitai.NewStream(bytes.NewReader(input))
	header, err := s.ReadBytes(4)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}
	if header[0] != signature {
		return nil, 0, fmt.Errorf("%w: 0x%02X", ErrInvalidSignature, header[0])
	}

	var compressed bool
	switch header[1] {
	case compressedMarker:
		compressed = true
	case uncompressedMarker:
	default:
		return nil, 0, fmt.Errorf("%w: compression marker 0x%02X", ErrInvalidHeader, header[1])
	}

	if header[2] != ^header[3] {
		return nil, 0, fmt.Errorf("%w: encoding check byte 0x%02X does not match 0x%02X", ErrInvalidHeader, header[3], header[2])
	}
	enc, err := format.EncodingFromByte(header[2])
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	cs, err := charsetFor(enc)
	if err != nil {
		return nil, 0, err
	}

	nodeBuf, err := readSection(s, "node buffer")
	if err != nil {
		return nil, 0, err
	}
	dataBuf, err := readSection(s, "data buffer")
	if err != nil {
		return nil, 0, err
	}

	d := &binaryDecoder{
		compressed: compressed,
		cs:         cs,
		nodes:      kaitai.NewStream(bytes.NewReader(nodeBuf)),
		data:       &dataReader{buf: dataBuf},
	}
	root, err := d.readTree()
	if err != nil {
		return nil, 0, err
	}
	return &Tree{Root: root, Encoding: enc}, enc, nil
}

func readSection(s *kaitai.Stream, what string) ([]byte, error) {
	size, err := s.ReadU4be()
	if err != nil {
		return nil, fmt.Errorf("%w: %s length: %v", ErrTruncated, what, err)
	}
	pos, err := s.Pos()
	if err != nil {
		return nil, err
	}
	total, err := s.Size()
	if err != nil {
		return nil, err
	}
	if int64(size) > total-pos {
		return nil, fmt.Errorf("%w: %s declares %d bytes, %d remain", ErrTruncated, what, size, total-pos)
	}
	return s.ReadBytes(int(size))
}

func (d *binaryDecoder) readTree() (*Node, error) {
	var (
		root  *Node
		stack []*Node
	)
	for {
		marker, err := d.nodes.ReadU1()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: node buffer ended before file end marker", ErrTruncated)
			}
			return nil, err
		}

		switch marker {
		case markerFileEnd:
			if len(stack) != 0 {
				return nil, fmt.Errorf("%w: %d nodes left open", ErrMalformedTree, len(stack))
			}
			if root == nil {
				return nil, fmt.Errorf("%w: document has no root node", ErrMalformedTree)
			}
			return root, nil

		case markerNodeEnd:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: node end without open node", ErrMalformedTree)
			}
			stack = stack[:len(stack)-1]

		case markerAttribute:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: attribute outside a node", ErrMalformedTree)
			}
			name, err := d.readName()
			if err != nil {
				return nil, err
			}
			value, err := d.readString()
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", name, err)
			}
			top := stack[len(stack)-1]
			top.Attributes = append(top.Attributes, Attribute{Name: name, Value: value})

		default:
			n, err := d.readNode(marker)
			if err != nil {
				return nil, err
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: second root node %q", ErrMalformedTree, n.Name)
				}
				root = n
			} else {
				stack[len(stack)-1].Append(n)
			}
			if len(stack) == maxDepth {
				return nil, fmt.Errorf("%w: nodes nested deeper than %d", ErrMalformedTree, maxDepth)
			}
			stack = append(stack, n)
		}
	}
}

func (d *binaryDecoder) readNode(marker byte) (*Node, error) {
	n := &Node{
		Type:  NodeType(marker &^ arrayFlag),
		Array: marker&arrayFlag != 0,
	}
	if !n.Type.Valid() || n.Type == TypeVoid && n.Array {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownNodeType, marker)
	}
	if n.Array && !n.Type.Arrayable() {
		return nil, fmt.Errorf("%w: %s cannot be an array", ErrMalformedTree, n.Type)
	}

	name, err := d.readName()
	if err != nil {
		return nil, err
	}
	n.Name = name

	switch {
	case n.Type == TypeVoid:
	case n.Type == TypeString:
		n.Value, err = d.readString()
	case n.Type == TypeBinary:
		var raw []byte
		raw, err = d.data.readSized()
		if err == nil {
			n.Value = bytes.Clone(raw)
		}
	case n.Array:
		var raw []byte
		raw, err = d.data.readSized()
		if err == nil {
			n.Value, err = decodeFixed(n.Type, true, raw)
		}
	default:
		var raw []byte
		raw, err = d.data.readFixed(n.Type.Size())
		if err == nil {
			n.Value, err = decodeFixed(n.Type, false, raw)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", name, err)
	}
	return n, nil
}

func (d *binaryDecoder) readName() (string, error) {
	length, err := d.nodes.ReadU1()
	if err != nil {
		return "", fmt.Errorf("%w: name length: %v", ErrTruncated, err)
	}

	if d.compressed {
		if length == 0 {
			return "", fmt.Errorf("%w: empty sixbit name", ErrInvalidName)
		}
		packed, err := d.nodes.ReadBytes((int(length)*6 + 7) / 8)
		if err != nil {
			return "", fmt.Errorf("%w: sixbit name: %v", ErrTruncated, err)
		}
		return unpackSixbit(packed, int(length))
	}

	if length&uncompressedNameFlag == 0 || length&0x80 != 0 {
		return "", fmt.Errorf("%w: length byte 0x%02X", ErrInvalidName, length)
	}
	raw, err := d.nodes.ReadBytes(int(length&^uncompressedNameFlag) + 1)
	if err != nil {
		return "", fmt.Errorf("%w: name: %v", ErrTruncated, err)
	}
	name, err := d.cs.decode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidName, err)
	}
	return name, nil
}

func (d *binaryDecoder) readString() (string, error) {
	raw, err := d.data.readSized()
	if err != nil {
		return "", err
	}
	raw = bytes.TrimSuffix(raw, []byte{0})
	return d.cs.decode(raw)
}
