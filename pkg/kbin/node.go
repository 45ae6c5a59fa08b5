package kbin

import (
	"fmt"

	"github.com/twinfer/kbinxml-plugin/format"
)

// NodeType identifies the value type carried by a node.
type NodeType byte

const (
	TypeVoid   NodeType = 1
	TypeS8     NodeType = 2
	TypeU8     NodeType = 3
	TypeS16    NodeType = 4
	TypeU16    NodeType = 5
	TypeS32    NodeType = 6
	TypeU32    NodeType = 7
	TypeS64    NodeType = 8
	TypeU64    NodeType = 9
	TypeBinary NodeType = 10
	TypeString NodeType = 11
	TypeIP4    NodeType = 12
	TypeTime   NodeType = 13
	TypeFloat  NodeType = 14
	TypeDouble NodeType = 15
	TypeBool   NodeType = 52
)

// Markers that share the type byte position in the node buffer.
const (
	markerAttribute byte = 46
	markerNodeEnd   byte = 190
	markerFileEnd   byte = 191
	arrayFlag       byte = 0x40
)

type typeInfo struct {
	name string
	size int // 0 for variable-sized types
}

var typeTable = map[NodeType]typeInfo{
	TypeVoid:   {"void", 0},
	TypeS8:     {"s8", 1},
	TypeU8:     {"u8", 1},
	TypeS16:    {"s16", 2},
	TypeU16:    {"u16", 2},
	TypeS32:    {"s32", 4},
	TypeU32:    {"u32", 4},
	TypeS64:    {"s64", 8},
	TypeU64:    {"u64", 8},
	TypeBinary: {"bin", 0},
	TypeString: {"str", 0},
	TypeIP4:    {"ip4", 4},
	TypeTime:   {"time", 4},
	TypeFloat:  {"float", 4},
	TypeDouble: {"double", 8},
	TypeBool:   {"bool", 1},
}

var typeNames = func() map[string]NodeType {
	m := make(map[string]NodeType, len(typeTable)+2)
	for t, info := range typeTable {
		m[info.name] = t
	}
	// Aliases accepted in text documents.
	m["binary"] = TypeBinary
	m["string"] = TypeString
	m["f"] = TypeFloat
	m["d"] = TypeDouble
	m["b"] = TypeBool
	return m
}()

// TypeFromName resolves a __type attribute value.
func TypeFromName(name string) (NodeType, bool) {
	t, ok := typeNames[name]
	return t, ok
}

func (t NodeType) String() string {
	if info, ok := typeTable[t]; ok {
		return info.name
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// Size returns the encoded width of one element, or 0 for variable-sized
// and void types.
func (t NodeType) Size() int {
	return typeTable[t].size
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	_, ok := typeTable[t]
	return ok
}

// Arrayable reports whether t may be stored as an array.
func (t NodeType) Arrayable() bool {
	return t.Size() > 0
}

// Attribute is a string-valued attribute of a node.
type Attribute struct {
	Name  string
	Value string
}

// Node is one element of a KBin tree.
//
// Value holds the Go representation of the node's data: int8 … uint64,
// float32, float64, bool, uint32 for time, netip.Addr for ip4, string and
// []byte. Array nodes hold a []any of element values. Void nodes hold nil.
type Node struct {
	Name       string
	Type       NodeType
	Array      bool
	Value      any
	Attributes []Attribute
	Children   []*Node
}

// Tree is a parsed node collection together with its document encoding.
type Tree struct {
	Root     *Node
	Encoding format.EncodingType
}

// NewNode returns a void node.
func NewNode(name string) *Node {
	return &Node{Name: name, Type: TypeVoid}
}

// NewValueNode returns a scalar node of type t.
func NewValueNode(name string, t NodeType, value any) *Node {
	return &Node{Name: name, Type: t, Value: value}
}

// Append adds child to n and returns child.
func (n *Node) Append(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// Child returns the first direct child named name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets or replaces the named attribute, keeping insertion order.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			n.Attributes[i].Value = value
			return
		}
	}
	n.Attributes = append(n.Attributes, Attribute{Name: name, Value: value})
}
