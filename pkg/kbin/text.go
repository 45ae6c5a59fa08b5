package kbin

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/twinfer/kbinxml-plugin/format"
)

// Reserved attributes carrying node metadata in the text form.
const (
	attrType  = "__type"
	attrCount = "__count"
	attrSize  = "__size"
)

// element is the in-progress state of an open XML element.
type element struct {
	node        *Node
	typed       bool
	count       int
	size        int
	hasChildren bool
	text        strings.Builder
}

// maxDepth bounds element nesting in both document forms.
const maxDepth = 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decodeText(input []byte) (*Tree, format.EncodingType, error) {
	input = bytes.TrimPrefix(input, utf8BOM)
	// RawToken keeps namespace prefixes as written; end tags are matched
	// against the stack below.
	dec := xml.NewDecoder(bytes.NewReader(input))
	dec.Strict = true
	// Text input is already Unicode; the declared label only selects the
	// binary encoding.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) {
		return r, nil
	}

	declared := format.EncodingNone
	var (
		root  *Node
		stack []*element
	)
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			if len(stack) != 0 {
				return nil, 0, fmt.Errorf("%w: element %q is not closed", ErrMalformedTree, stack[len(stack)-1].node.Name)
			}
			break
		}
		if err != nil {
			return nil, 0, err
		}

		switch t := tok.(type) {
		case xml.ProcInst:
			if t.Target != "xml" {
				continue
			}
			if label, ok := declarationParam(string(t.Inst), "encoding"); ok {
				declared, err = EncodingFromLabel(label)
				if err != nil {
					return nil, 0, err
				}
			}

		case xml.StartElement:
			if len(stack) == 0 && root != nil {
				return nil, 0, fmt.Errorf("%w: more than one root element", ErrMalformedTree)
			}
			if len(stack) == maxDepth {
				return nil, 0, fmt.Errorf("%w: elements nested deeper than %d", ErrMalformedTree, maxDepth)
			}
			el, err := openElement(t)
			if err != nil {
				return nil, 0, err
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.hasChildren = true
				parent.node.Append(el.node)
			} else {
				root = el.node
			}
			stack = append(stack, el)

		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) != 0 {
					return nil, 0, fmt.Errorf("%w: text outside the root element", ErrMalformedTree)
				}
				continue
			}
			stack[len(stack)-1].text.Write(t)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, 0, fmt.Errorf("%w: end tag %q without open element", ErrMalformedTree, xmlName(t.Name))
			}
			el := stack[len(stack)-1]
			if name := xmlName(t.Name); name != el.node.Name {
				return nil, 0, fmt.Errorf("%w: end tag %q does not match %q", ErrMalformedTree, name, el.node.Name)
			}
			stack = stack[:len(stack)-1]
			if err := closeElement(el); err != nil {
				return nil, 0, err
			}
		}
	}

	if root == nil {
		return nil, 0, fmt.Errorf("%w: document has no root element", ErrMalformedTree)
	}
	return &Tree{Root: root, Encoding: declared}, declared, nil
}

func xmlName(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

func openElement(start xml.StartElement) (*element, error) {
	name := xmlName(start.Name)
	el := &element{node: NewNode(name), count: -1, size: -1}
	for _, a := range start.Attr {
		key := xmlName(a.Name)
		switch key {
		case attrType:
			t, ok := TypeFromName(a.Value)
			if !ok {
				return nil, fmt.Errorf("%w: %q on element %q", ErrUnknownNodeType, a.Value, name)
			}
			el.node.Type = t
			el.typed = true
		case attrCount, attrSize:
			v, err := strconv.Atoi(a.Value)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w: %s=%q on element %q", ErrMalformedTree, key, a.Value, name)
			}
			if key == attrCount {
				el.count = v
			} else {
				el.size = v
			}
		default:
			el.node.Attributes = append(el.node.Attributes, Attribute{Name: key, Value: a.Value})
		}
	}

	if el.count >= 0 {
		if !el.typed || !el.node.Type.Arrayable() {
			return nil, fmt.Errorf("%w: __count on element %q of type %s", ErrMalformedTree, name, el.node.Type)
		}
		el.node.Array = true
	}
	if el.size >= 0 && el.node.Type != TypeBinary {
		return nil, fmt.Errorf("%w: __size on element %q of type %s", ErrMalformedTree, name, el.node.Type)
	}
	return el, nil
}

func closeElement(el *element) error {
	n := el.node
	text := el.text.String()
	if el.hasChildren {
		text = strings.TrimSpace(text)
	}

	if !el.typed {
		if text != "" {
			n.Type = TypeString
			n.Value = text
		}
		return nil
	}
	if n.Type == TypeVoid {
		if strings.TrimSpace(text) != "" {
			return fmt.Errorf("%w: void element %q has text", ErrMalformedTree, n.Name)
		}
		return nil
	}

	v, err := parseValue(n.Type, text, el.count)
	if err != nil {
		return fmt.Errorf("%w: element %q of type %s: %v", ErrMalformedTree, n.Name, n.Type, err)
	}
	if b, ok := v.([]byte); ok && el.size >= 0 && len(b) != el.size {
		return fmt.Errorf("%w: element %q has __size %d but %d bytes", ErrMalformedTree, n.Name, el.size, len(b))
	}
	n.Value = v
	return nil
}

// declarationParam extracts a pseudo-attribute from an XML declaration body.
func declarationParam(inst, param string) (string, bool) {
	idx := strings.Index(inst, param)
	for idx >= 0 {
		rest := strings.TrimLeft(inst[idx+len(param):], " \t\r\n")
		if strings.HasPrefix(rest, "=") {
			rest = strings.TrimLeft(rest[1:], " \t\r\n")
			if len(rest) > 0 && (rest[0] == '"' || rest[0] == '\'') {
				if end := strings.IndexByte(rest[1:], rest[0]); end >= 0 {
					return rest[1 : end+1], true
				}
			}
			return "", false
		}
		next := strings.Index(inst[idx+len(param):], param)
		if next < 0 {
			break
		}
		idx += len(param) + next
	}
	return "", false
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\r", "&#xD;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
		"\r", "&#xD;", "\n", "&#xA;", "\t", "&#x9;")
)

const indentUnit = "  "

// encodeText renders tree as indented XML. Strings are written byte for
// byte; invalid UTF-8 carried by the tree is not repaired.
func encodeText(tree *Tree) ([]byte, error) {
	if tree == nil || tree.Root == nil {
		return nil, fmt.Errorf("%w: tree has no root node", ErrMalformedTree)
	}
	var buf bytes.Buffer
	if tree.Encoding != format.EncodingNone {
		fmt.Fprintf(&buf, "<?xml version=\"1.0\" encoding=\"%s\"?>\n", tree.Encoding)
	}
	if err := writeElement(&buf, tree.Root, 0); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func writeElement(buf *bytes.Buffer, n *Node, depth int) error {
	if depth >= maxDepth {
		return fmt.Errorf("%w: nodes nested deeper than %d", ErrMalformedTree, maxDepth)
	}
	value, err := formatValue(n)
	if err != nil {
		return fmt.Errorf("node %q: %w", n.Name, err)
	}

	indent := strings.Repeat(indentUnit, depth)
	buf.WriteString(indent)
	buf.WriteByte('<')
	buf.WriteString(n.Name)

	// Untyped elements with text read back as str, so only an empty string
	// needs an explicit type.
	if n.Type != TypeVoid && (n.Type != TypeString || value == "") {
		writeAttr(buf, attrType, n.Type.String())
	}
	if n.Type == TypeBinary {
		writeAttr(buf, attrSize, strconv.Itoa(len(value)/2))
	}
	if n.Array {
		items, _ := n.Value.([]any)
		writeAttr(buf, attrCount, strconv.Itoa(len(items)))
	}
	for _, a := range n.Attributes {
		writeAttr(buf, a.Name, a.Value)
	}

	if value == "" && len(n.Children) == 0 {
		buf.WriteString("/>\n")
		return nil
	}
	buf.WriteByte('>')
	textEscaper.WriteString(buf, value)
	if len(n.Children) == 0 {
		fmt.Fprintf(buf, "</%s>\n", n.Name)
		return nil
	}

	buf.WriteByte('\n')
	for _, child := range n.Children {
		if err := writeElement(buf, child, depth+1); err != nil {
			return err
		}
	}
	fmt.Fprintf(buf, "%s</%s>\n", indent, n.Name)
	return nil
}

func writeAttr(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(' ')
	buf.WriteString(name)
	buf.WriteString(`="`)
	attrEscaper.WriteString(buf, value)
	buf.WriteByte('"')
}
