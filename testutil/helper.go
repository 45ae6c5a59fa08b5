// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Text is element character data. It has its own type so NumericComparer
// applies to element text only, never to names or attribute values.
type Text string

// Element is a namespace-free view of an XML element for semantic
// comparison. Text is whitespace-trimmed; declarations and comments are
// dropped.
type Element struct {
	Name     string
	Attrs    map[string]string
	Text     Text
	Children []*Element
}

// ParseXML builds an Element tree from an XML document.
func ParseXML(data []byte) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var (
		root  *Element
		stack []*Element
		texts []*strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local, Attrs: map[string]string{}}
			for _, a := range t.Attr {
				el.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else {
				root = el
			}
			stack = append(stack, el)
			texts = append(texts, &strings.Builder{})
		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}
		case xml.EndElement:
			el := stack[len(stack)-1]
			el.Text = Text(strings.TrimSpace(texts[len(texts)-1].String()))
			// str is the implied type and __size is derived from the value.
			if typ := el.Attrs["__type"]; typ == "str" || typ == "string" {
				delete(el.Attrs, "__type")
			}
			delete(el.Attrs, "__size")
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		}
	}
	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return root, nil
}

// ConvertToFloat64 parses a number written in decimal or float notation.
func ConvertToFloat64(s string) (float64, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i), true
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return float64(u), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	return 0, false
}

// NumericComparer compares element text field by field, treating fields
// that are both numbers as equal when their values match. This lets
// "1.5" and "1.500000" compare equal.
var NumericComparer = cmp.Comparer(func(x, y Text) bool {
	xs, ys := strings.Fields(string(x)), strings.Fields(string(y))
	if len(xs) != len(ys) {
		return x == y
	}
	for i := range xs {
		if xs[i] == ys[i] {
			continue
		}
		xf, xOk := ConvertToFloat64(xs[i])
		yf, yOk := ConvertToFloat64(ys[i])
		if !xOk || !yOk {
			return false
		}
		if math.Abs(xf-yf) > 1e-6*math.Max(1, math.Abs(xf)) {
			return false
		}
	}
	return true
})

// XMLDiff reports the semantic difference between two XML documents, or ""
// when they are equivalent.
func XMLDiff(want, got []byte) (string, error) {
	w, err := ParseXML(want)
	if err != nil {
		return "", fmt.Errorf("parsing expected document: %w", err)
	}
	g, err := ParseXML(got)
	if err != nil {
		return "", fmt.Errorf("parsing actual document: %w", err)
	}
	return cmp.Diff(w, g, NumericComparer), nil
}

// AssertXMLEquivalent fails the test when want and got differ in structure,
// attribute values or text content.
func AssertXMLEquivalent(t *testing.T, want, got string) {
	t.Helper()
	diff, err := XMLDiff([]byte(want), []byte(got))
	if err != nil {
		t.Fatalf("comparing XML: %v", err)
	}
	if diff != "" {
		t.Errorf("XML mismatch (-want +got):\n%s", diff)
	}
}
