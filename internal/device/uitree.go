package device

import (
	"bytes"
	"fmt"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/hochfrequenz/sim-topup/internal/domain"
)

// Marker is a compiled XPath query identifying an on-screen element
type Marker struct {
	src  string
	expr *xpath.Expr
}

// MustCompileMarker compiles an XPath marker and panics on invalid syntax
func MustCompileMarker(src string) Marker {
	return Marker{src: src, expr: xpath.MustCompile(src)}
}

func (m Marker) String() string {
	return m.src
}

// UITree is a parsed uiautomator hierarchy dump
type UITree struct {
	raw []byte
	doc *xmlquery.Node
}

// ParseUITree parses uiautomator XML output
func ParseUITree(raw []byte) (*UITree, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return nil, fmt.Errorf("%w: ui dump is not xml", domain.ErrTransport)
	}

	doc, err := xmlquery.Parse(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing ui dump: %v", domain.ErrTransport, err)
	}
	return &UITree{raw: trimmed, doc: doc}, nil
}

// Matches reports whether any node satisfies the marker
func (t *UITree) Matches(m Marker) bool {
	if t == nil || m.expr == nil {
		return false
	}
	return xmlquery.QuerySelector(t.doc, m.expr) != nil
}

// Raw returns the XML the tree was parsed from
func (t *UITree) Raw() []byte {
	if t == nil {
		return nil
	}
	return t.raw
}
