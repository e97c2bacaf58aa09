package xmlnode

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Parse reads one XML document from r into a Node tree. DOCTYPE
// declarations are rejected outright (RFC 6241 forbids DTDs in NETCONF
// content, and allowing one would let a malicious peer make this
// process fetch or expand arbitrary external entities).
func Parse(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	var root, cur *Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xmlnode: parse: %w", err)
		}
		switch t := tok.(type) {
		case xml.Directive:
			if strings.Contains(strings.ToUpper(string(t)), "DOCTYPE") {
				return nil, fmt.Errorf("xmlnode: DOCTYPE declarations are not permitted")
			}
		case xml.StartElement:
			n := &Node{Name: t.Name.Local, Namespace: t.Name.Space}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				n.AddAttribute(a.Name.Local, a.Value)
			}
			if cur != nil {
				cur.AppendChild(n)
			}
			if root == nil {
				root = n
			}
			cur = n
		case xml.EndElement:
			if cur != nil {
				cur.Body = strings.TrimSpace(cur.Body)
				cur = cur.Parent
			}
		case xml.CharData:
			if cur != nil {
				cur.Body += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("xmlnode: empty document")
	}
	return root, nil
}

// ParseString is a convenience wrapper over Parse for in-memory XML,
// which is how edit-config and load_keys-style callers usually have it.
func ParseString(s string) (*Node, error) {
	return Parse(strings.NewReader(s))
}

// Encode writes n (and its descendants) as XML to w. With pretty set,
// each level is indented two spaces per depth, matching the style the
// teacher's CLI formatting helpers used for human-facing output.
func Encode(w io.Writer, n *Node, pretty bool) error {
	bw := bufio.NewWriter(w)
	encodeNode(bw, n, 0, pretty)
	return bw.Flush()
}

func encodeNode(w *bufio.Writer, n *Node, depth int, pretty bool) {
	indent := ""
	if pretty {
		indent = strings.Repeat("  ", depth)
	}
	w.WriteString(indent)
	w.WriteByte('<')
	w.WriteString(n.Name)
	for _, a := range n.Attrs {
		w.WriteByte(' ')
		w.WriteString(a.Name)
		w.WriteString(`="`)
		w.WriteString(escapeAttr(a.Value))
		w.WriteByte('"')
	}
	if len(n.Children) == 0 && n.Body == "" {
		w.WriteString("/>")
		if pretty {
			w.WriteByte('\n')
		}
		return
	}
	w.WriteByte('>')
	if len(n.Children) == 0 {
		w.WriteString(escapeText(n.Body))
	} else {
		if pretty {
			w.WriteByte('\n')
		}
		for _, c := range n.Children {
			encodeNode(w, c, depth+1, pretty)
		}
		w.WriteString(indent)
	}
	w.WriteString("</")
	w.WriteString(n.Name)
	w.WriteByte('>')
	if pretty {
		w.WriteByte('\n')
	}
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func escapeAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// String renders n as compact (non-pretty) XML, for error messages and
// log lines that need a one-line representation of a subtree.
func String(n *Node) string {
	var sb strings.Builder
	bw := bufio.NewWriter(&sb)
	encodeNode(bw, n, 0, false)
	bw.Flush()
	return sb.String()
}
