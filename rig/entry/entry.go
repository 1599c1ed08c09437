// Package entry analyzes the HTML entry document of a web application.  It finds the module scripts that should be
// handed to the bundler and rewrites the document to load the bundled outputs instead.
package entry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/PunchlY/hotbuild/rig/bundle"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// A Document is a parsed entry document with its relative module scripts removed.
type Document struct {
	root        *html.Node
	entrypoints []string
}

// Parse parses src as an HTML document located in dir.  The parser accepts malformed and partial markup the way a
// browser would.
func Parse(src []byte, dir string) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf(`%w while parsing entry document`, err)
	}
	doc := &Document{root: root}
	head := find(root, atom.Head)
	if head == nil {
		return doc, nil
	}
	var scripts []*html.Node
	walk(head, func(n *html.Node) {
		if n.Type != html.ElementNode || n.DataAtom != atom.Script {
			return
		}
		if attr(n, `type`) != `module` {
			return
		}
		src := attr(n, `src`)
		if !strings.HasPrefix(src, `./`) && !strings.HasPrefix(src, `../`) {
			return
		}
		doc.entrypoints = append(doc.entrypoints, filepath.Join(dir, filepath.FromSlash(src)))
		scripts = append(scripts, n)
	})
	for _, n := range scripts {
		n.Parent.RemoveChild(n)
	}
	return doc, nil
}

// Entrypoints returns the absolute paths of the relative module scripts in document order.
func (doc *Document) Entrypoints() []string {
	return doc.entrypoints
}

// Render renders the document with a module script for each of the given routes appended to the head, in order.  Each
// diagnostic is rendered as indented JSON in a preformatted block at the start of the body.
func (doc *Document) Render(scripts []string, diagnostics []bundle.Diagnostic) ([]byte, error) {
	if head := find(doc.root, atom.Head); head != nil {
		for _, route := range scripts {
			head.AppendChild(&html.Node{
				Type:     html.ElementNode,
				Data:     `script`,
				DataAtom: atom.Script,
				Attr: []html.Attribute{
					{Key: `type`, Val: `module`},
					{Key: `src`, Val: route},
				},
			})
		}
	}
	if body := find(doc.root, atom.Body); body != nil {
		first := body.FirstChild
		for _, diagnostic := range diagnostics {
			var js bytes.Buffer
			enc := json.NewEncoder(&js)
			enc.SetEscapeHTML(false) // the renderer escapes text nodes
			enc.SetIndent(``, `  `)
			err := enc.Encode(diagnostic)
			if err != nil {
				return nil, fmt.Errorf(`%w while encoding diagnostic`, err)
			}
			pre := &html.Node{Type: html.ElementNode, Data: `pre`, DataAtom: atom.Pre}
			pre.AppendChild(&html.Node{Type: html.TextNode, Data: strings.TrimSuffix(js.String(), "\n")})
			body.InsertBefore(pre, first)
		}
	}
	var buf bytes.Buffer
	err := html.Render(&buf, doc.root)
	if err != nil {
		return nil, fmt.Errorf(`%w while rendering entry document`, err)
	}
	return buf.Bytes(), nil
}

func find(n *html.Node, a atom.Atom) (found *html.Node) {
	walk(n, func(n *html.Node) {
		if found == nil && n.Type == html.ElementNode && n.DataAtom == a {
			found = n
		}
	})
	return
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == `` && a.Key == key {
			return a.Val
		}
	}
	return ``
}
