package fetch

import (
	"bytes"
	"regexp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var whitespace = regexp.MustCompile(`\s+`)

// CanonicalHTML strips comments, scripts and noscript blocks, keeps only the
// body's inner markup and collapses whitespace. Unparseable input is only
// whitespace-collapsed.
func CanonicalHTML(b []byte) []byte {
	doc, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		return collapse(b)
	}
	strip(doc)

	var buf bytes.Buffer
	if body := findBody(doc); body != nil {
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(&buf, c); err != nil {
				return collapse(b)
			}
		}
	} else if err := html.Render(&buf, doc); err != nil {
		return collapse(b)
	}
	return collapse(buf.Bytes())
}

func collapse(b []byte) []byte {
	return bytes.TrimSpace(whitespace.ReplaceAll(b, []byte(" ")))
}

func strip(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode || c.Type == html.ElementNode && (c.DataAtom == atom.Script || c.DataAtom == atom.Noscript) {
			n.RemoveChild(c)
		} else {
			strip(c)
		}
		c = next
	}
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
