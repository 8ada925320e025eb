package htmlutil

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "tr": true, "li": true, "br": true,
	"table": true, "section": true, "article": true, "h1": true,
	"h2": true, "h3": true, "h4": true, "ul": true, "ol": true,
}

// BlockText renders an html document as plain text with one line per
// block-level element, which is what the receipt parser expects from
// html receipts. scripts and styles are stripped.
func BlockText(doc []byte) string {
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return ""
	}
	parsed.Find("script, style").Remove()

	body := parsed.Find("body")
	if body.Length() == 0 {
		return ""
	}

	var buffer bytes.Buffer
	for _, n := range body.Nodes {
		blockTextRecursive(n, &buffer)
	}

	lines := strings.Split(buffer.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func blockTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	isBlock := node.Type == html.ElementNode && blockElements[node.Data]
	if isBlock {
		buffer.WriteString("\n")
	}
	child := node.FirstChild
	for child != nil {
		blockTextRecursive(child, buffer)
		child = child.NextSibling
	}
	if isBlock {
		buffer.WriteString("\n")
	}
}
