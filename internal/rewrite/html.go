// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rewrite

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// rewritableAttrs maps tag name to the attributes subject to rewriting.
// srcset attributes get candidate-list treatment.
var rewritableAttrs = map[string][]string{
	"a":      {"href"},
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src", "srcset"},
	"source": {"src", "srcset"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"iframe": {"src"},
	"form":   {"action"},
}

// HTML rewrites a UTF-8 HTML document: <base> elements are removed, in-origin
// references in the known attribute set are redirected under the mirror path,
// and a noindex robots meta is injected when <head> carries none.
func HTML(body []byte, t Target) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var baseNodes []*html.Node
	var head *html.Node
	hasRobotsMeta := false

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name := strings.ToLower(n.Data)
			switch name {
			case "base":
				baseNodes = append(baseNodes, n)
			case "head":
				if head == nil {
					head = n
				}
			case "meta":
				if metaName(n) == "robots" {
					hasRobotsMeta = true
				}
			}
			if attrs, ok := rewritableAttrs[name]; ok {
				rewriteAttrs(n, attrs, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, n := range baseNodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	if head != nil && !hasRobotsMeta {
		meta := &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Meta,
			Data:     "meta",
			Attr: []html.Attribute{
				{Key: "name", Val: "robots"},
				{Key: "content", Val: "noindex,nofollow"},
			},
		}
		head.InsertBefore(meta, head.FirstChild)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func rewriteAttrs(n *html.Node, attrs []string, t Target) {
	for i := range n.Attr {
		key := strings.ToLower(n.Attr[i].Key)
		for _, want := range attrs {
			if key != want {
				continue
			}
			if key == "srcset" {
				if v, ok := t.rewriteSrcset(n.Attr[i].Val); ok {
					n.Attr[i].Val = v
				}
			} else if v, ok := t.rewriteRef(n.Attr[i].Val); ok {
				n.Attr[i].Val = v
			}
		}
	}
}

func metaName(n *html.Node) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, "name") {
			return strings.ToLower(strings.TrimSpace(a.Val))
		}
	}
	return ""
}
