package wptfile

import (
	"io"
	"strings"

	gohtml "golang.org/x/net/html"
)

// Page is what the loader needs from an .html test.
type Page struct {
	Title   string
	Timeout string
	Scripts []string // <script src> references, harness scripts excluded
	Inline  []string // inline <script> bodies, in document order
}

// harnessScripts are provided by the bootstrap and never loaded from a page.
var harnessScripts = map[string]bool{
	"testharness.js":       true,
	"testharnessreport.js": true,
}

func isHarnessScript(src string) bool {
	name := src
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return harnessScripts[name]
}

// ParseHTML tokenizes an .html test file and collects its scripts, title
// and timeout.
func ParseHTML(r io.Reader) (*Page, error) {
	page := &Page{}
	z := gohtml.NewTokenizer(r)

	var inScript, inTitle bool
	var body strings.Builder
	for {
		tt := z.Next()
		switch tt {
		case gohtml.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			return page, nil
		case gohtml.StartTagToken, gohtml.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script":
				src, hasSrc := attr(tok.Attr, "src")
				if hasSrc {
					if !isHarnessScript(src) {
						page.Scripts = append(page.Scripts, src)
					}
					continue
				}
				if typ, ok := attr(tok.Attr, "type"); ok && !isJavaScriptType(typ) {
					continue
				}
				if tt == gohtml.StartTagToken {
					inScript = true
					body.Reset()
				}
			case "title":
				inTitle = tt == gohtml.StartTagToken
			case "meta":
				if name, _ := attr(tok.Attr, "name"); name == "timeout" {
					page.Timeout, _ = attr(tok.Attr, "content")
				}
			}
		case gohtml.TextToken:
			switch {
			case inScript:
				body.Write(z.Text())
			case inTitle:
				page.Title += strings.TrimSpace(string(z.Text()))
			}
		case gohtml.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script":
				if inScript {
					page.Inline = append(page.Inline, body.String())
					inScript = false
				}
			case "title":
				inTitle = false
			}
		}
	}
}

func attr(attrs []gohtml.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func isJavaScriptType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	}
	return false
}
