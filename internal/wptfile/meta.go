package wptfile

import (
	"bufio"
	"strings"
)

// Directives are the values declared by a file's leading META comments.
type Directives struct {
	Scripts  []string // script references, in declaration order
	Timeout  string
	Title    string
	Variants []string
}

// ParseMeta reads the "// META: key=value" lines at the top of a script.
// Blank lines between them are allowed; the first other line ends the
// block. Unknown keys are ignored.
func ParseMeta(src string) Directives {
	var d Directives
	sc := bufio.NewScanner(strings.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rest, ok := strings.CutPrefix(line, "//")
		if !ok {
			break
		}
		rest, ok = strings.CutPrefix(strings.TrimSpace(rest), "META:")
		if !ok {
			break
		}
		key, value, ok := strings.Cut(strings.TrimSpace(rest), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "script":
			d.Scripts = append(d.Scripts, value)
		case "timeout":
			d.Timeout = value
		case "title":
			d.Title = value
		case "variant":
			d.Variants = append(d.Variants, value)
		}
	}
	return d
}
