package core

import "time"

// Job describes a single test file to execute.
type Job struct {
	InitScripts []string // sources evaluated before meta scripts, in order
	Meta        Meta
	Test        string // test file source
	URL         string // absolute base URL simulating the page location
	Path        string // filesystem path of the test file
}

// Meta holds the values declared by a test file's META comments.
type Meta struct {
	Scripts []string // script sources, in declaration order
	Timeout string   // "" or "long"
	Title   string
	Variant string
}

// Long reports whether the file asked for the extended timeout.
func (m Meta) Long() bool { return m.Timeout == "long" }

// LogEntry is a single console.log/warn/error captured from a test file.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// RunInfo carries execution metadata for a finished run.
type RunInfo struct {
	Logs     []LogEntry
	Duration time.Duration
}

// Binding is a global the bootstrap defines with an explicit property
// descriptor. Expr is the JS expression producing the value; it defaults
// to the current global of the same name.
type Binding struct {
	Name       string
	Expr       string
	Enumerable bool
}
