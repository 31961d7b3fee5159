package webapi

import "github.com/cryguy/wptworker/internal/core"

// Bindings returns the API surface that test files see as globals. fetch
// is the only enumerable one.
func Bindings() []core.Binding {
	return []core.Binding{
		{Name: "fetch", Enumerable: true},
		{Name: "File"},
		{Name: "FormData"},
		{Name: "Headers"},
		{Name: "Request"},
		{Name: "Response"},
		{Name: "FileReader"},
		{Name: "WebSocket"},
		{Name: "CloseEvent"},
		{Name: "Blob"},
	}
}
