package wptfile

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var targets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"es2023": api.ES2023,
	"es2024": api.ES2024,
	"esnext": api.ESNext,
}

// Transform lowers source to the given ECMAScript target with esbuild.
// The output stays a classic script so top-level declarations remain
// globals.
func Transform(source, target, name string) (string, error) {
	t, ok := targets[strings.ToLower(target)]
	if !ok {
		return "", fmt.Errorf("unknown transform target %q", target)
	}
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     t,
		Sourcefile: name,
	})
	if len(result.Errors) > 0 {
		msg := result.Errors[0]
		if msg.Location != nil {
			return "", fmt.Errorf("transforming %s:%d:%d: %s", name, msg.Location.Line, msg.Location.Column, msg.Text)
		}
		return "", fmt.Errorf("transforming %s: %s", name, msg.Text)
	}
	return string(result.Code), nil
}
