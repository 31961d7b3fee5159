package harness

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/webapi"
)

// URLPath returns path relative to the corpus root as a rooted URL path.
// URLPath("/repo/test/wpt/tests", "/repo/test/wpt/tests/fetch/api/basic.html")
// is "/fetch/api/basic.html".
func URLPath(root, path string) (string, error) {
	root = filepath.ToSlash(filepath.Clean(root))
	p := filepath.ToSlash(filepath.Clean(path))
	if root == "/" {
		return p, nil
	}
	rest, ok := strings.CutPrefix(p, root)
	if !ok || (rest != "" && rest[0] != '/') {
		return "", fmt.Errorf("%w: %s", core.ErrOutsideCorpus, path)
	}
	if rest == "" {
		rest = "/"
	}
	return rest, nil
}

// GlobalOrigin resolves urlPath against base the way new URL(urlPath, base)
// does.
func GlobalOrigin(base, urlPath string) (string, error) {
	return webapi.ResolveURL(urlPath, base)
}

// DefaultHarnessPath is where the shared harness script lives for a corpus.
func DefaultHarnessPath(root string) string {
	return filepath.Join(root, "..", "runner", "resources", "testharness.cjs")
}
