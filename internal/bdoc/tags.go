package bdoc

import (
	"fmt"
	"strings"
)

var tagChains = map[string]string{
	"sql":       "sql_chain",
	"test":      "test_chain",
	"instagram": "instagram_chain",
}

// ResolveTag maps an external tag to its chain name.
func ResolveTag(tag string) (string, error) {
	name, ok := tagChains[strings.TrimSpace(tag)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTag, tag)
	}
	return name, nil
}
