package transaction

import (
	"strings"

	"github.com/adalundhe/notepatch/core/content"
	"github.com/adalundhe/notepatch/core/versioning"
)

// checkPrecondition compares the caller's expected version with the stored
// one. An empty expectation or "*" always passes.
func checkPrecondition(expected, current string) error {
	expected = strings.TrimSpace(expected)
	if expected == "" || expected == "*" {
		return nil
	}
	if versioning.TokensMatch(expected, current) {
		return nil
	}
	return content.Errorf(content.CodePreconditionFailed,
		"expected version %s, current version is %s", expected, current)
}
