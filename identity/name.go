package identity

import (
	"strings"

	"github.com/halvorsen/parlor/parlorerr"
)

// AnonPrefix marks a name as ephemeral: such a name is never persisted.
const AnonPrefix = "anon"

// ValidateBareName enforces spec.md §3's bare-name constraints: no '(', ')',
// '|', and no leading/trailing whitespace (the tab suffix is the sole
// source of parens on the wire). Grounded on the shape of the teacher's
// util.ValidatePeerName, generalized to the exact reserved character set
// this spec names.
func ValidateBareName(name string) (string, error) {
	if name == "" {
		return "", parlorerr.New(parlorerr.KindConfig, "peer name is empty", nil)
	}
	if strings.TrimSpace(name) != name {
		return "", parlorerr.New(parlorerr.KindConfig, "peer name has leading or trailing whitespace", nil)
	}
	if strings.ContainsAny(name, "()|") {
		return "", parlorerr.New(parlorerr.KindConfig, "peer name must not contain '(', ')' or '|'", nil)
	}
	return name, nil
}

// IsAnonymous reports whether name carries the reserved anonymous prefix.
func IsAnonymous(name string) bool {
	return strings.HasPrefix(name, AnonPrefix)
}

// DisplayName renders the wire-advertised name: bare name, optionally
// suffixed with "(tabID)" when tabID is non-empty.
func DisplayName(bareName, tabID string) string {
	if tabID == "" {
		return bareName
	}
	return bareName + "(" + tabID + ")"
}
