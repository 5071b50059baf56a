package sqlinline

import (
	"regexp"
	"strings"
	"testing"
)

var markerPattern = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func TestQueriesCarryUniqueMarkers(t *testing.T) {
	seen := map[string]string{}
	for name, query := range All {
		first := strings.TrimSpace(strings.SplitN(strings.TrimSpace(query), "\n", 2)[0])
		if !markerPattern.MatchString(first) {
			t.Fatalf("%s: first line %q is not a valid marker", name, first)
		}
		if other, ok := seen[first]; ok {
			t.Fatalf("%s reuses marker of %s", name, other)
		}
		seen[first] = name
	}
}
