// Package revs generates and parses revision tokens of the form
// "<generation>-<16 hex digits>".
package revs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Next derives the revision that follows prev for the given encoded body.
// An empty prev starts at generation 1.
func Next(prev string, body []byte) string {
	gen := 0
	if prev != "" {
		if g, _, err := Parse(prev); err == nil {
			gen = g
		}
	}
	d := xxhash.New()
	_, _ = d.WriteString(prev)
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(body)
	return fmt.Sprintf("%d-%016x", gen+1, d.Sum64())
}

// Parse splits a revision into generation and hash.
func Parse(rev string) (int, string, error) {
	g, h, ok := strings.Cut(rev, "-")
	if !ok || h == "" {
		return 0, "", fmt.Errorf("malformed revision %q", rev)
	}
	gen, err := strconv.Atoi(g)
	if err != nil || gen < 1 {
		return 0, "", fmt.Errorf("malformed revision %q", rev)
	}
	return gen, h, nil
}

func Generation(rev string) int {
	g, _, err := Parse(rev)
	if err != nil {
		return 0
	}
	return g
}
