package entity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Warning error

// ParseError is a TOML syntax or unknown-field error, tagged with the
// file it came from.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var kebabCaseRegexp = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

func isKebabCase(s string) bool {
	return kebabCaseRegexp.MatchString(s)
}

/*
 * decodeStrict parses a TOML document into v and rejects any key the
 * target does not declare. The corpus is security sensitive: a typoed
 * key silently ignored could mean an access grant silently dropped.
 *
 * Keys under an opaque prefix are exempt: those subtrees are consumed
 * by their own UnmarshalTOML, which validates their shape itself.
 */
func decodeStrict(data []byte, path string, v interface{}, opaque ...string) error {
	md, err := toml.Decode(string(data), v)
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}

	opaqueRoots := make(map[string]bool, len(opaque))
	for _, prefix := range opaque {
		opaqueRoots[prefix] = true
	}

	keys := []string{}
	for _, k := range md.Undecoded() {
		if len(k) > 0 && opaqueRoots[k[0]] {
			continue
		}
		keys = append(keys, k.String())
	}
	if len(keys) > 0 {
		return &ParseError{Path: path, Err: fmt.Errorf("unknown field(s): %s", strings.Join(keys, ", "))}
	}
	return nil
}
