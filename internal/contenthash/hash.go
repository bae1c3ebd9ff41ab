// Package contenthash computes change-detection fingerprints of page
// content. The hash is deterministic for semantically-equal content: object
// key order never affects it, and whitespace differences are normalized
// away. It is not a security hash.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hash returns the hex-encoded fingerprint of content. Strings are hashed
// directly. For objects, a markdown field is preferred, then fullText;
// otherwise the object is serialized with keys sorted lexicographically so
// field reordering never changes the hash. Whitespace runs are collapsed to
// single spaces and the result trimmed before hashing.
func Hash(content any) string {
	return hash(normalize(content))
}

func normalize(content any) string {
	switch v := content.(type) {
	case string:
		return collapseWhitespace(v)
	case nil:
		return ""
	}

	obj := toMap(content)
	if obj != nil {
		for _, key := range []string{"markdown", "fullText"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return collapseWhitespace(s)
			}
		}
		// json.Marshal emits map keys in sorted order at every level once
		// the value has been round-tripped through map[string]any.
		data, err := json.Marshal(obj)
		if err == nil {
			return collapseWhitespace(string(data))
		}
	}

	return collapseWhitespace(fmt.Sprintf("%v", content))
}

// toMap round-trips a value through JSON so structs and maps alike become
// map[string]any with deterministic key ordering on re-marshal.
func toMap(content any) map[string]any {
	data, err := json.Marshal(content)
	if err != nil {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	return obj
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// NextVersion bumps a dotted-decimal version by 0.1. Unparseable input
// restarts at the initial version.
func NextVersion(version string) string {
	v, err := strconv.ParseFloat(version, 64)
	if err != nil {
		return "1.0"
	}
	return strconv.FormatFloat(v+0.1, 'f', 1, 64)
}
