// Package fileid derives deterministic IDs for source documents, their chunks and facts,
// so rebuilding a layer from the same inputs yields the same metadata.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// SourceID returns a stable, readable ID for the document at path: a slug of the file
// name followed by a short hash of the cleaned path, e.g. "park-hours-dez2025-3f9a1c".
// Same path always yields the same ID.
func SourceID(path string) string {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return slug(name) + "-" + shortHash(filepath.Clean(path), 6)
}

// ChunkID returns the ID of the i-th chunk of a source.
func ChunkID(sourceID string, i int) string {
	return fmt.Sprintf("%s-%04d", sourceID, i)
}

// ContentID returns prefix followed by a hash of parts; used for facts that carry no ID.
func ContentID(prefix string, parts ...string) string {
	return prefix + "-" + shortHash(strings.Join(parts, "\x1f"), 12)
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "source"
	}
	return out
}
