package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// idLength is the number of hex characters kept from the digest.
const idLength = 16

// Normalize lowercases each field, unifies line endings, collapses runs of
// spaces and tabs, and joins the fields with newlines so that "ab"+"c" and
// "a"+"bc" never collide.
func Normalize(question, answer, context string) string {
	clean := func(part string) string {
		part = strings.ReplaceAll(part, "\r\n", "\n")
		lines := strings.Split(strings.ToLower(part), "\n")
		for i, line := range lines {
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return strings.Join([]string{clean(question), clean(answer), clean(context)}, "\n")
}

// ID returns the stable identity of a card's content: the first 16 hex
// characters of the SHA-256 of its normalized form.
func ID(question, answer, context string) string {
	sum := sha256.Sum256([]byte(Normalize(question, answer, context)))
	return hex.EncodeToString(sum[:])[:idLength]
}
