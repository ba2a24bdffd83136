package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/meridian-group/scorecard-cli/internal/model"
)

var lowerCaser = cases.Lower(language.Und)

// NormalizeCountry canonicalizes a country name for keying: Unicode
// lowercase, collapsed whitespace, spaces replaced with hyphens. "New
// Zealand" and " new  zealand " both normalize to "new-zealand".
func NormalizeCountry(name string) string {
	lowered := lowerCaser.String(strings.TrimSpace(name))
	return strings.Join(strings.Fields(lowered), "-")
}

// Fingerprint derives the content-addressed cache key for one extraction:
// parameter, normalized country, and the sorted per-document content hashes.
// Document order never changes the key.
func Fingerprint(parameterID, country string, docs []model.Document) string {
	hashes := make([]string, len(docs))
	for i, d := range docs {
		sum := sha256.Sum256([]byte(d.Content))
		hashes[i] = hex.EncodeToString(sum[:])[:16]
	}
	sort.Strings(hashes)

	return parameterID + ":" + NormalizeCountry(country) + ":" + strings.Join(hashes, "-")
}
