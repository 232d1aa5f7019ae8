// Package signature derives canonical issue signatures from classified
// conversation fields. A signature is the identity key for the orphan/story
// lifecycle: the same underlying issue must always normalize to the same
// string, across runs and process restarts.
package signature

import (
	"strings"
	"unicode"
)

// maxDescriptorTokens bounds how much of the issue descriptor contributes to
// the signature. Longer descriptors describe the same issue with more words;
// keeping only the leading tokens keeps the identity stable.
const maxDescriptorTokens = 4

// fallback parts used when the classifier produced empty fields. Canonicalize
// is total: it never fails, it degrades to a generic bucket instead.
const (
	fallbackArea       = "uncategorized"
	fallbackDescriptor = "general"
)

// synonyms maps common classifier variants onto one canonical token.
// The table is fixed: changing it renames signatures, which is a data
// migration (orphans keep original_signature for that case).
var synonyms = map[string]string{
	"bugs":          "bug",
	"broken":        "bug",
	"crash":         "bug",
	"crashes":       "bug",
	"error":         "bug",
	"errors":        "bug",
	"fails":         "failing",
	"failed":        "failing",
	"failure":       "failing",
	"missing":       "missing",
	"lost":          "missing",
	"gone":          "missing",
	"disappeared":   "missing",
	"slow":          "slow",
	"slowness":      "slow",
	"lag":           "slow",
	"laggy":         "slow",
	"latency":       "slow",
	"cant":          "cannot",
	"cant_":         "cannot",
	"unable":        "cannot",
	"sync":          "sync",
	"syncing":       "sync",
	"synchronize":   "sync",
	"synchronizing": "sync",
	"login":         "login",
	"signin":        "login",
	"sign_in":       "login",
	"log_in":        "login",
}

// Canonicalize derives the issue signature for a (product area, component,
// descriptor) triple. It is pure and deterministic: no I/O, no clock, no
// randomness. Empty inputs fall back to a generic signature rather than
// failing.
func Canonicalize(productArea, component, descriptor string) string {
	area := normalizePart(productArea)
	comp := normalizePart(component)
	desc := normalizeDescriptor(descriptor)

	if area == "" && comp == "" {
		area = fallbackArea
	}
	if desc == "" {
		desc = fallbackDescriptor
	}

	parts := make([]string, 0, 3)
	if area != "" {
		parts = append(parts, area)
	}
	// Skip the component when it repeats the product area (classifiers often
	// emit "pinterest"/"pinterest").
	if comp != "" && comp != area {
		parts = append(parts, comp)
	}
	parts = append(parts, desc)

	return strings.Join(parts, "_")
}

// normalizePart lowercases and collapses a single field into underscore-joined
// tokens with synonyms applied.
func normalizePart(s string) string {
	tokens := tokenize(s)
	return strings.Join(tokens, "_")
}

// normalizeDescriptor normalizes the free-text issue descriptor, bounding it
// to the leading tokens so verbose classifier output converges.
func normalizeDescriptor(s string) string {
	tokens := tokenize(s)
	if len(tokens) > maxDescriptorTokens {
		tokens = tokens[:maxDescriptorTokens]
	}
	return strings.Join(tokens, "_")
}

// stopwords dropped during tokenization. These carry no identity: "the pins
// are missing" and "pins missing" must produce the same signature.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"my": true, "our": true, "their": true, "his": true, "her": true,
	"in": true, "on": true, "at": true, "of": true, "to": true,
	"for": true, "with": true, "from": true, "and": true, "or": true,
	"it": true, "its": true, "this": true, "that": true,
	"when": true, "i": true, "we": true, "user": true, "users": true,
}

func tokenize(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		if canonical, ok := synonyms[f]; ok {
			f = canonical
		}
		tokens = append(tokens, f)
	}
	return tokens
}
