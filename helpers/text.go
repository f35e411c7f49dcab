package helpers

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/purell"
	"github.com/spaolacci/murmur3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func DedupeStrings(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range in {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

// returns a fast, compact hash of a string
//
// current implementation uses murmur3, default seed, and hex encoding
func HashOfString(s string) string {
	val := murmur3.Sum64([]byte(s))
	return fmt.Sprintf("%016x", val)
}

// based on: https://stackoverflow.com/a/48769624, with no trailing period allowed
var urlRegex = regexp.MustCompile(`(?:(?:https?|ftp):\/\/)?[\w/\-?=%.]+\.[\w/\-&?=%.]*[\w/\-&?=%]+`)

func ExtractTextURLs(raw string) []string {
	return urlRegex.FindAllString(raw, -1)
}

// NormalizeURL lower-cases and canonicalizes a URL so that allowlist lookups
// aren't defeated by trivial variations. Returns the input on parse failure.
func NormalizeURL(raw string) string {
	u := raw
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	out, err := purell.NormalizeURLString(u, purell.FlagsUsuallySafeGreedy|purell.FlagLowercaseHost)
	if err != nil {
		return raw
	}
	return out
}

// URLDomain extracts the bare host from a (possibly schemeless) URL string.
func URLDomain(raw string) string {
	u := NormalizeURL(raw)
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	return strings.ToLower(u)
}

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// TokenizeText splits free-form text into lower-cased, unicode-normalized
// tokens, suitable for fast matching against known token sets.
func TokenizeText(text string) []string {
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	split := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(normFunc, split)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		folded = split
	}
	return strings.Fields(folded)
}
