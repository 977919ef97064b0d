package fetcher

import (
	"regexp"
	"strings"
)

// slugPattern extracts the product slug from a StockX URL, tolerating an
// optional two-letter locale segment (stockx.com/fr/some-product).
var slugPattern = regexp.MustCompile(`stockx\.com/(?:[a-z]{2}/)?([a-zA-Z0-9-]+)(?:\?|$|/)`)

// SlugFromURL extracts the marketplace slug from a StockX product URL.
func SlugFromURL(url string) (string, bool) {
	match := slugPattern.FindStringSubmatch(url)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// SlugToName derives a display name from a slug,
// e.g. labubu-the-monsters-zimomo -> Labubu The Monsters Zimomo.
func SlugToName(slug string) string {
	words := strings.Split(slug, "-")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
