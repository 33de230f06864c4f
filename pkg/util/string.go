package util

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9\p{Han}]+`)

// GenerateSlug creates a URL-friendly slug from title
func GenerateSlug(title string) string {
	slug := strings.ToLower(title)
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	if utf8.RuneCountInString(slug) > 50 {
		slug = string([]rune(slug)[:50])
		slug = strings.Trim(slug, "-")
	}

	return slug
}

// ParseTags parses tag strings into arrays
func ParseTags(tagStr string) []string {
	if tagStr == "" {
		return []string{}
	}

	tagStr = strings.Trim(tagStr, "[]")

	var cleanTags []string
	for _, tag := range strings.Split(tagStr, ",") {
		tag = strings.TrimSpace(tag)
		tag = strings.Trim(tag, "\"'")
		if tag != "" {
			cleanTags = append(cleanTags, tag)
		}
	}

	return cleanTags
}

// Hashtags turns tags into "#CamelCase" hashtags, dropping characters platforms reject.
func Hashtags(tags []string) []string {
	var hashtags []string
	seen := make(map[string]bool)

	for _, tag := range tags {
		var b strings.Builder
		upper := true
		for _, r := range tag {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				upper = true
				continue
			}
			if upper {
				r = unicode.ToUpper(r)
				upper = false
			}
			b.WriteRune(r)
		}
		if b.Len() == 0 {
			continue
		}
		hashtag := "#" + b.String()
		if !seen[strings.ToLower(hashtag)] {
			seen[strings.ToLower(hashtag)] = true
			hashtags = append(hashtags, hashtag)
		}
	}

	return hashtags
}

// Truncate shortens s to at most limit runes, ending with an ellipsis when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}

	runes := []rune(s)[:limit-1]
	return strings.TrimRightFunc(string(runes), unicode.IsSpace) + "…"
}

// ComposeShort builds a short-form status: body, then hashtags while they fit, then link.
// The result never exceeds limit runes.
func ComposeShort(body, link string, hashtags []string, limit int) string {
	reserved := 0
	if link != "" {
		reserved = utf8.RuneCountInString(link) + 1
	}

	room := limit - reserved
	if room <= 0 {
		return Truncate(link, limit)
	}

	text := Truncate(strings.TrimSpace(body), room)
	for _, tag := range hashtags {
		if utf8.RuneCountInString(text)+1+utf8.RuneCountInString(tag)+reserved > limit {
			break
		}
		text += " " + tag
	}

	if link != "" {
		if text == "" {
			return Truncate(link, limit)
		}
		text += "\n" + link
	}

	return text
}
