package files

import (
	"regexp"
	"strings"
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	repeatHyphen = regexp.MustCompile(`-+`)
)

// Slugify converts a display name to a valid filename
// Examples:
//
//	"Lead Quiz" → "lead-quiz"
//	"Spring Sale #1!" → "spring-sale-1"
func Slugify(displayName string) string {
	slug := strings.ToLower(displayName)
	slug = nonSlugChars.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	slug = repeatHyphen.ReplaceAllString(slug, "-")

	if slug == "" {
		slug = "unnamed"
	}

	return slug
}

// ExportFileName returns the default export file name for a funnel.
func ExportFileName(funnelName string) string {
	return Slugify(funnelName) + ".yaml"
}
