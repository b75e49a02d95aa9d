package normalize

import "strings"

func Trim(value string) string {
	return strings.TrimSpace(value)
}

func Lower(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func EqualFoldTrimmed(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ContainsFold reports whether haystack contains needle, ignoring case and
// surrounding whitespace. An empty needle never matches.
func ContainsFold(haystack, needle string) bool {
	needle = Lower(needle)
	if needle == "" {
		return false
	}
	return strings.Contains(Lower(haystack), needle)
}

// HasPrefixFold reports whether value starts with prefix, ignoring case and
// surrounding whitespace. An empty prefix never matches.
func HasPrefixFold(value, prefix string) bool {
	prefix = Lower(prefix)
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(Lower(value), prefix)
}
