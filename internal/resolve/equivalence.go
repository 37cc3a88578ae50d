package resolve

import "strings"

// VersionEquivalence treats version strings as equal when they match after
// stripping a leading "v" and trailing ".0" segments: "v2.14", "2.14" and
// "2.14.0" all compare equal.
func VersionEquivalence(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return false
	}
	return normalizeVersion(as) == normalizeVersion(bs)
}

// FoldEquivalence compares strings case-insensitively with surrounding
// whitespace ignored. Useful for component and environment names.
func FoldEquivalence(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(as), strings.TrimSpace(bs))
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	for strings.HasSuffix(v, ".0") {
		v = strings.TrimSuffix(v, ".0")
	}
	return v
}
