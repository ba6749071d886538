package utils

// GlobMatch reports whether s matches pattern, where '*' matches any
// sequence of characters (including ':') and '?' matches exactly one.
// This mirrors redis KEYS/PSUBSCRIBE glob semantics so the in-memory
// cache and bus behave like their redis counterparts.
func GlobMatch(pattern, s string) bool {
	pi, si := 0, 0
	starP, starS := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			starP = pi
			starS = si
			pi++
		case starP >= 0:
			starS++
			si = starS
			pi = starP + 1
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}

	return pi == len(pattern)
}
