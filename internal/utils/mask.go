package utils

import "strings"

// MaskSecret keeps a short prefix of a token so log lines stay correlatable without leaking it.
func MaskSecret(s string) string {
	const visible = 4
	if len(s) <= visible*2 {
		return strings.Repeat("*", 5)
	}
	return s[:visible] + strings.Repeat("*", 5)
}
