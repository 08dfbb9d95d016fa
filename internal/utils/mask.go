package utils

// MaskSecret keeps the last four characters of s.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return "*****"
	}
	return "*****" + s[len(s)-4:]
}
