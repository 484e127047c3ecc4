package utils

import "regexp"

// -----------------------------------------------------------------------------

var appKeyPattern = regexp.MustCompile(`(/app/)([A-Za-z0-9]+)`)

// -----------------------------------------------------------------------------

// MaskAPIKey hides most of the application key inside an endpoint URL so it
// can be logged safely. Only the first four characters are kept.
func MaskAPIKey(endpoint string) string {
	return appKeyPattern.ReplaceAllStringFunc(endpoint, func(match string) string {
		sub := appKeyPattern.FindStringSubmatch(match)
		key := sub[2]
		if len(key) <= 4 {
			return sub[1] + "****"
		}
		return sub[1] + key[:4] + "****"
	})
}
