package pin

import (
	"encoding/json"
	"net/url"
	"strings"
	"unicode"
)

// ParseRequestData extracts the JSON "data" query parameter the frontend
// sends with its search API calls. The decoded map is the request template
// for API-mode paging; an absent or malformed parameter yields nil.
func ParseRequestData(rawURL string) map[string]any {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	raw := u.Query().Get("data")
	if raw == "" {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}
	return data
}

// SanitizeKeyword converts a search keyword or seed URL into a filesystem- and
// partition-safe directory name.
func SanitizeKeyword(keyword string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(keyword) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '/' || r == ':' || r == '?' || r == '&' || r == '=' || r == '.':
			b.WriteRune('_')
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")
	if out == "" {
		return "scrape"
	}
	const maxLen = 80
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
