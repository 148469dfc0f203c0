package fetcher

import (
	"fmt"
	"net/http"
	"strings"
)

// ParseCookies turns "name=value" pairs into cookies. Surrounding whitespace
// is ignored; a pair without "=" is an error.
func ParseCookies(pairs []string) ([]*http.Cookie, error) {
	cookies := make([]*http.Cookie, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid cookie %q, want name=value", pair)
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: strings.TrimSpace(value), Path: "/"})
	}
	return cookies, nil
}
