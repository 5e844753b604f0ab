package csrf

import (
	"math/rand/v2"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateToken returns n characters drawn uniformly from [A-Za-z0-9].
// Tokens are anti-forgery nonces compared for equality only; they are not
// secrets and this generator must not be used for credentials.
func GenerateToken(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

// CookieValue returns the value of the first cookie called name found in the
// Cookie header lines of h. Names compare case-insensitively and values are
// returned verbatim apart from one surrounding pair of double quotes. Lines
// that are not valid UTF-8 are ignored; an empty value counts as absent.
func CookieValue(h http.Header, name string) (string, bool) {
	for _, line := range h.Values("Cookie") {
		if !utf8.ValidString(line) {
			continue
		}
		pairs := strings.FieldsFunc(line, func(r rune) bool {
			return r == ';' || unicode.IsSpace(r)
		})
		for _, pair := range pairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || !strings.EqualFold(k, name) {
				continue
			}
			if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
				v = v[1 : len(v)-1]
			}
			if v == "" {
				return "", false
			}
			return v, true
		}
	}
	return "", false
}

// RemoveHeader deletes every value of the named header from h and returns the
// first one. The header is removed even when its value is empty or not valid
// UTF-8, in which case it is reported absent.
func RemoveHeader(h http.Header, name string) (string, bool) {
	values := h.Values(name)
	h.Del(name)
	if len(values) == 0 {
		return "", false
	}
	v := values[0]
	if v == "" || !utf8.ValidString(v) {
		return "", false
	}
	return v, true
}
