package etag

import (
	"net/http"
	"regexp"
	"strings"
	"time"
)

// CacheControl 客户端每次都必须重新验证，不允许静默使用缓存
const CacheControl = "no-cache, must-revalidate"

// Outcome of a negotiation.
type Outcome int

const (
	// Full means the caller must send the freshly computed body.
	Full Outcome = iota
	// NotModified means the client's copy is current; the body must be omitted.
	NotModified
)

func (o Outcome) String() string {
	if o == NotModified {
		return "not_modified"
	}
	return "full"
}

var tokenPattern = regexp.MustCompile(`^"[0-9a-f]{32}"$`)

// Decision is what the endpoint layer applies to the response.
type Decision struct {
	Outcome      Outcome
	Token        Token
	CacheControl string
	LastModified time.Time
}

// Status 对应的 HTTP 状态码
func (d Decision) Status() int {
	if d.Outcome == NotModified {
		return http.StatusNotModified
	}
	return http.StatusOK
}

// Apply writes the conditional headers. Last-Modified is only sent with a
// full response.
func (d Decision) Apply(h http.Header) {
	h.Set("ETag", d.Token.String())
	h.Set("Cache-Control", d.CacheControl)
	if d.Outcome == Full && !d.LastModified.IsZero() {
		h.Set("Last-Modified", d.LastModified.UTC().Format(http.TimeFormat))
	}
}

// Negotiate compares the raw If-None-Match header against the current
// fingerprint. Only an exact match of a well-formed token yields NotModified;
// an absent, malformed or stale token always yields Full.
func Negotiate(ifNoneMatch string, current Token) Decision {
	d := Decision{
		Outcome:      Full,
		Token:        current,
		CacheControl: CacheControl,
		LastModified: time.Now(),
	}
	for _, candidate := range ParseIfNoneMatch(ifNoneMatch) {
		if candidate == current {
			d.Outcome = NotModified
			break
		}
	}
	return d
}

// ParseIfNoneMatch returns the well-formed tokens of the header, dropping
// anything malformed (weak validators, "*", unquoted values).
func ParseIfNoneMatch(header string) []Token {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	var tokens []Token
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if Valid(part) {
			tokens = append(tokens, Token(part))
		}
	}
	return tokens
}

// Valid reports whether s has the shape of a token produced by Compute.
func Valid(s string) bool {
	return tokenPattern.MatchString(s)
}
