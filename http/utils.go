// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"regexp"
	"strings"
)

const negotiateScheme = "Negotiate"

// authorization returns the lower-cased scheme and the credentials from the
// Authorization header.
func authorization(h http.Header) (string, string) {
	scheme, creds, ok := strings.Cut(h.Get("Authorization"), " ")
	if !ok {
		return "", ""
	}

	return strings.ToLower(scheme), strings.TrimSpace(creds)
}

// challenge is one challenge from a WWW-Authenticate header (RFC 9110 § 11.6.1).  A
// challenge carries either a token68 or a list of parameters.
type challenge struct {
	Scheme  string
	Token68 string
	Params  map[string]string
}

var token68 = regexp.MustCompile(`^[A-Za-z0-9\-._~+/]+=*$`)

// parseChallenges parses every WWW-Authenticate header in h, preserving their order.
//
// A header may hold several comma separated challenges and parameter lists are also comma
// separated, so a segment that starts with "name=" continues the current challenge and any
// other segment starts a new one.
func parseChallenges(h http.Header) []challenge {
	var out []challenge

	for _, v := range h.Values("WWW-Authenticate") {
		for _, seg := range splitUnquoted(v, ',') {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				continue
			}

			first, rest, _ := strings.Cut(seg, " ")
			if strings.Contains(first, "=") {
				if len(out) > 0 {
					addParam(&out[len(out)-1], seg)
				}
				continue
			}

			c := challenge{Scheme: first}
			rest = strings.TrimSpace(rest)
			switch {
			case rest == "":
			case token68.MatchString(rest):
				c.Token68 = rest
			default:
				addParam(&c, rest)
			}
			out = append(out, c)
		}
	}

	return out
}

// negotiateChallenges returns the Negotiate challenges in h.  Scheme names are case
// insensitive.
func negotiateChallenges(h http.Header) []challenge {
	var out []challenge
	for _, c := range parseChallenges(h) {
		if strings.EqualFold(c.Scheme, negotiateScheme) {
			out = append(out, c)
		}
	}

	return out
}

func addParam(c *challenge, s string) {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return
	}

	if c.Params == nil {
		c.Params = make(map[string]string)
	}
	c.Params[strings.ToLower(k)] = unquote(strings.TrimSpace(v))
}

// unquote removes the quotes and backslash escapes from a quoted-string.  Other values
// are returned as is.
func unquote(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return s
	}

	var b strings.Builder
	escaped := false
	for _, r := range s[1 : len(s)-1] {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}

	return b.String()
}

// splitUnquoted splits s at each sep that is not inside a quoted-string.
func splitUnquoted(s string, sep byte) []string {
	var (
		out      []string
		start    int
		inQuotes bool
		escaped  bool
	)

	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\' && inQuotes:
			escaped = true
		case s[i] == '"':
			inQuotes = !inQuotes
		case s[i] == sep && !inQuotes:
			out = append(out, s[start:i])
			start = i + 1
		}
	}

	return append(out, s[start:])
}
