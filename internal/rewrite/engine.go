package rewrite

import (
	"net"
	"net/url"
	"strings"

	"github.com/bnema/domain-redirector/internal/models"
)

// Mode selects how the destination URL is built from a matched target
type Mode string

const (
	// ModeSubstring replaces the first literal occurrence of the hostname
	// in the full URL string
	ModeSubstring Mode = "substring"
	// ModeAuthority substitutes only the parsed host component and keeps
	// path, query and fragment verbatim
	ModeAuthority Mode = "authority"
)

// Engine decides whether a navigation should be redirected
type Engine struct {
	mode Mode
}

// New creates an engine. Unknown or empty modes fall back to ModeSubstring.
func New(mode Mode) *Engine {
	if mode != ModeAuthority {
		mode = ModeSubstring
	}
	return &Engine{mode: mode}
}

// Mode returns the construction mode in use
func (e *Engine) Mode() Mode {
	return e.mode
}

// Evaluate runs the default substring engine
func Evaluate(in models.EvaluationInput, rules models.RuleSet) (string, bool) {
	return New(ModeSubstring).Evaluate(in, rules)
}

// Evaluate returns the destination URL and true when the navigation should be
// redirected. It reads nothing but its arguments.
func (e *Engine) Evaluate(in models.EvaluationInput, rules models.RuleSet) (string, bool) {
	// Blacklist membership overrides the whitelist exemption.
	if rules.Whitelisted(in.CurrentDomain) && !rules.Blacklisted(in.CurrentDomain) {
		return "", false
	}

	target, ok := rules.Replacements[in.CurrentDomain]
	if !ok || target == "" || in.CurrentDomain == "" {
		return "", false
	}

	var dest string
	switch e.mode {
	case ModeAuthority:
		dest = replaceAuthority(in.CurrentURL, in.CurrentDomain, target)
	default:
		dest = replaceFirst(in.CurrentURL, in.CurrentDomain, target)
	}

	if dest == in.CurrentURL {
		return "", false
	}
	return dest, true
}

// replaceFirst swaps the first occurrence of host in rawURL for target
func replaceFirst(rawURL, host, target string) string {
	return strings.Replace(rawURL, host, target, 1)
}

// replaceAuthority rebuilds rawURL with its host swapped for target. A target
// carrying its own scheme and host (e.g. "https://mirror.org/base") replaces
// scheme and host and prefixes the original path. URLs that don't parse or
// have no host fall back to replaceFirst.
func replaceAuthority(rawURL, host, target string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || u.Hostname() != host {
		return replaceFirst(rawURL, host, target)
	}

	if t, err := url.Parse(target); err == nil && t.Scheme != "" && t.Host != "" {
		u.Scheme = t.Scheme
		u.Host = t.Host
		if base := strings.TrimSuffix(t.Path, "/"); base != "" {
			u.RawPath = ""
			u.Path = base + u.Path
		}
		return u.String()
	}

	if port := u.Port(); port != "" && !strings.Contains(target, ":") {
		u.Host = net.JoinHostPort(target, port)
	} else {
		u.Host = target
	}
	return u.String()
}
