package models

import (
	"net/url"
	"slices"
	"sort"
	"strings"
)

// Store keys
const (
	KeyReplacements = "domainReplacements"
	KeyWhitelist    = "whitelist"
	KeyBlacklist    = "blacklist"
)

// RuleSet is the triple of replacements, whitelist and blacklist that governs
// redirect decisions. A domain may appear in any of the three independently.
type RuleSet struct {
	Replacements map[string]string `json:"domainReplacements"`
	Whitelist    []string          `json:"whitelist"`
	Blacklist    []string          `json:"blacklist"`
}

// NewRuleSet returns an empty rule set
func NewRuleSet() RuleSet {
	return RuleSet{
		Replacements: make(map[string]string),
		Whitelist:    []string{},
		Blacklist:    []string{},
	}
}

// Whitelisted reports whether domain is in the whitelist
func (r RuleSet) Whitelisted(domain string) bool {
	return slices.Contains(r.Whitelist, domain)
}

// Blacklisted reports whether domain is in the blacklist
func (r RuleSet) Blacklisted(domain string) bool {
	return slices.Contains(r.Blacklist, domain)
}

// Clone returns a deep copy
func (r RuleSet) Clone() RuleSet {
	c := RuleSet{
		Replacements: make(map[string]string, len(r.Replacements)),
		Whitelist:    append([]string{}, r.Whitelist...),
		Blacklist:    append([]string{}, r.Blacklist...),
	}
	for k, v := range r.Replacements {
		c.Replacements[k] = v
	}
	return c
}

// Equal compares two rule sets by value. Nil and empty containers are equal.
func (r RuleSet) Equal(o RuleSet) bool {
	if len(r.Replacements) != len(o.Replacements) {
		return false
	}
	for k, v := range r.Replacements {
		if ov, ok := o.Replacements[k]; !ok || ov != v {
			return false
		}
	}
	return slices.Equal(r.Whitelist, o.Whitelist) && slices.Equal(r.Blacklist, o.Blacklist)
}

// Row is one line of the settings view
type Row struct {
	Domain      string `json:"domain"`
	Replacement string `json:"replacement"`
}

// Rows derives the settings view from a rule set, sorted by domain
func Rows(r RuleSet) []Row {
	rows := make([]Row, 0, len(r.Replacements))
	for d, repl := range r.Replacements {
		rows = append(rows, Row{Domain: d, Replacement: repl})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Domain < rows[j].Domain })
	return rows
}

// EvaluationInput is the navigation state a single evaluation runs against
type EvaluationInput struct {
	CurrentURL    string
	CurrentDomain string
}

// InputFromURL builds an input from a full URL the way a browser location
// reports it: the hostname is lowercased (no port, no userinfo) and so is the
// host inside the URL, so substring rewriting still finds it. An unparsable
// URL is kept verbatim with an empty domain, which never matches a rule.
func InputFromURL(raw string) EvaluationInput {
	in := EvaluationInput{CurrentURL: raw}
	u, err := url.Parse(raw)
	if err != nil {
		return in
	}
	in.CurrentDomain = strings.ToLower(u.Hostname())
	if lower := strings.ToLower(u.Host); lower != u.Host {
		in.CurrentURL = strings.Replace(raw, u.Host, lower, 1)
	}
	return in
}
