package store

import (
	"encoding/json"
	"log/slog"

	"github.com/bnema/domain-redirector/internal/models"
	"github.com/spf13/cast"
)

// Rules reads and writes a RuleSet through a Store
type Rules struct {
	store Store
}

// NewRules wraps s
func NewRules(s Store) *Rules {
	return &Rules{store: s}
}

// Load reads the rule set. Any key that can't be read or parsed is treated as
// empty and logged; Load itself never fails.
func (r *Rules) Load() models.RuleSet {
	rs := models.NewRuleSet()

	if v, err := r.get(models.KeyReplacements, map[string]any{}); err != nil {
		slog.Warn("Failed to read replacements", slog.Any("error", err))
	} else if m, err := cast.ToStringMapStringE(v); err != nil {
		slog.Warn("Invalid replacements", slog.Any("error", err))
	} else {
		rs.Replacements = m
	}

	rs.Whitelist = r.loadList(models.KeyWhitelist)
	rs.Blacklist = r.loadList(models.KeyBlacklist)
	return rs
}

// SaveReplacements persists the replacements mapping
func (r *Rules) SaveReplacements(m map[string]string) error {
	if m == nil {
		m = map[string]string{}
	}
	return r.store.Set(models.KeyReplacements, m)
}

// SaveWhitelist persists the whitelist
func (r *Rules) SaveWhitelist(domains []string) error {
	return r.saveList(models.KeyWhitelist, domains)
}

// SaveBlacklist persists the blacklist
func (r *Rules) SaveBlacklist(domains []string) error {
	return r.saveList(models.KeyBlacklist, domains)
}

func (r *Rules) saveList(key string, domains []string) error {
	if domains == nil {
		domains = []string{}
	}
	return r.store.Set(key, domains)
}

func (r *Rules) loadList(key string) []string {
	v, err := r.get(key, []any{})
	if err != nil {
		slog.Warn("Failed to read list", slog.String("key", key), slog.Any("error", err))
		return []string{}
	}
	if _, ok := v.([]any); !ok {
		slog.Warn("Invalid list", slog.String("key", key))
		return []string{}
	}
	list, err := cast.ToStringSliceE(v)
	if err != nil {
		slog.Warn("Invalid list", slog.String("key", key), slog.Any("error", err))
		return []string{}
	}
	return list
}

// get reads key and unwraps values that were stored as JSON text, which is
// how userscript managers persist objects.
func (r *Rules) get(key string, def any) (any, error) {
	v, err := r.store.Get(key, def)
	if err != nil {
		return nil, err
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	var inner any
	if err := json.Unmarshal([]byte(s), &inner); err != nil {
		return nil, err
	}
	return inner, nil
}
