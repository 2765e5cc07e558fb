package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/bnema/domain-redirector/internal/models"
	"github.com/bnema/domain-redirector/internal/parser"
	"github.com/bnema/domain-redirector/internal/store"
	"github.com/go-playground/validator/v10"
)

// ExportFilename is the suggested name for exported replacements
const ExportFilename = "domain_replacements.json"

// Reevaluator re-runs the redirect check for the current page
type Reevaluator interface {
	Reevaluate()
}

// Fetcher downloads an interchange file
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Replacement is the input of AddReplacement
type Replacement struct {
	Domain      string `json:"domain" validate:"required"`
	Replacement string `json:"replacement" validate:"required"`
}

// Service maintains the rule set on behalf of a user. Mutations are
// serialized so concurrent callers in one process never lose an update.
type Service struct {
	mu       sync.Mutex
	rules    *store.Rules
	trigger  Reevaluator
	validate *validator.Validate
}

// New creates a settings service. trigger may be nil.
func New(rules *store.Rules, trigger Reevaluator) *Service {
	return &Service{
		rules:    rules,
		trigger:  trigger,
		validate: validator.New(),
	}
}

// Rows returns the settings view
func (s *Service) Rows() []models.Row {
	return models.Rows(s.rules.Load())
}

// RuleSet returns the stored rule set
func (s *Service) RuleSet() models.RuleSet {
	return s.rules.Load()
}

// AddReplacement upserts a domain replacement
func (s *Service) AddReplacement(domain, replacement string) error {
	in := Replacement{Domain: domain, Replacement: replacement}
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("invalid replacement: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.rules.Load()
	rs.Replacements[in.Domain] = in.Replacement
	if err := s.rules.SaveReplacements(rs.Replacements); err != nil {
		return fmt.Errorf("save replacements: %w", err)
	}
	slog.Info("Replacement added", slog.String("domain", in.Domain), slog.String("replacement", in.Replacement))
	s.reevaluate()
	return nil
}

// RemoveReplacement deletes a domain replacement. Removing an absent domain
// is not an error.
func (s *Service) RemoveReplacement(domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.rules.Load()
	delete(rs.Replacements, domain)
	if err := s.rules.SaveReplacements(rs.Replacements); err != nil {
		return fmt.Errorf("save replacements: %w", err)
	}
	slog.Info("Replacement removed", slog.String("domain", domain))
	s.reevaluate()
	return nil
}

// AddWhitelist exempts domain from rewriting
func (s *Service) AddWhitelist(domain string) error {
	return s.updateList(models.KeyWhitelist, domain, true)
}

// RemoveWhitelist drops domain from the whitelist
func (s *Service) RemoveWhitelist(domain string) error {
	return s.updateList(models.KeyWhitelist, domain, false)
}

// AddBlacklist forces rewriting of domain even when whitelisted
func (s *Service) AddBlacklist(domain string) error {
	return s.updateList(models.KeyBlacklist, domain, true)
}

// RemoveBlacklist drops domain from the blacklist
func (s *Service) RemoveBlacklist(domain string) error {
	return s.updateList(models.KeyBlacklist, domain, false)
}

func (s *Service) updateList(key, domain string, add bool) error {
	if err := s.validate.Var(domain, "required"); err != nil {
		return fmt.Errorf("invalid domain: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rs := s.rules.Load()
	list := rs.Whitelist
	save := s.rules.SaveWhitelist
	if key == models.KeyBlacklist {
		list = rs.Blacklist
		save = s.rules.SaveBlacklist
	}

	has := slices.Contains(list, domain)
	switch {
	case add && !has:
		list = append(list, domain)
	case !add && has:
		list = slices.DeleteFunc(list, func(d string) bool { return d == domain })
	}

	if err := save(list); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	slog.Info("List updated", slog.String("list", key), slog.String("domain", domain), slog.Bool("added", add))
	s.reevaluate()
	return nil
}

// Import replaces all replacements with the mapping read from r. On a parse
// error nothing is written and the error wraps parser.ErrInvalidImport.
func (s *Service) Import(r io.Reader) (parser.Stats, error) {
	p := parser.New()
	replacements, err := p.Parse(r)
	if err != nil {
		return p.Stats(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rules.SaveReplacements(replacements); err != nil {
		return p.Stats(), fmt.Errorf("save replacements: %w", err)
	}
	stats := p.Stats()
	slog.Info("Replacements imported", slog.Int("imported", stats.Imported), slog.Int("skipped", stats.Skipped))
	s.reevaluate()
	return stats, nil
}

// ImportURL downloads an interchange file with f and imports it
func (s *Service) ImportURL(ctx context.Context, f Fetcher, url string) (parser.Stats, error) {
	data, err := f.Fetch(ctx, url)
	if err != nil {
		return parser.Stats{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	return s.Import(bytes.NewReader(data))
}

// Export writes the replacements mapping as a JSON object. Whitelist and
// blacklist are not exported.
func (s *Service) Export(w io.Writer) error {
	rs := s.rules.Load()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rs.Replacements)
}

func (s *Service) reevaluate() {
	if s.trigger != nil {
		s.trigger.Reevaluate()
	}
}
