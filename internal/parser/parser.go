package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cast"
)

// ErrInvalidImport is returned when the input is not a JSON object
var ErrInvalidImport = errors.New("invalid import: expected a JSON object of domain to replacement")

// Parser parses domain replacement interchange files
type Parser struct {
	stats Stats
}

// Stats tracks parsing statistics
type Stats struct {
	Total       int
	Imported    int
	Coerced     int
	Skipped     int
	SkipReasons map[string]int // Detailed breakdown of skipped entries
}

// SkipReason constants
const (
	SkipEmptyDomain = "empty-domain"
	SkipNonScalar   = "non-scalar-value (object, array)"
	SkipNull        = "null-value"
)

// New creates a new parser
func New() *Parser {
	return &Parser{
		stats: Stats{
			SkipReasons: make(map[string]int),
		},
	}
}

// skip records a skipped entry with reason
func (p *Parser) skip(reason string) {
	p.stats.Skipped++
	p.stats.SkipReasons[reason]++
}

// Stats returns parsing statistics
func (p *Parser) Stats() Stats {
	return p.stats
}

// Parse reads an interchange document. The result is stored as a typed
// domain to replacement map, so the document must be a single JSON object:
// arrays, null and trailing data after the object fail with ErrInvalidImport
// even though they are valid JSON. Scalar values (numbers, booleans) are
// coerced to strings; other entries are skipped and counted.
func (p *Parser) Parse(r io.Reader) (map[string]string, error) {
	var doc map[string]any

	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: got null", ErrInvalidImport)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidImport)
	}

	replacements := make(map[string]string, len(doc))
	for domain, value := range doc {
		p.stats.Total++

		if strings.TrimSpace(domain) == "" {
			p.skip(SkipEmptyDomain)
			continue
		}

		switch v := value.(type) {
		case nil:
			p.skip(SkipNull)
			continue
		case string:
			replacements[domain] = v
		case map[string]any, []any:
			p.skip(SkipNonScalar)
			continue
		default:
			s, err := cast.ToStringE(v)
			if err != nil {
				p.skip(SkipNonScalar)
				continue
			}
			p.stats.Coerced++
			replacements[domain] = s
		}
		p.stats.Imported++
	}

	return replacements, nil
}
