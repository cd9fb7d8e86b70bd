package domain

import "strings"

// Source describes one named logical input stream: a stable table name, the
// JSON attribute that identifies a record, and the enrichment wiring that
// links taxonomic sources to the consumer sources that reference them.
type Source struct {
	// Code is the short identifier used in audit logs and enrichment cache
	// keys, e.g. "coltaxa".
	Code string `yaml:"code"`

	// Table is the stable table name; the import/current table pair is
	// named "{table}_import" and "{table}_current".
	Table string `yaml:"table"`

	// Index is the Source's index attribute used in delta file names. Falls
	// back to "noindex" when empty.
	Index string `yaml:"index"`

	// IDField is the JSON attribute that carries a record's logical id.
	IDField string `yaml:"id_field"`

	// Incremental sources never imply deletion from absence; only the
	// manifest's explicit delete lists remove records from *current*.
	Incremental bool `yaml:"incremental"`

	// Produces marks a Source as a taxonomic producer: its current table
	// carries acceptedName.scientificNameGroup and feeds enrichments to
	// every Source named in DstEnrich.
	Produces bool `yaml:"produces"`

	// Consumes marks a Source as an enrichment consumer: its current table
	// carries identifications[*].scientificName.scientificNameGroup and
	// receives enrichments from every Source named in SrcEnrich.
	Consumes bool `yaml:"consumes"`

	// SrcEnrich lists the Source codes whose taxonomy enriches this Source.
	SrcEnrich []string `yaml:"src_enrich"`

	// DstEnrich lists the Source codes that consume this Source's taxonomy.
	DstEnrich []string `yaml:"dst_enrich"`
}

// IndexOrDefault returns Index, falling back to "noindex" when unset.
func (s Source) IndexOrDefault() string {
	if s.Index == "" {
		return "noindex"
	}
	return s.Index
}

// ImportTable returns the name of this Source's staging table.
func (s Source) ImportTable() string { return s.Table + "_import" }

// CurrentTable returns the name of this Source's authoritative table.
func (s Source) CurrentTable() string { return s.Table + "_current" }

// Registry maps a Source's lowercased code to its configuration and
// validates the enrichment dependency graph at startup.
type Registry struct {
	sources map[string]Source
}

// NewRegistry builds a Registry from a list of Sources, validating that no
// two share a code and that the src-enrich/dst-enrich graph is acyclic.
func NewRegistry(sources []Source) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		code := strings.ToLower(s.Code)
		if _, exists := r.sources[code]; exists {
			return nil, &DuplicateSourceError{Code: code}
		}
		r.sources[code] = s
	}
	if err := detectEnrichmentCycle(r.sources); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup returns the Source for a code, or ok=false if it is not registered.
func (r *Registry) Lookup(code string) (Source, bool) {
	s, ok := r.sources[strings.ToLower(code)]
	return s, ok
}

// All returns every registered Source.
func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// DuplicateSourceError reports two Sources registered under the same code.
type DuplicateSourceError struct{ Code string }

func (e *DuplicateSourceError) Error() string {
	return "domain: duplicate source code " + e.Code
}

// CyclicEnrichmentError reports a cycle in the src-enrich/dst-enrich graph.
type CyclicEnrichmentError struct{ Path []string }

func (e *CyclicEnrichmentError) Error() string {
	msg := "domain: cyclic enrichment graph:"
	for _, c := range e.Path {
		msg += " " + c + " ->"
	}
	return msg
}

func detectEnrichmentCycle(sources map[string]Source) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(sources))
	var path []string

	var visit func(code string) error
	visit = func(code string) error {
		switch color[code] {
		case black:
			return nil
		case gray:
			return &CyclicEnrichmentError{Path: append(append([]string{}, path...), code)}
		}
		color[code] = gray
		path = append(path, code)
		if s, ok := sources[code]; ok {
			for _, next := range s.DstEnrich {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[code] = black
		return nil
	}

	for code := range sources {
		if color[code] == white {
			if err := visit(code); err != nil {
				return err
			}
		}
	}
	return nil
}
