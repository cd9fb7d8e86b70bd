package enrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/naturalis/percolator/internal/domain"
)

// Store is the subset of the Store Adapter the Enrichment Engine needs.
type Store interface {
	ScientificNameGroupMatches(ctx context.Context, currentTable, group string) ([][]byte, error)
	FanOutMatches(ctx context.Context, currentTable, group string) ([]struct {
		ID  int64
		Doc []byte
	}, error)
}

// CacheMetrics receives the enrichment cache hit/miss counters of §6's
// operational surface. An Engine with no metrics set records nothing.
type CacheMetrics interface {
	RecordCacheHit()
	RecordCacheMiss()
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordCacheHit()  {}
func (noopCacheMetrics) RecordCacheMiss() {}

// Engine maps taxonomic Records onto the consumer records that reference
// them, backed by a disk cache keyed by scientific name group.
type Engine struct {
	store    Store
	cache    *Cache
	registry *domain.Registry
	metrics  CacheMetrics
}

// New returns an Engine backed by the given Store Adapter, disk cache and
// Source registry (needed to resolve a Source's DstEnrich/SrcEnrich codes
// back to full Source descriptors).
func New(store Store, cache *Cache, registry *domain.Registry) *Engine {
	return &Engine{store: store, cache: cache, registry: registry, metrics: noopCacheMetrics{}}
}

// SetMetrics wires a CacheMetrics recorder into the Engine.
func (e *Engine) SetMetrics(m CacheMetrics) {
	if m != nil {
		e.metrics = m
	}
}

// FanOutHit is one consumer row affected by a taxon change, ready for the
// Mutator to re-enrich and append to its Source's enrich delta file.
type FanOutHit struct {
	Source domain.Source
	RowID  int64
	Doc    []byte
}

// EnrichRecord attaches taxonomicEnrichments to every identification of
// doc whose scientificNameGroup resolves to one or more cached taxa,
// across all of consumer's configured source-enrichment Sources (§4.6).
func (e *Engine) EnrichRecord(ctx context.Context, consumer domain.Source, doc []byte) ([]byte, error) {
	if len(consumer.SrcEnrich) == 0 {
		return doc, nil
	}

	var rec map[string]interface{}
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("enrich: decode consumer record: %w", err)
	}

	idsRaw, ok := rec["identifications"].([]interface{})
	if !ok {
		return doc, nil
	}

	changed := false
	for i, idRaw := range idsRaw {
		ident, ok := idRaw.(map[string]interface{})
		if !ok {
			continue
		}
		group, ok := stringPath(ident, "scientificName", "scientificNameGroup")
		if !ok || group == "" {
			continue
		}

		var enrichments []domain.Enrichment
		for _, code := range consumer.SrcEnrich {
			taxonSrc, ok := e.registry.Lookup(code)
			if !ok {
				continue
			}
			taxa, err := e.taxaFor(ctx, taxonSrc, group)
			if err != nil {
				return nil, err
			}
			for _, t := range taxa {
				enr, err := buildEnrichment(taxonSrc, t)
				if err != nil {
					return nil, err
				}
				enrichments = append(enrichments, enr)
			}
		}

		if len(enrichments) > 0 {
			ident["taxonomicEnrichments"] = enrichments
			idsRaw[i] = ident
			changed = true
		}
	}

	if !changed {
		return doc, nil
	}
	rec["identifications"] = idsRaw
	out, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("enrich: encode consumer record: %w", err)
	}
	return out, nil
}

// taxaFor returns the taxon documents for group under taxonSrc, consulting
// the cache first and falling back to a cold query against current (§4.6).
func (e *Engine) taxaFor(ctx context.Context, taxonSrc domain.Source, group string) ([][]byte, error) {
	key := cacheKey(taxonSrc.Code, group)
	if docs, ok, err := e.cache.Get(key); err != nil {
		return nil, err
	} else if ok {
		e.metrics.RecordCacheHit()
		return docs, nil
	}
	e.metrics.RecordCacheMiss()

	docs, err := e.store.ScientificNameGroupMatches(ctx, taxonSrc.CurrentTable(), group)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Put(key, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateCache rebuilds the cache entry for doc's own scientific name group:
// the entry whose id matches doc's idField is replaced, otherwise doc is
// appended. Called on new/update of a producing Source (§4.6).
func (e *Engine) UpdateCache(ctx context.Context, taxonSrc domain.Source, doc []byte) error {
	group, ok := jsonPath(doc, "acceptedName", "scientificNameGroup")
	if !ok {
		return nil
	}
	groupStr, _ := group.(string)
	if groupStr == "" {
		return nil
	}

	logicalID, ok := domain.LogicalID(doc, taxonSrc.IDField)
	if !ok {
		return nil
	}

	key := cacheKey(taxonSrc.Code, groupStr)
	docs, _, err := e.cache.Get(key)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range docs {
		existingID, ok := domain.LogicalID(existing, taxonSrc.IDField)
		if ok && existingID == logicalID {
			docs[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		docs = append(docs, doc)
	}

	return e.cache.Put(key, docs)
}

// FanOut finds every consumer row across taxonSrc's configured downstream
// Sources whose identifications reference group, the scientific name group
// of the taxon that just changed (§4.6).
func (e *Engine) FanOut(ctx context.Context, taxonSrc domain.Source, group string) ([]FanOutHit, error) {
	var hits []FanOutHit
	for _, code := range taxonSrc.DstEnrich {
		downstream, ok := e.registry.Lookup(code)
		if !ok {
			continue
		}
		rows, err := e.store.FanOutMatches(ctx, downstream.CurrentTable(), group)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			hits = append(hits, FanOutHit{Source: downstream, RowID: row.ID, Doc: row.Doc})
		}
	}
	return hits, nil
}

func buildEnrichment(taxonSrc domain.Source, doc []byte) (domain.Enrichment, error) {
	var rec struct {
		VernacularNames       []domain.VernacularName `json:"vernacularNames"`
		Synonyms              []domain.Synonym        `json:"synonyms"`
		SourceSystem          struct {
			Code string `json:"code"`
		} `json:"sourceSystem"`
		DefaultClassification interface{} `json:"defaultClassification"`
	}
	if err := json.Unmarshal(doc, &rec); err != nil {
		return domain.Enrichment{}, fmt.Errorf("enrich: decode taxon record: %w", err)
	}

	taxonID, _ := domain.LogicalID(doc, taxonSrc.IDField)

	enr := domain.Enrichment{
		TaxonID:          taxonID,
		VernacularNames:  rec.VernacularNames,
		Synonyms:         rec.Synonyms,
		SourceSystemCode: rec.SourceSystem.Code,
	}
	if rec.SourceSystem.Code == domain.ColSourceSystemCode {
		enr.DefaultClassification = rec.DefaultClassification
	}
	return enr, nil
}

func cacheKey(systemCode, group string) string {
	return systemCode + "_" + group
}

func stringPath(obj map[string]interface{}, path ...string) (string, bool) {
	var cur interface{} = obj
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		cur, ok = m[p]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

func jsonPath(doc []byte, path ...string) (interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal(doc, &obj); err != nil {
		return nil, false
	}
	var cur interface{} = obj
	for _, p := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
