package mutate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/naturalis/percolator/internal/auditlog"
	"github.com/naturalis/percolator/internal/delta"
	"github.com/naturalis/percolator/internal/domain"
	"github.com/naturalis/percolator/internal/enrich"
	"github.com/naturalis/percolator/internal/store"
)

// Store is the subset of the Store Adapter the Mutator needs: transaction
// scoping for the new, update, delete and explicit-delete operations, plus the plain,
// non-transactional reads used by the tabula-rasa export.
type Store interface {
	BeginTx(ctx context.Context) (*store.Tx, error)
	AllRows(ctx context.Context, table string) ([]store.TableRow, error)
}

// EnrichEngine is the subset of the Enrichment Engine the Mutator needs.
type EnrichEngine interface {
	EnrichRecord(ctx context.Context, consumer domain.Source, doc []byte) ([]byte, error)
	UpdateCache(ctx context.Context, taxonSrc domain.Source, doc []byte) error
	FanOut(ctx context.Context, taxonSrc domain.Source, group string) ([]enrich.FanOutHit, error)
}

// AuditLogger is the subset of the Audit Logger the Mutator needs: one
// event per record it applies and per fan-out hit (§4.5, §4.6, §4.8).
type AuditLogger interface {
	EmitRecord(ctx context.Context, jobID string, state auditlog.State, typ, source, recid string)
}

// Mutator applies a Differ-produced ChangeSet to a Source's current table
// and emits the partitioned delta files of §4.5.
type Mutator struct {
	store  Store
	enrich EnrichEngine
	audit  AuditLogger
}

// New returns a Mutator backed by the given Store Adapter, Enrichment
// Engine, and Audit Logger.
func New(store Store, engine EnrichEngine, audit AuditLogger) *Mutator {
	return &Mutator{store: store, enrich: engine, audit: audit}
}

// Result records one operation's outcome: how many records it applied and
// the enrichment fan-out counts to merge into the job meta under
// "enrich:{index}" keys (§4.6). Skipped is a slot for record-level errors
// (§7(d)); none of the operations appends to it, so it is always empty.
type Result struct {
	Count        int
	Skipped      []error
	EnrichCounts map[string]int
}

func (r *Result) mergeEnrichCounts(more map[string]int) {
	if len(more) == 0 {
		return
	}
	if r.EnrichCounts == nil {
		r.EnrichCounts = make(map[string]int, len(more))
	}
	for k, v := range more {
		r.EnrichCounts[k] += v
	}
}

// HandleNew applies every *new* entry of cs to src's current table: copy
// the import row's rec and hash into current unchanged, optionally
// enrich a copy of the document for the "new" delta file, and cache it
// if src produces enrichments (§4.5).
//
// current never stores the enriched document. The original copies
// rec/hash straight from import to current (percolator.py's handle_new,
// `INSERT ... SELECT rec, hash FROM {table}_import`) and enriches only
// the copy written to the delta file; storing the enriched bytes instead
// would make every consuming Source re-diff as changed on its next run,
// since the Stager's import hash can never match a hash derived from
// Go-marshaled, enriched bytes.
func (m *Mutator) HandleNew(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (Result, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	var res Result
	for logicalID, entry := range cs.New {
		doc, err := tx.FetchJSON(ctx, src.ImportTable(), entry.ImportID)
		if err != nil {
			return Result{}, fmt.Errorf("mutate: handleNew: %w", err)
		}

		if err := tx.CopyFromImport(ctx, src.ImportTable(), src.CurrentTable(), entry.ImportID); err != nil {
			return Result{}, fmt.Errorf("mutate: handleNew: %w", err)
		}

		deltaDoc := doc
		if src.Consumes {
			deltaDoc, err = m.enrich.EnrichRecord(ctx, src, doc)
			if err != nil {
				return Result{}, fmt.Errorf("mutate: handleNew: enrich: %w", err)
			}
		}

		if err := w.Append(src.IndexOrDefault(), delta.ActionNew, deltaDoc); err != nil {
			return Result{}, fmt.Errorf("mutate: handleNew: %w", err)
		}
		if src.Produces {
			if err := m.enrich.UpdateCache(ctx, src, doc); err != nil {
				return Result{}, fmt.Errorf("mutate: handleNew: cache: %w", err)
			}
		}
		m.audit.EmitRecord(ctx, jobID, auditlog.StateNew, src.IndexOrDefault(), src.Code, logicalID)
		res.Count++
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// HandleUpdates applies every *update* entry of cs: copy the import row's
// rec and hash over the matching current row unchanged, optionally
// enrich a copy of the new document for the "update" delta file, and —
// for a producing Source — cache the new taxon and fan out its impact to
// every downstream Source (§4.5, §4.6). See HandleNew for why current
// always holds the raw import bytes, never the enriched ones.
//
// oldRec is read from current, the authoritative table, per the
// DESIGN.md open-question decision: one variant of the original system
// read it from import instead, which this specification does not
// implement.
func (m *Mutator) HandleUpdates(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (Result, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	var res Result
	for logicalID, entry := range cs.Update {
		if _, err := tx.FetchJSON(ctx, src.CurrentTable(), entry.CurrentID); err != nil {
			return Result{}, fmt.Errorf("mutate: handleUpdates: read old record: %w", err)
		}

		newDoc, err := tx.FetchJSON(ctx, src.ImportTable(), entry.ImportID)
		if err != nil {
			return Result{}, fmt.Errorf("mutate: handleUpdates: %w", err)
		}

		if err := tx.ReplaceFromImport(ctx, src.ImportTable(), src.CurrentTable(), entry.ImportID, entry.CurrentID); err != nil {
			return Result{}, fmt.Errorf("mutate: handleUpdates: %w", err)
		}

		deltaDoc := newDoc
		if src.Consumes {
			deltaDoc, err = m.enrich.EnrichRecord(ctx, src, newDoc)
			if err != nil {
				return Result{}, fmt.Errorf("mutate: handleUpdates: enrich: %w", err)
			}
		}
		if err := w.Append(src.IndexOrDefault(), delta.ActionUpdate, deltaDoc); err != nil {
			return Result{}, fmt.Errorf("mutate: handleUpdates: %w", err)
		}

		if src.Produces {
			if err := m.enrich.UpdateCache(ctx, src, newDoc); err != nil {
				return Result{}, fmt.Errorf("mutate: handleUpdates: cache: %w", err)
			}
			if group, ok := domain.ScientificNameGroup(newDoc); ok {
				counts, err := m.fanOut(ctx, jobID, src, group, w)
				if err != nil {
					return Result{}, fmt.Errorf("mutate: handleUpdates: fan-out: %w", err)
				}
				res.mergeEnrichCounts(counts)
			}
		}
		m.audit.EmitRecord(ctx, jobID, auditlog.StateUpdate, src.IndexOrDefault(), src.Code, logicalID)
		res.Count++
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// HandleDeletes applies every *delete* entry of cs (non-incremental
// sources only): read the old JSON, upsert the Delete Registry as
// REJECTED, delete the current row, append a delete record to the
// "delete" delta file, and fan out enrichment impact (§4.5).
func (m *Mutator) HandleDeletes(ctx context.Context, jobID string, src domain.Source, cs *domain.ChangeSet, w *delta.Writer) (Result, error) {
	if src.Incremental {
		return Result{}, ErrIncrementalSource
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	var res Result
	for logicalID, entry := range cs.Delete {
		oldDoc, err := tx.FetchJSON(ctx, src.CurrentTable(), entry.CurrentID)
		if err != nil {
			return Result{}, fmt.Errorf("mutate: handleDeletes: %w", err)
		}
		sourceSystemCode, _ := domain.LogicalID(oldDoc, "sourceSystem.code")

		if err := tx.UpsertDeleteRegistry(ctx, logicalID, domain.StatusRejected); err != nil {
			return Result{}, fmt.Errorf("mutate: handleDeletes: %w", err)
		}
		if err := tx.DeleteByID(ctx, src.CurrentTable(), entry.CurrentID); err != nil {
			return Result{}, fmt.Errorf("mutate: handleDeletes: %w", err)
		}

		rec := domain.DeleteRecord{UnitID: logicalID, SourceSystemCode: sourceSystemCode, Status: domain.StatusRejected}
		if err := w.AppendValue(src.IndexOrDefault(), delta.ActionDelete, rec); err != nil {
			return Result{}, fmt.Errorf("mutate: handleDeletes: %w", err)
		}

		if src.Produces {
			if group, ok := domain.ScientificNameGroup(oldDoc); ok {
				counts, err := m.fanOut(ctx, jobID, src, group, w)
				if err != nil {
					return Result{}, fmt.Errorf("mutate: handleDeletes: fan-out: %w", err)
				}
				res.mergeEnrichCounts(counts)
			}
		}
		m.audit.EmitRecord(ctx, jobID, auditlog.StateDelete, src.IndexOrDefault(), src.Code, logicalID)
		res.Count++
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// HandleExplicitDeletes processes one manifest "delete" file (incremental
// sources): read logical ids line by line, upsert the Delete Registry as
// REMOVED, delete the current row if any, append a structured delete
// record to the "kill" delta file, and fan out enrichment impact (§4.5).
//
// This specification always emits the structured record documented in
// §6; the raw-logical-id-per-line variant from one original-system
// revision is not implemented (see DESIGN.md).
func (m *Mutator) HandleExplicitDeletes(ctx context.Context, jobID string, src domain.Source, file string, w *delta.Writer) (Result, error) {
	f, err := os.Open(file)
	if err != nil {
		return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: open %s: %w", file, err)
	}
	defer f.Close()

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	var res Result
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		logicalID := strings.TrimSpace(scanner.Text())
		if logicalID == "" {
			continue
		}

		var oldDoc []byte
		currentID, err := tx.LookupByLogicalID(ctx, src.CurrentTable(), src.IDField, logicalID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Already absent from current; still record the kill.
		case err != nil:
			return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: %w", err)
		default:
			oldDoc, err = tx.FetchJSON(ctx, src.CurrentTable(), currentID)
			if err != nil {
				return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: %w", err)
			}
		}

		if err := tx.UpsertDeleteRegistry(ctx, logicalID, domain.StatusRemoved); err != nil {
			return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: %w", err)
		}
		if oldDoc != nil {
			if err := tx.DeleteByID(ctx, src.CurrentTable(), currentID); err != nil {
				return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: %w", err)
			}
		}

		var sourceSystemCode string
		if oldDoc != nil {
			sourceSystemCode, _ = domain.LogicalID(oldDoc, "sourceSystem.code")
		}
		rec := domain.DeleteRecord{UnitID: logicalID, SourceSystemCode: sourceSystemCode, Status: domain.StatusRemoved}
		if err := w.AppendValue(src.IndexOrDefault(), delta.ActionKill, rec); err != nil {
			return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: %w", err)
		}

		if src.Produces && oldDoc != nil {
			if group, ok := domain.ScientificNameGroup(oldDoc); ok {
				counts, err := m.fanOut(ctx, jobID, src, group, w)
				if err != nil {
					return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: fan-out: %w", err)
				}
				res.mergeEnrichCounts(counts)
			}
		}
		m.audit.EmitRecord(ctx, jobID, auditlog.StateKill, src.IndexOrDefault(), src.Code, logicalID)
		res.Count++
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("mutate: handleExplicitDeletes: read %s: %w", file, err)
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// HandleTabulaRasa streams every row of src's freshly rebuilt current
// table through the same optional-enrichment step as HandleNew and
// appends each to the "new" delta file, without touching the Delete
// Registry — a full rebuild is not a deletion signal (§4.5).
//
// current already holds the row the Stager and Deduplicator just bulk
// loaded, rec and hash untouched by Go; only the delta-file copy is
// enriched, for the same idempotence reason documented on HandleNew.
func (m *Mutator) HandleTabulaRasa(ctx context.Context, jobID string, src domain.Source, w *delta.Writer) (Result, error) {
	rows, err := m.store.AllRows(ctx, src.CurrentTable())
	if err != nil {
		return Result{}, fmt.Errorf("mutate: handleTabulaRasa: %w", err)
	}

	var res Result
	for _, row := range rows {
		doc := row.Doc
		deltaDoc := doc
		if src.Consumes {
			deltaDoc, err = m.enrich.EnrichRecord(ctx, src, doc)
			if err != nil {
				return Result{}, fmt.Errorf("mutate: handleTabulaRasa: enrich: %w", err)
			}
		}
		if err := w.Append(src.IndexOrDefault(), delta.ActionNew, deltaDoc); err != nil {
			return Result{}, fmt.Errorf("mutate: handleTabulaRasa: %w", err)
		}
		if src.Produces {
			if err := m.enrich.UpdateCache(ctx, src, doc); err != nil {
				return Result{}, fmt.Errorf("mutate: handleTabulaRasa: cache: %w", err)
			}
		}
		logicalID, _ := domain.LogicalID(doc, src.IDField)
		m.audit.EmitRecord(ctx, jobID, auditlog.StateNew, src.IndexOrDefault(), src.Code, logicalID)
		res.Count++
	}
	return res, nil
}

// fanOut resolves every downstream consumer row affected by a taxon's
// scientificNameGroup, re-enriching and appending each to its Source's
// enrich delta file, emitting one audit event per hit, and returns the
// per-downstream-index counts to merge into the job meta (§4.6).
func (m *Mutator) fanOut(ctx context.Context, jobID string, taxonSrc domain.Source, group string, w *delta.Writer) (map[string]int, error) {
	hits, err := m.enrich.FanOut(ctx, taxonSrc, group)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(hits))
	for _, hit := range hits {
		doc := hit.Doc
		if hit.Source.Consumes {
			enriched, err := m.enrich.EnrichRecord(ctx, hit.Source, doc)
			if err != nil {
				return nil, err
			}
			doc = enriched
		}
		if err := w.Append(hit.Source.IndexOrDefault(), delta.ActionEnrich, doc); err != nil {
			return nil, err
		}
		logicalID, _ := domain.LogicalID(doc, hit.Source.IDField)
		m.audit.EmitRecord(ctx, jobID, auditlog.StateEnrich, hit.Source.IndexOrDefault(), hit.Source.Code, logicalID)
		counts["enrich:"+hit.Source.IndexOrDefault()]++
	}
	return counts, nil
}
