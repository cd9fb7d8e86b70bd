package diff

import (
	"context"
	"errors"
	"fmt"

	"github.com/naturalis/percolator/internal/domain"
	"github.com/naturalis/percolator/internal/store"
)

// Store is the subset of the Store Adapter the Differ needs.
type Store interface {
	LeftAntiJoin(ctx context.Context, importTable, currentTable string) ([]int64, error)
	RightAntiJoin(ctx context.Context, importTable, currentTable string) ([]int64, error)
	LookupByLogicalID(ctx context.Context, table, idField, logicalID string) (int64, error)
	FetchJSON(ctx context.Context, table string, id int64) ([]byte, error)
	CountNullHash(ctx context.Context, importTable string) (int, error)
}

// Differ classifies import rows against current rows into a ChangeSet.
type Differ struct {
	store Store
}

// New returns a Differ backed by the given Store Adapter.
func New(store Store) *Differ {
	return &Differ{store: store}
}

// Result pairs the produced ChangeSet with the count of import rows
// skipped for carrying no hash, which the caller reports to the audit log.
type Result struct {
	ChangeSet     *domain.ChangeSet
	NullHashCount int
}

// Diff compares a Source's import and current tables and returns the
// ChangeSet describing what the Mutator must do, per §4.4.
func (d *Differ) Diff(ctx context.Context, src domain.Source) (Result, error) {
	importTable, currentTable := src.ImportTable(), src.CurrentTable()

	nullHash, err := d.store.CountNullHash(ctx, importTable)
	if err != nil {
		return Result{}, err
	}

	leftIDs, err := d.store.LeftAntiJoin(ctx, importTable, currentTable)
	if err != nil {
		return Result{}, err
	}

	cs := domain.NewChangeSet()

	for _, importID := range leftIDs {
		logicalID, err := d.logicalIDOf(ctx, importTable, src.IDField, importID)
		if err != nil {
			return Result{}, err
		}

		currentID, err := d.store.LookupByLogicalID(ctx, currentTable, src.IDField, logicalID)
		switch {
		case err == nil && src.Incremental:
			cs.Update[logicalID] = domain.UpdateEntry{ImportID: importID, CurrentID: currentID}
		case err == nil && !src.Incremental:
			// Non-incremental: stays classified as new here; the right
			// anti-join (step 4) promotes it to update once it finds the
			// matching current row under the same logical id.
			cs.New[logicalID] = domain.NewEntry{ImportID: importID}
		case errors.Is(err, store.ErrNotFound):
			cs.New[logicalID] = domain.NewEntry{ImportID: importID}
		default:
			return Result{}, err
		}
	}

	if !src.Incremental {
		rightIDs, err := d.store.RightAntiJoin(ctx, importTable, currentTable)
		if err != nil {
			return Result{}, err
		}

		for _, currentID := range rightIDs {
			logicalID, err := d.logicalIDOf(ctx, currentTable, src.IDField, currentID)
			if err != nil {
				return Result{}, err
			}

			if newEntry, ok := cs.New[logicalID]; ok {
				cs.Update[logicalID] = domain.UpdateEntry{ImportID: newEntry.ImportID, CurrentID: currentID}
				delete(cs.New, logicalID)
				continue
			}
			if _, ok := cs.Update[logicalID]; ok {
				continue
			}
			cs.Delete[logicalID] = domain.DeleteEntry{CurrentID: currentID}
		}
	}

	return Result{ChangeSet: cs, NullHashCount: nullHash}, nil
}

func (d *Differ) logicalIDOf(ctx context.Context, table, idField string, id int64) (string, error) {
	doc, err := d.store.FetchJSON(ctx, table, id)
	if err != nil {
		return "", err
	}
	logicalID, ok := domain.LogicalID(doc, idField)
	if !ok {
		return "", fmt.Errorf("diff: row %d in %s has no %s field", id, table, idField)
	}
	return logicalID, nil
}
