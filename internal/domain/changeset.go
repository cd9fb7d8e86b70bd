package domain

// NewEntry identifies one record present in import but not current: only the
// import row id is needed to read its JSON.
type NewEntry struct {
	ImportID int64
}

// UpdateEntry pairs the import row (new content) with the current row
// (existing content) for the same logical id.
type UpdateEntry struct {
	ImportID  int64
	CurrentID int64
}

// DeleteEntry identifies one record present in current but not import:
// only the current row id is needed to read the JSON being removed.
type DeleteEntry struct {
	CurrentID int64
}

// ChangeSet is the Differ's output: three disjoint maps keyed by logical id.
type ChangeSet struct {
	New    map[string]NewEntry
	Update map[string]UpdateEntry
	Delete map[string]DeleteEntry
}

// NewChangeSet returns an empty ChangeSet ready for the Differ to populate.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		New:    make(map[string]NewEntry),
		Update: make(map[string]UpdateEntry),
		Delete: make(map[string]DeleteEntry),
	}
}

// Empty reports whether the ChangeSet carries no changes at all, the
// expected outcome of re-running a job against an unchanged current table.
func (c *ChangeSet) Empty() bool {
	return len(c.New) == 0 && len(c.Update) == 0 && len(c.Delete) == 0
}

// Disjoint reports whether the three classes share no logical id, which must
// always hold for a ChangeSet produced by the Differ.
func (c *ChangeSet) Disjoint() bool {
	for id := range c.New {
		if _, ok := c.Update[id]; ok {
			return false
		}
		if _, ok := c.Delete[id]; ok {
			return false
		}
	}
	for id := range c.Update {
		if _, ok := c.Delete[id]; ok {
			return false
		}
	}
	return true
}
