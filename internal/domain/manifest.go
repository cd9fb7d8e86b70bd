package domain

// Manifest is the job manifest the Job Runner is handed: a set of validated
// input files to import, grouped by kind, plus an optional set of explicit
// delete files.
type Manifest struct {
	ID           string                    `json:"id"`
	DataSupplier string                    `json:"data_supplier"`
	Date         string                    `json:"date"`
	TabulaRasa   bool                      `json:"tabula_rasa"`
	Validator    map[string]ValidatorEntry `json:"validator"`
	Delete       map[string][]string       `json:"delete,omitempty"`

	// Percolator is populated by the Job Runner before the manifest is
	// written to the done/ directory; absent on the inbound manifest.
	Percolator map[string]SourceMeta `json:"percolator,omitempty"`
}

// ValidatorEntry carries the validator's report for one kind: the list of
// files it considers valid for import.
type ValidatorEntry struct {
	Results struct {
		Outfiles struct {
			Valid []string `json:"valid"`
		} `json:"outfiles"`
	} `json:"results"`
}

// SourceMeta is the Percolator Meta breadcrumb for one source within a job:
// per-file counts, elapsed times, and the delta files produced.
type SourceMeta struct {
	InputPath   string             `json:"input_path,omitempty"`
	OutputPath  string             `json:"output_path,omitempty"`
	Counts      map[string]int     `json:"counts,omitempty"`
	ElapsedSecs map[string]float64 `json:"elapsed_secs,omitempty"`
	DeltaFiles  []string           `json:"delta_files,omitempty"`
	Failed      bool               `json:"failed,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// DeleteRecord is the structured document appended to delete/kill delta
// files (§6). This specification standardises on this shape for every
// explicit and implicit deletion; the raw-logical-id variant from one
// original-system revision is not implemented (see DESIGN.md).
type DeleteRecord struct {
	UnitID           string       `json:"unitID"`
	SourceSystemCode string       `json:"sourceSystemCode"`
	Status           DeleteStatus `json:"status"`
}
