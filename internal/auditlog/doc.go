// Package auditlog implements the Audit Logger (§4.8): structured
// per-record and per-job events shipped to an external document-indexing
// HTTP sink, one index per lowercased job id. Transport failures are
// caught and logged locally; they never abort the pipeline (§7(b)).
package auditlog
