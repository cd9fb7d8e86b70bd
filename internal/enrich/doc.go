// Package enrich implements the Enrichment Engine (§4.6): projecting
// taxonomic records into compact Enrichments, caching them on disk keyed by
// scientific name group, attaching them to consumer records, and fanning
// out taxon changes to every downstream Source.
package enrich
