package model

import "encoding/json"

// CandidateRecord is the raw output of the places lookup provider for one
// business. It is immutable once received; the orchestrator owns it for the
// lifetime of the task it spawns.
type CandidateRecord struct {
	PlaceID        string          `json:"place_id"`
	Name           string          `json:"name"`
	Address        string          `json:"address"`
	Phone          string          `json:"phone,omitempty"`
	ClaimedWebsite string          `json:"claimed_website,omitempty"`
	// Evidence lists the domains the lookup provider attests belong to this
	// business. The resolver never accepts a domain absent from this list.
	Evidence []string `json:"evidence,omitempty"`
	// Raw keeps the untouched provider payload for lineage.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Fingerprint is a deterministic identity digest derived from normalized
// business fields. Two candidates with the same normalized name, address,
// and phone share a fingerprint regardless of which query discovered them.
type Fingerprint string

// ResolvedTarget is the single website the fetcher is permitted to contact
// for a task. Domain always appears in the candidate's provider evidence.
type ResolvedTarget struct {
	Domain   string   `json:"domain"`
	Evidence []string `json:"evidence"`
}

// FieldSource records where an enriched field value came from.
type FieldSource struct {
	Field     string `json:"field"`
	Value     string `json:"value"`
	SourceURL string `json:"source_url"`
}
