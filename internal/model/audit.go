package model

import "time"

// StageRoute is the stage name used for audit records of routing decisions
const StageRoute = "route"

// AuditRecord is an immutable audit entry written once per routing decision
// and once per stage execution
type AuditRecord struct {
	ArtifactID  string     `json:"artifact_id"`
	RequestID   string     `json:"request_id"`
	Stage       string     `json:"stage"`
	Status      string     `json:"status"`
	Revision    int        `json:"revision"`
	ContentHash string     `json:"content_hash"` // sha256 of the artifact at recording time
	Citations   []Citation `json:"citations,omitempty"`
	Issues      []Issue    `json:"issues,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	Sequence    uint64     `json:"sequence"` // Assigned by the store on append
}

// Ack confirms a durable append
type Ack struct {
	ArtifactID string `json:"artifact_id"`
	Sequence   uint64 `json:"sequence"`
}

// RouteArtifactID is the artifact id routing decisions are recorded under,
// kept apart from the request's stage records
func RouteArtifactID(requestID string) string {
	return "route/" + requestID
}
