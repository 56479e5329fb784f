package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unburden/solvency/internal/model"
)

// MemoryStore keeps audit records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]model.AuditRecord
	seq     atomic.Uint64
}

// NewMemoryStore creates an empty in-memory audit log
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]model.AuditRecord)}
}

// Append stores a copy of the record
func (s *MemoryStore) Append(ctx context.Context, record model.AuditRecord) (model.Ack, error) {
	if err := ctx.Err(); err != nil {
		return model.Ack{}, err
	}
	if err := validate(record); err != nil {
		return model.Ack{}, err
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.Citations = append([]model.Citation(nil), record.Citations...)
	record.Issues = append([]model.Issue(nil), record.Issues...)

	s.mu.Lock()
	record.Sequence = s.seq.Add(1)
	s.records[record.ArtifactID] = append(s.records[record.ArtifactID], record)
	s.mu.Unlock()

	return model.Ack{ArtifactID: record.ArtifactID, Sequence: record.Sequence}, nil
}

// QueryByArtifact returns the records for an artifact in append order
func (s *MemoryStore) QueryByArtifact(ctx context.Context, artifactID string) ([]model.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditRecord(nil), s.records[artifactID]...), nil
}

// Len returns the total number of records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.records {
		n += len(recs)
	}
	return n
}
