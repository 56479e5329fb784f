package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/unburden/solvency/internal/model"
)

// Store is the append-only audit log. There is deliberately no update or
// delete operation.
type Store interface {
	Append(ctx context.Context, record model.AuditRecord) (model.Ack, error)
	QueryByArtifact(ctx context.Context, artifactID string) ([]model.AuditRecord, error)
}

// ContentHash returns a deterministic hash of an artifact. encoding/json
// sorts map keys, so equal payloads hash equally regardless of map order.
func ContentHash(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// MustContentHash is ContentHash for values that are known to marshal
func MustContentHash(v any) string {
	h, err := ContentHash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// Observer receives every record after it has been durably appended
type Observer func(model.AuditRecord)

type observedStore struct {
	Store
	observers []Observer
}

// Observe wraps store so that downstream consumers (notifications,
// analytics) see each record once its append succeeded
func Observe(store Store, observers ...Observer) Store {
	return &observedStore{Store: store, observers: observers}
}

func (s *observedStore) Append(ctx context.Context, record model.AuditRecord) (model.Ack, error) {
	ack, err := s.Store.Append(ctx, record)
	if err != nil {
		return ack, err
	}
	record.Sequence = ack.Sequence
	for _, fn := range s.observers {
		if fn != nil {
			fn(record)
		}
	}
	return ack, nil
}

func validate(record model.AuditRecord) error {
	if record.ArtifactID == "" {
		return fmt.Errorf("%w: artifact_id is required", model.ErrAuditWrite)
	}
	if record.Stage == "" {
		return fmt.Errorf("%w: stage is required", model.ErrAuditWrite)
	}
	return nil
}
