package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/unburden/solvency/internal/model"
)

// FileStore is a durable audit log stored as JSON lines. Each append is
// written with O_APPEND and fsynced before it is acknowledged; the
// in-memory index is rebuilt from the file on open so records survive
// process restarts. Bytes past the last complete line were never
// acknowledged and are cut off before the next append.
type FileStore struct {
	path string

	mu      sync.Mutex
	file    *os.File
	index   map[string][]model.AuditRecord
	seq     uint64
	size    int64 // Offset just past the last complete line
	skipped int   // Undecodable lines found on open (e.g. a torn final write)
}

// OpenFileStore opens (or creates) the audit log at path
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: ensure dir: %w", err)
	}
	s := &FileStore{
		path:  path,
		index: make(map[string][]model.AuditRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	if err := f.Truncate(s.size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("audit: drop torn tail: %w", err)
	}
	s.file = f
	return s, nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("audit: read log: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			s.size += int64(len(line))
			s.decode(bytes.TrimSpace(line))
		} else if len(line) > 0 {
			// Torn final write
			s.skipped++
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("audit: read log: %w", err)
		}
	}
}

func (s *FileStore) decode(line []byte) {
	if len(line) == 0 {
		return
	}
	var rec model.AuditRecord
	if err := json.Unmarshal(line, &rec); err != nil || rec.ArtifactID == "" {
		s.skipped++
		return
	}
	s.index[rec.ArtifactID] = append(s.index[rec.ArtifactID], rec)
	if rec.Sequence > s.seq {
		s.seq = rec.Sequence
	}
}

// Append durably writes one record
func (s *FileStore) Append(ctx context.Context, record model.AuditRecord) (model.Ack, error) {
	if err := ctx.Err(); err != nil {
		return model.Ack{}, err
	}
	if err := validate(record); err != nil {
		return model.Ack{}, err
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return model.Ack{}, fmt.Errorf("%w: store closed", model.ErrAuditWrite)
	}

	record.Sequence = s.seq + 1
	data, err := json.Marshal(record)
	if err != nil {
		return model.Ack{}, fmt.Errorf("%w: marshal record: %v", model.ErrAuditWrite, err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return model.Ack{}, s.rollback(fmt.Errorf("%w: write record: %v", model.ErrAuditWrite, err))
	}
	if err := s.file.Sync(); err != nil {
		return model.Ack{}, s.rollback(fmt.Errorf("%w: sync log: %v", model.ErrAuditWrite, err))
	}

	s.size += int64(len(data))
	s.seq = record.Sequence
	s.index[record.ArtifactID] = append(s.index[record.ArtifactID], record)
	return model.Ack{ArtifactID: record.ArtifactID, Sequence: record.Sequence}, nil
}

// rollback cuts a failed append back to the last acknowledged record.
// Caller holds s.mu.
func (s *FileStore) rollback(cause error) error {
	if err := s.file.Truncate(s.size); err != nil {
		return fmt.Errorf("%w (truncate: %v)", cause, err)
	}
	return cause
}

// QueryByArtifact returns the records for an artifact in append order
func (s *FileStore) QueryByArtifact(ctx context.Context, artifactID string) ([]model.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditRecord(nil), s.index[artifactID]...), nil
}

// Skipped reports how many undecodable lines were ignored on open
func (s *FileStore) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Path returns the log file location
func (s *FileStore) Path() string {
	return s.path
}

// Close releases the file handle
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
