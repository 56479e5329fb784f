package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/unburden/solvency/internal/model"
)

// Submitter routes a request and runs its pipeline
type Submitter interface {
	Submit(ctx context.Context, req model.Request) (model.Submission, error)
}

// SubmitJob represents one request of a batch
type SubmitJob struct {
	Index     int
	Request   model.Request
	Submitter Submitter
}

// Execute executes the submit job
func (j *SubmitJob) Execute(ctx context.Context) Result {
	sub, err := j.Submitter.Submit(ctx, j.Request)
	requestID := sub.Decision.RequestID
	if requestID == "" {
		requestID = j.Request.RequestID
	}
	return &SubmitResult{
		Index:      j.Index,
		RequestID:  requestID,
		Submission: sub,
		Error:      err,
	}
}

// SubmitResult represents the result of a submit job
type SubmitResult struct {
	Index      int
	RequestID  string
	Submission model.Submission
	Error      error
}

// GetError returns the error from the submit result
func (r *SubmitResult) GetError() error {
	return r.Error
}

// BatchProcessor submits many requests concurrently
type BatchProcessor struct {
	submitter   Submitter
	concurrency int

	// OnResult, when set, is called as each result arrives (progress output)
	OnResult func(*SubmitResult)
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(submitter Submitter, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		submitter:   submitter,
		concurrency: concurrency,
	}
}

// ProcessRequests submits requests concurrently and returns results in
// input order
func (b *BatchProcessor) ProcessRequests(ctx context.Context, reqs []model.Request) []*SubmitResult {
	if len(reqs) == 0 {
		return []*SubmitResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	go func() {
		for i, req := range reqs {
			if !pool.Submit(&SubmitJob{Index: i, Request: req, Submitter: b.submitter}) {
				break
			}
		}
		pool.Close()
	}()

	results := make([]*SubmitResult, 0, len(reqs))
	for r := range pool.Results() {
		res := r.(*SubmitResult)
		if b.OnResult != nil {
			b.OnResult(res)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

// ProcessFile reads requests from a JSONL file and processes them
// concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*SubmitResult, error) {
	reqs, err := ReadRequestsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read requests: %w", err)
	}

	return b.ProcessRequests(ctx, reqs), nil
}

// ReadRequestsFromFile reads requests from a file (one JSON object per
// line). Blank lines and # comments are skipped; duplicate lines are
// submitted once.
func ReadRequestsFromFile(filePath string) ([]model.Request, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var reqs []model.Request
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true

		var req model.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		reqs = append(reqs, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return reqs, nil
}
