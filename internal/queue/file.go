package queue

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/example/outreachbot/internal/models"
)

// ReadJobs parses one JSON job per line. Lines without job_id get a fresh id
// in batchID; blank lines are skipped. The first invalid line aborts the read.
func ReadJobs(r io.Reader, batchID string, dryRunDefault bool) ([]models.OutreachJob, error) {
	if batchID == "" {
		batchID = NewBatchID()
	}
	var jobs []models.OutreachJob
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		job, err := DecodeJob(line, NewJobID(batchID), dryRunDefault)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if job.BatchID == "" {
			job.BatchID = batchID
		}
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	return jobs, nil
}
