// Package audit stores per-attempt screenshots and page snapshots for manual review.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/outreachbot/internal/models"
)

// FileSink writes artifacts under one directory, named from job id and outcome.
// Re-running a job overwrites its artifact for the same outcome.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) SaveScreenshot(_ context.Context, jobID string, status models.OutcomeStatus, png []byte) (string, error) {
	return s.write(Name(jobID, status, "png"), png)
}

func (s *FileSink) SaveSnapshot(_ context.Context, jobID string, status models.OutcomeStatus, html string) (string, error) {
	return s.write(Name(jobID, status, "html"), []byte(html))
}

func (s *FileSink) write(name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// Name is the artifact file name for a job attempt.
func Name(jobID string, status models.OutcomeStatus, ext string) string {
	return fmt.Sprintf("%s_%s.%s", sanitize(jobID), status, ext)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
