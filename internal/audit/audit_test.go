package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/outreachbot/internal/models"
)

func TestName(t *testing.T) {
	assert.Equal(t, "job-1_b2_sent.png", Name("job-1_b2", models.StatusSent, "png"))
	assert.Equal(t, "a_b_c_failed.html", Name("a/b:c", models.StatusFailed, "html"))
	assert.Equal(t, "unknown_failed.png", Name("  ", models.StatusFailed, "png"))
}

func TestFileSink_WritesArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "shots")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)
	ctx := context.Background()

	shot, err := sink.SaveScreenshot(ctx, "job-1", models.StatusFailed, []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job-1_failed.png"), shot)

	snap, err := sink.SaveSnapshot(ctx, "job-1", models.StatusFailed, "<html></html>")
	require.NoError(t, err)
	b, err := os.ReadFile(snap)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(b))
}
