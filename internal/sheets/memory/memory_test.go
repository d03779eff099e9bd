package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costlens/internal/sheets"
)

func TestExportSummary(t *testing.T) {
	e := New()
	lines := []sheets.Line{{Service: "S3", Cost: "0.1"}}
	ref, err := e.ExportSummary(context.Background(), sheets.Summary{Month: "2024-05", Identity: "1", Services: lines})
	require.NoError(t, err)
	assert.Equal(t, "mem:1", ref)

	lines[0].Cost = "9"
	got := e.List()
	require.Len(t, got, 1)
	assert.Equal(t, "0.1", got[0].Services[0].Cost)

	_, err = e.ExportSummary(context.Background(), sheets.Summary{Month: "2024-05"})
	assert.Error(t, err)
}
