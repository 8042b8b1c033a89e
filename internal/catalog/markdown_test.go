package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

func TestWriteMarkdown(t *testing.T) {
	minTS := int64(1500000000)
	maxTS := int64(1700000000)
	c := &Catalog{
		RegionName: "West Africa",
		Countries:  []domain.Entity{{Type: "country", Code: "SN", Name: "Senegal"}},
		Regions: []domain.Entity{
			{Type: "region", Code: "4416", Name: "Dakar", ParentCountryCode: "SN"},
			{Type: "region", Code: "4420", Name: "Thies", ParentCountryCode: "SN"},
		},
		Metrics: []domain.Metric{{Code: "bgp", Name: "BGP", Unit: "# Visible /24s"}},
	}
	rows := c.Rows(map[string]domain.CoverageRecord{
		domain.CoverageKey("country", "SN", "bgp"): {
			EntityType: "country", EntityCode: "SN", Metric: "bgp",
			Status: domain.CoverageOK, MinTS: &minTS, MaxTS: &maxTS,
		},
	})

	path := filepath.Join(t.TempDir(), "docs", "entity_catalog.md")
	generatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, WriteMarkdown(path, c, rows, generatedAt))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	got := string(raw)

	assert.Contains(t, got, "# IODA Entity Catalog (West Africa)")
	assert.Contains(t, got, "- Generated at: `2026-03-01T12:00:00Z`")
	assert.Contains(t, got, "- Countries discovered (target set): `1`")
	assert.Contains(t, got, "- Regions discovered (target set): `2`")
	assert.Contains(t, got, "- `bgp`: BGP (units: # Visible /24s)")
	assert.Contains(t, got, "| SN | Senegal | 2 |")
	assert.Contains(t, got, "- Catalog rows (entity x metric): `3`")
	assert.Contains(t, got, "- Coverage rows with status `ok`: `1`")
	assert.Contains(t, got, "  - `ok`: 1")
	assert.Contains(t, got, "  - `unknown`: 2")
	assert.Contains(t, got, "| country | SN | Senegal | bgp | 2017-07-14T02:40:00Z | 2023-11-14T22:13:20Z | ok |")
}

func TestWriteMarkdownTruncatesSample(t *testing.T) {
	c := &Catalog{RegionName: "West Africa"}
	for i := 0; i < 30; i++ {
		c.Countries = append(c.Countries, domain.Entity{Type: "country", Code: string(rune('A' + i%26))})
	}
	c.Metrics = []domain.Metric{{Code: "bgp"}}
	rows := c.Rows(nil)

	path := filepath.Join(t.TempDir(), "catalog.md")
	require.NoError(t, WriteMarkdown(path, c, rows, time.Now()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "### Sample Rows (first 20)")
}
