package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// WriteMarkdown renders the human-readable catalog summary. rows carry
// the coverage join; generatedAt is injected so output stays testable.
func WriteMarkdown(path string, c *Catalog, rows []domain.CatalogRow, generatedAt time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create docs dir: %w", err)
	}

	regionCounts := make(map[string]int)
	for _, r := range c.Regions {
		regionCounts[r.ParentCountryCode]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# IODA Entity Catalog (%s)\n\n", c.RegionName)
	fmt.Fprintf(&b, "- Generated at: `%s`\n", generatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Countries discovered (target set): `%d`\n", len(c.Countries))
	fmt.Fprintf(&b, "- Regions discovered (target set): `%d`\n", len(c.Regions))
	fmt.Fprintf(&b, "- Datasources discovered: `%d`\n\n", len(c.Metrics))

	b.WriteString("## Datasources\n\n")
	for _, m := range c.Metrics {
		fmt.Fprintf(&b, "- `%s`: %s (units: %s)\n", m.Code, m.Name, m.Unit)
	}
	b.WriteString("\n")

	b.WriteString("## Countries and Region Counts\n\n")
	b.WriteString("| Country Code | Country Name | Regions |\n")
	b.WriteString("|---|---|---:|\n")
	for _, country := range c.Countries {
		fmt.Fprintf(&b, "| %s | %s | %d |\n", country.Code, country.Name, regionCounts[country.Code])
	}
	b.WriteString("\n")

	if len(rows) > 0 {
		writeCoverageSummary(&b, rows)
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeCoverageSummary(b *strings.Builder, rows []domain.CatalogRow) {
	okCount := 0
	statusCounts := make(map[string]int)
	for _, row := range rows {
		status := string(row.Coverage.Status)
		if status == "" {
			status = string(domain.CoverageUnknown)
		}
		statusCounts[status]++
		if row.Coverage.Status == domain.CoverageOK {
			okCount++
		}
	}

	b.WriteString("## Coverage Summary\n\n")
	fmt.Fprintf(b, "- Catalog rows (entity x metric): `%d`\n", len(rows))
	fmt.Fprintf(b, "- Coverage rows with status `ok`: `%d`\n", okCount)
	b.WriteString("- Coverage status counts:\n")
	statuses := make([]string, 0, len(statusCounts))
	for status := range statusCounts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(b, "  - `%s`: %d\n", status, statusCounts[status])
	}

	b.WriteString("\n### Sample Rows (first 20)\n\n")
	b.WriteString("| level | entity_id | entity_name | metric | min | max | status |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	sample := rows
	if len(sample) > 20 {
		sample = sample[:20]
	}
	for _, row := range sample {
		fmt.Fprintf(b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			row.Level, row.Entity.Code, row.Entity.Name, row.Metric.Code,
			epochUTC(row.Coverage.MinTS), epochUTC(row.Coverage.MaxTS), row.Coverage.Status)
	}
}

func epochUTC(ts *int64) string {
	if ts == nil {
		return ""
	}
	return time.Unix(*ts, 0).UTC().Format(time.RFC3339)
}
