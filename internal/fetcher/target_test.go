package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

func catalogRow(level domain.Level, entityType, code, name, metric string) domain.CatalogRow {
	return domain.CatalogRow{
		Level:  level,
		Entity: domain.Entity{Type: entityType, Code: code, Name: name},
		Metric: domain.Metric{Code: metric},
	}
}

func TestTargetsFromCatalog(t *testing.T) {
	rows := []domain.CatalogRow{
		catalogRow(domain.LevelCountry, "country", "SN", "Senegal", "bgp"),
		catalogRow(domain.LevelCountry, "country", "SN", "Senegal", "ping-slash24"),
		catalogRow(domain.LevelCountry, "country", "GH", "", "bgp"),
		catalogRow(domain.LevelRegion, "region", "4416", "Dakar", "bgp"),
		// Duplicate of an earlier row; must collapse.
		catalogRow(domain.LevelCountry, "country", "SN", "Senegal", "bgp"),
	}

	t.Run("both levels", func(t *testing.T) {
		targets := TargetsFromCatalog(rows, "both", nil, 0)
		require.Len(t, targets, 4)
		assert.Equal(t, "GH", targets[0].EntityID)
		assert.Equal(t, "GH", targets[0].EntityName) // name falls back to the id
		assert.Equal(t, "SN", targets[1].EntityID)
		assert.Equal(t, "bgp", targets[1].Metric)
		assert.Equal(t, "ping-slash24", targets[2].Metric)
		assert.Equal(t, domain.LevelRegion, targets[3].Level)
	})

	t.Run("level filter", func(t *testing.T) {
		targets := TargetsFromCatalog(rows, "region", nil, 0)
		require.Len(t, targets, 1)
		assert.Equal(t, "4416", targets[0].EntityID)
	})

	t.Run("metric filter", func(t *testing.T) {
		targets := TargetsFromCatalog(rows, "both", []string{"ping-slash24"}, 0)
		require.Len(t, targets, 1)
		assert.Equal(t, "SN", targets[0].EntityID)
	})

	t.Run("limit entities applies per level", func(t *testing.T) {
		targets := TargetsFromCatalog(rows, "both", nil, 1)
		require.Len(t, targets, 2)
		assert.Equal(t, "GH", targets[0].EntityID)
		assert.Equal(t, "4416", targets[1].EntityID)
	})
}

func TestResolveWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	covMin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	covMax := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC).Unix()

	base := Target{Level: domain.LevelCountry, EntityType: "country", EntityID: "SN", Metric: "bgp"}

	t.Run("explicit bounds win", func(t *testing.T) {
		w, ok := resolveWindow(base, Options{
			Start: now.Add(-48 * time.Hour),
			End:   now.Add(-24 * time.Hour),
		}, now)
		require.True(t, ok)
		assert.Equal(t, now.Add(-48*time.Hour), w.Start)
		assert.Equal(t, now.Add(-24*time.Hour), w.End)
	})

	t.Run("zero end means now", func(t *testing.T) {
		w, ok := resolveWindow(base, Options{Start: now.Add(-24 * time.Hour)}, now)
		require.True(t, ok)
		assert.Equal(t, now, w.End)
	})

	t.Run("coverage min fills missing start", func(t *testing.T) {
		target := base
		target.CoverageMin = &covMin
		w, ok := resolveWindow(target, Options{}, now)
		require.True(t, ok)
		assert.Equal(t, time.Unix(covMin, 0).UTC(), w.Start)
	})

	t.Run("no coverage defaults to thirty days", func(t *testing.T) {
		w, ok := resolveWindow(base, Options{}, now)
		require.True(t, ok)
		assert.Equal(t, now.Add(-30*24*time.Hour), w.Start)
	})

	t.Run("coverage max clamps the end", func(t *testing.T) {
		target := base
		target.CoverageMax = &covMax
		w, ok := resolveWindow(target, Options{Start: now.Add(-90 * 24 * time.Hour)}, now)
		require.True(t, ok)
		// One day of slack past the newest known bucket.
		assert.Equal(t, time.Unix(covMax, 0).UTC().Add(24*time.Hour), w.End)
	})

	t.Run("since last run starts after the stored max", func(t *testing.T) {
		prev := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
		lastRun := map[domain.TargetKey]time.Time{
			{Level: domain.LevelCountry, EntityID: "SN", Metric: "bgp"}: prev,
		}
		w, ok := resolveWindow(base, Options{SinceLastRun: true, LastRun: lastRun}, now)
		require.True(t, ok)
		assert.Equal(t, prev.Add(time.Second), w.Start)
	})

	t.Run("since last run without history falls back", func(t *testing.T) {
		w, ok := resolveWindow(base, Options{
			SinceLastRun: true,
			Start:        now.Add(-24 * time.Hour),
		}, now)
		require.True(t, ok)
		assert.Equal(t, now.Add(-24*time.Hour), w.Start)
	})

	t.Run("empty window is skipped", func(t *testing.T) {
		target := base
		target.CoverageMax = &covMax
		_, ok := resolveWindow(target, Options{Start: time.Unix(covMax, 0).Add(48 * time.Hour)}, now)
		assert.False(t, ok)
	})
}
