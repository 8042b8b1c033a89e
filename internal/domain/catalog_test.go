package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalogRows() []CatalogRow {
	return []CatalogRow{
		{
			Level:  LevelCountry,
			Entity: Entity{Type: "country", Code: "SN", Name: "Senegal"},
			Metric: Metric{Code: "bgp", Name: "BGP", Unit: "Visible /24s"},
		},
		{
			Level: LevelRegion,
			Entity: Entity{
				Type: "region", Code: "3564", Name: "Dakar",
				ParentCountryCode: "SN", ParentCountryName: "Senegal",
			},
			Metric: Metric{Code: "gtr", Name: "Google Transparency", Unit: "Normalized traffic"},
		},
	}
}

func TestCatalogIndexLookups(t *testing.T) {
	ix := NewCatalogIndex(testCatalogRows())

	e, ok := ix.Entity(LevelRegion, "3564")
	require.True(t, ok)
	assert.Equal(t, "Dakar", e.Name)
	assert.Equal(t, "SN", e.ParentCountryCode)

	_, ok = ix.Entity(LevelCountry, "ZZ")
	assert.False(t, ok)

	assert.Equal(t, "Visible /24s", ix.UnitFor("bgp"))
	// Derived keys fall back to the base metric's unit.
	assert.Equal(t, "Normalized traffic", ix.UnitFor("gtr__web_search"))
	assert.Equal(t, "", ix.UnitFor("never-heard-of-it"))
}

func TestCatalogIndexEnrich(t *testing.T) {
	ix := NewCatalogIndex(testCatalogRows())

	t.Run("fills missing identity fields", func(t *testing.T) {
		o := ix.Enrich(Observation{Level: LevelRegion, EntityID: "3564", MetricKey: "gtr__web_search"})

		assert.Equal(t, "Dakar", o.EntityName)
		assert.Equal(t, "SN", o.ParentCountryID)
		assert.Equal(t, "Senegal", o.ParentCountryName)
		assert.Equal(t, "Normalized traffic", o.Unit)
	})

	t.Run("payload fields win", func(t *testing.T) {
		o := ix.Enrich(Observation{Level: LevelRegion, EntityID: "3564", EntityName: "Dakar Region", Unit: "custom"})

		assert.Equal(t, "Dakar Region", o.EntityName)
		assert.Equal(t, "custom", o.Unit)
	})

	t.Run("unknown entity left alone", func(t *testing.T) {
		o := ix.Enrich(Observation{Level: LevelCountry, EntityID: "ZZ"})
		assert.Empty(t, o.EntityName)
	})

	t.Run("nil index is a no-op", func(t *testing.T) {
		var nilIx *CatalogIndex
		o := nilIx.Enrich(Observation{EntityID: "SN"})
		assert.Empty(t, o.EntityName)
	})
}

func TestCoverageRecordFresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := CoverageRecord{CheckedAt: now.Add(-time.Hour)}

	assert.True(t, rec.Fresh(now, 2*time.Hour))
	assert.False(t, rec.Fresh(now, 30*time.Minute))
	assert.False(t, CoverageRecord{}.Fresh(now, time.Hour))
}

func TestObservationKeys(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	o := Observation{
		Timestamp: ts, Level: LevelCountry, EntityID: "SN",
		MetricKey: "gtr-sarima__c_50", SeriesVariant: "product=WEB_SEARCH",
	}

	assert.Equal(t, ObservationKey{ts.Unix(), LevelCountry, "SN", "gtr-sarima__c_50", "product=WEB_SEARCH"}, o.Key())
	assert.Equal(t, "gtr-sarima__c_50__product=WEB_SEARCH", o.DisplayKey())
	assert.Equal(t, "bgp", Observation{MetricKey: "bgp"}.DisplayKey())
}
