package normalize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

func TestWriteObservationsCSV(t *testing.T) {
	val := 10.5
	obs := []domain.Observation{
		{
			Timestamp:         time.Unix(1700000000, 0).UTC(),
			Level:             domain.LevelCountry,
			EntityID:          "SN",
			EntityName:        "Senegal",
			MetricKey:         "ping-slash24",
			Value:             &val,
			Unit:              "# Unique Normal Pingable /24s",
			StepSeconds:       600,
			NativeStepSeconds: 600,
			SourceFields:      "{}",
			RawFile:           "raw/country/ping-slash24/SN/1700000000_1700001200.json",
			RawWindowStart:    1700000000,
		},
		{
			Timestamp:      time.Unix(1700000600, 0).UTC(),
			Level:          domain.LevelCountry,
			EntityID:       "SN",
			EntityName:     "Senegal",
			MetricKey:      "ping-slash24",
			Value:          nil,
			StepSeconds:    600,
			RawFile:        "raw/country/ping-slash24/SN/1700000000_1700001200.json",
			RawWindowStart: 1700000000,
		},
	}

	path := filepath.Join(t.TempDir(), "processed", "ioda_long.csv")
	require.NoError(t, WriteObservationsCSV(path, obs))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t,
		"timestamp_utc,level,entity_id,entity_name,parent_country_id,parent_country_name,"+
			"metric_key,series_variant,value,unit,step_seconds,native_step_seconds,"+
			"source_fields_json,raw_file,raw_window_start_ts,duplicate_key_count",
		lines[0])
	assert.Equal(t,
		"2023-11-14T22:13:20Z,country,SN,Senegal,,,ping-slash24,,10.5,# Unique Normal Pingable /24s,"+
			"600,600,{},raw/country/ping-slash24/SN/1700000000_1700001200.json,1700000000,0",
		lines[1])
	// Null values render as an empty cell.
	assert.Contains(t, lines[2], ",ping-slash24,,,")
}

func TestWritePanelCSV(t *testing.T) {
	v := 7.0
	p := Panel{
		Level:   domain.LevelCountry,
		Columns: []string{"bgp", "gtr-sarima__p50__team=team-1"},
		Rows: []PanelRow{
			{
				Timestamp:  time.Unix(1700000000, 0).UTC(),
				EntityID:   "SN",
				EntityName: "Senegal",
				Values:     map[string]*float64{"bgp": &v},
			},
		},
	}

	path := filepath.Join(t.TempDir(), "ioda_country_panel.csv")
	require.NoError(t, WritePanelCSV(path, p))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t,
		"timestamp_utc,entity_id,entity_name,parent_country_id,parent_country_name,"+
			"bgp,gtr-sarima__p50__team=team-1",
		lines[0])
	// The absent column renders empty.
	assert.Equal(t, "2023-11-14T22:13:20Z,SN,Senegal,,,7,", lines[1])
}

func TestWriteCSVReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ioda_long.csv")

	require.NoError(t, WriteObservationsCSV(path, []domain.Observation{{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Level:     domain.LevelCountry,
		EntityID:  "SN",
		MetricKey: "bgp",
	}}))
	require.NoError(t, WriteObservationsCSV(path, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	assert.Len(t, lines, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestWriteCSVIsDeterministic(t *testing.T) {
	val := 1.0
	obs := []domain.Observation{{
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Level:     domain.LevelCountry,
		EntityID:  "SN",
		MetricKey: "bgp",
		Value:     &val,
	}}

	dir := t.TempDir()
	first := filepath.Join(dir, "a.csv")
	second := filepath.Join(dir, "b.csv")
	require.NoError(t, WriteObservationsCSV(first, obs))
	require.NoError(t, WriteObservationsCSV(second, obs))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
