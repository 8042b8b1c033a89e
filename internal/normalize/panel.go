package normalize

import (
	"sort"
	"time"

	"github.com/cheikh-a/ioda-pipeline/internal/domain"
)

// Panel is a wide table for one entity level: one row per timestamp and
// entity, one column per display key.
type Panel struct {
	Level   domain.Level
	Columns []string
	Rows    []PanelRow
}

// PanelRow is one pivoted row. Values maps display keys to values; a
// missing key means the series had no row at this timestamp.
type PanelRow struct {
	Timestamp         time.Time
	EntityID          string
	EntityName        string
	ParentCountryID   string
	ParentCountryName string
	Values            map[string]*float64
}

type panelKey struct {
	ts                int64
	entityID          string
	entityName        string
	parentCountryID   string
	parentCountryName string
}

// BuildPanel pivots observations at one level into a wide table. When two
// rows land on the same cell the first in table order wins. Columns are
// sorted; rows come out ordered by entity then timestamp.
func BuildPanel(obs []domain.Observation, level domain.Level) Panel {
	byKey := make(map[panelKey]*PanelRow)
	colSet := make(map[string]bool)
	var order []panelKey

	for _, o := range obs {
		if o.Level != level {
			continue
		}
		col := o.DisplayKey()
		colSet[col] = true

		k := panelKey{
			ts:                o.Timestamp.Unix(),
			entityID:          o.EntityID,
			entityName:        o.EntityName,
			parentCountryID:   o.ParentCountryID,
			parentCountryName: o.ParentCountryName,
		}
		row, ok := byKey[k]
		if !ok {
			row = &PanelRow{
				Timestamp:         o.Timestamp,
				EntityID:          o.EntityID,
				EntityName:        o.EntityName,
				ParentCountryID:   o.ParentCountryID,
				ParentCountryName: o.ParentCountryName,
				Values:            make(map[string]*float64),
			}
			byKey[k] = row
			order = append(order, k)
		}
		if _, filled := row.Values[col]; !filled {
			row.Values[col] = o.Value
		}
	}

	columns := make([]string, 0, len(colSet))
	for c := range colSet {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.entityID != b.entityID {
			return a.entityID < b.entityID
		}
		if a.ts != b.ts {
			return a.ts < b.ts
		}
		if a.entityName != b.entityName {
			return a.entityName < b.entityName
		}
		if a.parentCountryID != b.parentCountryID {
			return a.parentCountryID < b.parentCountryID
		}
		return a.parentCountryName < b.parentCountryName
	})

	rows := make([]PanelRow, 0, len(order))
	for _, k := range order {
		rows = append(rows, *byKey[k])
	}
	return Panel{Level: level, Columns: columns, Rows: rows}
}
