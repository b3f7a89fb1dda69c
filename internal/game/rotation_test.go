package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wfunc/carbon-cards/internal/models"
)

func TestViewTable_FourTables(t *testing.T) {
	var got []int
	for _, phase := range []int{1, 2, 3, 4} {
		got = append(got, ViewTable(2, 4, phase))
	}
	assert.Equal(t, []int{2, 3, 0, 2}, got)
}

func TestViewTable(t *testing.T) {
	tests := []struct {
		name               string
		own, tables, phase int
		expected           int
	}{
		{"没有桌子", 0, 0, 2, NoTable},
		{"大厅阶段", 1, 3, 0, NoTable},
		{"无效桌号", -1, 3, 1, NoTable},
		{"单桌估值看自己", 0, 1, 2, 0},
		{"两桌投票绕回自己", 1, 2, 3, 1},
		{"三桌估值", 2, 3, 2, 0},
		{"三桌投票", 2, 3, 3, 1},
		{"未知阶段看自己", 1, 3, 7, 1},
		{"桌号超出后取模", 5, 4, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ViewTable(tt.own, tt.tables, tt.phase))
		})
	}
}

func TestViewTable_EveryTableReviewedByAnother(t *testing.T) {
	for n := 3; n <= 6; n++ {
		for _, phase := range []int{2, 3} {
			seen := make(map[int]int)
			for g := 0; g < n; g++ {
				v := ViewTable(g, n, phase)
				assert.NotEqual(t, g, v)
				seen[v]++
			}
			// 每张桌子恰好被一个其他小组查看
			assert.Len(t, seen, n)
		}
	}
}

func TestTableIndex(t *testing.T) {
	groups := []models.Group{{BaseModel: models.BaseModel{ID: 4}}, {BaseModel: models.BaseModel{ID: 9}}}
	assert.Equal(t, 0, TableIndex(groups, 4))
	assert.Equal(t, 1, TableIndex(groups, 9))
	assert.Equal(t, NoTable, TableIndex(groups, 5))
}

func TestTotalCO2(t *testing.T) {
	est := 5
	cards := []SelectedCard{{Value: 100}, {Value: 200, CO2Estimation: &est}}
	assert.Equal(t, 105, TotalCO2(cards))
	assert.Equal(t, 0, TotalCO2(nil))
}
