package game

import (
	"github.com/wfunc/carbon-cards/internal/models"
)

// ViewTable 计算桌号为 own 的客户端在当前阶段应显示哪张桌子。
// 估值阶段看下一张桌，投票阶段看下下张桌，选择和结果阶段看自己的桌。
// 没有桌子或处于大厅阶段时返回 NoTable。
func ViewTable(own, tables, phase int) int {
	if tables <= 0 || own < 0 || phase == models.PhaseLobby {
		return NoTable
	}
	own %= tables

	switch phase {
	case models.PhaseEstimation:
		return (own + 1) % tables
	case models.PhaseVoting:
		return (own + 2) % tables
	default:
		return own
	}
}

// TableIndex 小组在会话中的桌号（按ID升序的位置），不在列表中返回 NoTable
func TableIndex(groups []models.Group, groupID uint) int {
	for i, g := range groups {
		if g.ID == groupID {
			return i
		}
	}
	return NoTable
}
