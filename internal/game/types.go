package game

import (
	"time"
)

// NoTable 没有可显示的桌子
const NoTable = -1

// PhaseState 状态机每次写入后的会话状态
type PhaseState struct {
	SessionID     uint       `json:"sessionId"`
	Phase         int        `json:"phase"`
	Round         int        `json:"round"`
	Status        string     `json:"status"`
	Version       int64      `json:"version"`
	CategoryCount int        `json:"categoryCount"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	// PhaseAdvanced 本次操作改变了阶段（而不只是轮次）
	PhaseAdvanced bool `json:"-"`
	// Ended 本次操作把会话从进行中变为结束
	Ended bool `json:"-"`
}

// SelectedCard 小组账本中的一张卡牌
type SelectedCard struct {
	GroupID         uint    `json:"-"`
	CardID          uint    `json:"cardId"`
	CategoryID      uint    `json:"categoryId"`
	Value           int     `json:"value"`
	CO2Estimation   *int    `json:"co2Estimation,omitempty"`
	AcceptanceLevel *string `json:"acceptanceLevel,omitempty"`
}

// EffectiveCO2 小组估值优先，未估值时使用卡牌标准值
func (c SelectedCard) EffectiveCO2() int {
	if c.CO2Estimation != nil {
		return *c.CO2Estimation
	}
	return c.Value
}

// TotalCO2 计算一组卡牌的CO₂总量
func TotalCO2(cards []SelectedCard) int {
	total := 0
	for _, c := range cards {
		total += c.EffectiveCO2()
	}
	return total
}

// SelectionResult 切换选择的结果
type SelectionResult struct {
	SessionID     uint           `json:"sessionId"`
	GroupID       uint           `json:"groupId"`
	CardID        uint           `json:"cardId"`
	Selected      bool           `json:"selected"`
	TotalCO2      int            `json:"totalCO2"`
	SelectedCards []SelectedCard `json:"selectedCards"`
}

// EstimateResult CO₂估值结果
type EstimateResult struct {
	SessionID uint `json:"sessionId"`
	GroupID   uint `json:"groupId"`
	CardID    uint `json:"cardId"`
	Value     int  `json:"value"`
	TotalCO2  int  `json:"totalCO2"`
	// Created 估值时账本中还没有这张卡，本次隐式创建
	Created       bool           `json:"-"`
	SelectedCards []SelectedCard `json:"-"`
}

// AcceptanceResult 接受程度投票结果
type AcceptanceResult struct {
	SessionID     uint           `json:"sessionId"`
	GroupID       uint           `json:"groupId"`
	CardID        uint           `json:"cardId"`
	Level         *string        `json:"level"`
	Created       bool           `json:"-"`
	TotalCO2      int            `json:"-"`
	SelectedCards []SelectedCard `json:"-"`
}

// GroupView 快照中的一个小组
type GroupView struct {
	GroupID       uint           `json:"groupId"`
	Name          string         `json:"name"`
	TableIndex    int            `json:"tableIndex"`
	TotalCO2      int            `json:"totalCO2"`
	SelectedCards []SelectedCard `json:"selectedCards"`
}

// SessionView 会话完整快照
type SessionView struct {
	SessionID     uint        `json:"sessionId"`
	Phase         int         `json:"phase"`
	Round         int         `json:"round"`
	Status        string      `json:"status"`
	Version       int64       `json:"version"`
	CategoryCount int         `json:"categoryCount"`
	TotalCO2      int         `json:"totalCO2"`
	Groups        []GroupView `json:"groups"`
}

// Group 按ID查找快照中的小组
func (v *SessionView) Group(groupID uint) *GroupView {
	for i := range v.Groups {
		if v.Groups[i].GroupID == groupID {
			return &v.Groups[i]
		}
	}
	return nil
}
