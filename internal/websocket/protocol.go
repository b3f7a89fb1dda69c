package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
)

// 客户端命令
const (
	CmdJoinSession     = "joinSession"
	CmdChangePhase     = "changePhase"
	CmdSelectCard      = "selectCard"
	CmdCO2Estimation   = "co2Estimation"
	CmdAcceptanceLevel = "acceptanceLevel"
	CmdEndPhase        = "endPhase"
	CmdEndSession      = "endSession"
	CmdPing            = "ping"
)

// 服务端事件
const (
	EventConnected       = "connected"
	EventSessionState    = "sessionState"
	EventPhaseChanged    = "phaseChanged"
	EventCardSelected    = "cardSelected"
	EventCO2Estimation   = "co2Estimation"
	EventAcceptanceLevel = "acceptanceLevel"
	EventSessionEnded    = "sessionEnded"
	EventError           = "error"
	EventPong            = "pong"

	// TypeAck 命令确认
	TypeAck = "ack"
)

// Command 客户端发来的命令帧
type Command struct {
	Type  string          `json:"type"`
	AckID string          `json:"ack_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame 服务端发出的帧，确认和事件共用
type Frame struct {
	Type      string          `json:"type"`
	AckID     string          `json:"ack_id,omitempty"`
	OK        *bool           `json:"ok,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *AckError       `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// IsAck 是否为命令确认
func (f *Frame) IsAck() bool {
	return f.Type == TypeAck
}

// AckError 确认中携带的错误
type AckError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Err 转换为应用错误
func (e *AckError) Err() error {
	if e == nil {
		return nil
	}
	return &apperrors.AppError{Code: apperrors.ErrorCode(e.Code), Message: e.Message}
}

// SessionRef 只带会话ID的载荷，用于 endPhase / endSession
type SessionRef struct {
	SessionID uint `json:"sessionId"`
}

// JoinSessionPayload 加入会话，兼容 {"sessionId":1} 和裸数字 1
type JoinSessionPayload struct {
	SessionID uint `json:"sessionId"`
}

// UnmarshalJSON 解析对象或裸数字
func (p *JoinSessionPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return json.Unmarshal(trimmed, &p.SessionID)
	}
	var ref SessionRef
	if err := json.Unmarshal(trimmed, &ref); err != nil {
		return err
	}
	p.SessionID = ref.SessionID
	return nil
}

// ChangePhasePayload 切换阶段
type ChangePhasePayload struct {
	SessionID uint `json:"sessionId"`
	NewPhase  *int `json:"newPhase"`
}

// SelectCardPayload 切换选卡
type SelectCardPayload struct {
	SessionID uint `json:"sessionId"`
	GroupID   uint `json:"groupId"`
	CardID    uint `json:"cardId"`
}

// CO2EstimationPayload 设置CO₂估值
type CO2EstimationPayload struct {
	SessionID uint `json:"sessionId"`
	GroupID   uint `json:"groupId"`
	CardID    uint `json:"cardId"`
	Value     *int `json:"value"`
}

// AcceptanceLevelPayload 设置接受程度，level 为 null 表示清除
type AcceptanceLevelPayload struct {
	SessionID uint    `json:"sessionId"`
	GroupID   uint    `json:"groupId"`
	CardID    uint    `json:"cardId"`
	Level     *string `json:"level"`
}

// ConnectedEvent 连接建立后发给该连接
type ConnectedEvent struct {
	ClientID  string `json:"clientId"`
	Resumed   bool   `json:"resumed"`
	SessionID uint   `json:"sessionId,omitempty"`
}

// GroupRef 阶段变化时附带的小组列表
type GroupRef struct {
	GroupID    uint   `json:"groupId"`
	Name       string `json:"name"`
	TableIndex int    `json:"tableIndex"`
}

// PhaseChangedEvent 阶段或轮次变化
type PhaseChangedEvent struct {
	SessionID uint       `json:"sessionId"`
	Phase     int        `json:"phase"`
	Round     int        `json:"round"`
	Status    string     `json:"status"`
	Version   int64      `json:"version"`
	Groups    []GroupRef `json:"groups,omitempty"`
}

// SessionEndedEvent 会话结束
type SessionEndedEvent struct {
	SessionID uint       `json:"sessionId"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// ErrorEvent 发给单个连接的错误
type ErrorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CardSelectedEvent 选卡变化
type CardSelectedEvent = game.SelectionResult

// CO2EstimationEvent 估值变化
type CO2EstimationEvent = game.EstimateResult

// AcceptanceLevelEvent 接受程度变化
type AcceptanceLevelEvent = game.AcceptanceResult

// EncodeCommand 编码命令帧
func EncodeCommand(cmdType, ackID string, payload interface{}) ([]byte, error) {
	cmd := Command{Type: cmdType, AckID: ackID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrMessageFormat, "编码命令失败")
		}
		cmd.Data = data
	}
	return json.Marshal(cmd)
}

// DecodeCommand 解析命令帧
func DecodeCommand(raw []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMessageFormat, "消息不是有效的JSON")
	}
	if cmd.Type == "" {
		return nil, apperrors.New(apperrors.ErrMessageFormat, "消息类型不能为空")
	}
	return &cmd, nil
}

// DecodePayload 解析命令载荷
func DecodePayload(cmd *Command, v interface{}) error {
	if len(cmd.Data) == 0 || string(cmd.Data) == "null" {
		return apperrors.Newf(apperrors.ErrInvalidParam, "%s 缺少参数", cmd.Type)
	}
	if err := json.Unmarshal(cmd.Data, v); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrInvalidParam, "%s 参数格式错误", cmd.Type)
	}
	return nil
}

// EncodeEvent 编码事件帧
func EncodeEvent(eventType string, payload interface{}, now time.Time) ([]byte, error) {
	frame := Frame{Type: eventType, Timestamp: now.Unix()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("编码事件 %s 失败: %w", eventType, err)
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}

// EncodeAck 编码确认帧，err 不为空时为失败确认
func EncodeAck(ackID string, result interface{}, err error) ([]byte, error) {
	ok := err == nil
	frame := Frame{Type: TypeAck, AckID: ackID, OK: &ok}
	if err != nil {
		frame.Error = ackErrorOf(err)
		return json.Marshal(frame)
	}
	if result != nil {
		data, mErr := json.Marshal(result)
		if mErr != nil {
			return nil, fmt.Errorf("编码确认失败: %w", mErr)
		}
		frame.Data = data
	}
	return json.Marshal(frame)
}

// DecodeFrame 解析服务端帧
func DecodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMessageFormat, "服务端消息不是有效的JSON")
	}
	return &f, nil
}

// ackErrorOf 错误转换为确认错误，非应用错误不暴露内部信息
func ackErrorOf(err error) *AckError {
	if appErr, ok := apperrors.As(err); ok {
		return &AckError{Code: int(appErr.Code), Message: apperrors.PublicMessage(appErr)}
	}
	return &AckError{Code: int(apperrors.ErrUnknown), Message: apperrors.PublicMessage(err)}
}
