package websocket

import (
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
)

// 连接身份
const (
	RoleGuest = ""
	RoleAdmin = "admin"
	RoleTable = "table"
)

// Identity 连接携带的令牌身份
type Identity struct {
	Role    string
	AdminID uint
	// SessionID/GroupID 桌面令牌绑定的会话和小组
	SessionID uint
	GroupID   uint
}

// adminCommands 只有管理员可以推进会话
var adminCommands = map[string]bool{
	CmdChangePhase: true,
	CmdEndPhase:    true,
	CmdEndSession:  true,
}

// authorize 开启角色校验时检查命令权限；桌面令牌只能操作自己会话中的自己小组
func authorize(enforce bool, id Identity, cmdType string, t commandTarget) error {
	if !enforce || id.Role == RoleAdmin {
		return nil
	}

	if id.Role == RoleGuest {
		if cmdType == CmdJoinSession {
			return nil
		}
		return apperrors.New(apperrors.ErrPermissionDenied, "需要登录")
	}

	if id.SessionID != t.SessionID {
		return apperrors.Newf(apperrors.ErrPermissionDenied, "令牌不属于会话 %d", t.SessionID)
	}
	if adminCommands[cmdType] {
		return apperrors.Newf(apperrors.ErrPermissionDenied, "%s 需要管理员权限", cmdType)
	}
	if cmdType != CmdJoinSession && id.GroupID != t.GroupID {
		return apperrors.Newf(apperrors.ErrPermissionDenied, "令牌不属于小组 %d", t.GroupID)
	}
	return nil
}
