package service

import (
	"context"
	"strings"

	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/game"
	"github.com/wfunc/carbon-cards/internal/models"
	"github.com/wfunc/carbon-cards/internal/repository"
	"go.uber.org/zap"
)

// sessionService 会话配置服务实现。
// 只负责创建会话和签发令牌，阶段推进全部交给同步引擎。
type sessionService struct {
	repos *repository.Manager
	auth  AuthService
	log   *zap.Logger
}

// NewSessionService 创建会话配置服务
func NewSessionService(repos *repository.Manager, auth AuthService, log *zap.Logger) SessionService {
	return &sessionService{repos: repos, auth: auth, log: log}
}

// CreateSession 创建会话和小组，新会话处于大厅阶段、待开始状态
func (s *sessionService) CreateSession(ctx context.Context, adminID uint, req *CreateSessionRequest) (*models.Session, error) {
	if len(req.Groups) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "至少需要一个小组")
	}

	groups := make([]models.Group, 0, len(req.Groups))
	seen := make(map[string]bool, len(req.Groups))
	for _, name := range req.Groups {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, apperrors.New(apperrors.ErrInvalidParam, "小组名称不能为空")
		}
		if seen[name] {
			return nil, apperrors.Newf(apperrors.ErrInvalidParam, "小组名称重复: %s", name)
		}
		seen[name] = true
		groups = append(groups, models.Group{Name: name})
	}

	session := &models.Session{
		AdminID: adminID,
		DeckID:  req.DeckID,
		Phase:   models.PhaseLobby,
		Status:  models.SessionStatusPending,
		Groups:  groups,
	}

	err := s.repos.Transaction().WithTransaction(ctx, func(tx *repository.Transaction) error {
		if _, err := tx.Admin().FindByID(ctx, adminID); err != nil {
			return err
		}
		if _, err := tx.Deck().FindByID(ctx, req.DeckID); err != nil {
			return err
		}
		return tx.Session().Create(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("创建会话",
		zap.Uint("session_id", session.ID),
		zap.Uint("admin_id", adminID),
		zap.Uint("deck_id", req.DeckID),
		zap.Int("groups", len(groups)),
	)
	return session, nil
}

// ListSessions 分页列出管理员创建的会话
func (s *sessionService) ListSessions(ctx context.Context, adminID uint, page, pageSize int) ([]*models.Session, int64, error) {
	p := repository.NewPagination(page, pageSize)
	sessions, err := s.repos.Session().ListByAdmin(ctx, adminID, p)
	if err != nil {
		return nil, 0, err
	}
	return sessions, p.Total, nil
}

// TableTokens 为每个小组签发桌面令牌
func (s *sessionService) TableTokens(ctx context.Context, adminID, sessionID uint) ([]TableToken, error) {
	session, err := s.repos.Session().FindByIDWithGroups(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.AdminID != adminID {
		return nil, apperrors.Newf(apperrors.ErrPermissionDenied, "会话 %d 不属于当前管理员", sessionID)
	}
	if session.IsClosed() {
		return nil, apperrors.New(apperrors.ErrSessionClosed)
	}

	tokens := make([]TableToken, 0, len(session.Groups))
	for i, g := range session.Groups {
		token, err := s.auth.IssueTableToken(session.ID, g.ID)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, TableToken{
			GroupID:    g.ID,
			GroupName:  g.Name,
			TableIndex: i,
			Token:      token,
		})
	}

	s.log.Debug("签发桌面令牌", zap.Uint("session_id", sessionID), zap.Int("count", len(tokens)))
	return tokens, nil
}

// State 会话快照
func (s *sessionService) State(ctx context.Context, sessionID uint) (*game.SessionView, error) {
	return game.BuildSessionView(ctx, s.repos.Ledger(), sessionID)
}
