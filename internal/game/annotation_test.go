package game_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/carbon-cards/internal/errors"
	"github.com/wfunc/carbon-cards/internal/models"
	"github.com/wfunc/carbon-cards/internal/repository"
)

func strp(s string) *string { return &s }

func TestSetCO2Estimate_UpsertCreatesEntry(t *testing.T) {
	env := newLedgerEnv(t, false)
	ctx := context.Background()
	sid, gid, card := env.f.Session.ID, env.f.Groups[0].ID, env.f.Cards[1]

	res, err := env.annotation.SetCO2Estimate(ctx, sid, gid, card.ID, 55)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 55, res.TotalCO2)
	require.Len(t, res.SelectedCards, 1)
	assert.Nil(t, res.SelectedCards[0].AcceptanceLevel)

	// 隐式创建不计入被选次数
	assert.Equal(t, int64(0), repository.ReloadCard(t, env.db, card.ID).TimesSelected)

	// 隐式创建后该卡视为已选，再次切换即取消选择
	toggled, err := env.selection.ToggleCardSelection(ctx, sid, gid, card.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Selected)
}

func TestAnnotation_OverwritesOnlyTargetField(t *testing.T) {
	env := newLedgerEnv(t, false)
	ctx := context.Background()
	sid, gid, cid := env.f.Session.ID, env.f.Groups[0].ID, env.f.Cards[0].ID

	_, err := env.selection.ToggleCardSelection(ctx, sid, gid, cid)
	require.NoError(t, err)

	_, err = env.annotation.SetCO2Estimate(ctx, sid, gid, cid, 10)
	require.NoError(t, err)

	acc, err := env.annotation.SetAcceptanceLevel(ctx, sid, gid, cid, strp(models.AcceptanceHigh))
	require.NoError(t, err)
	assert.False(t, acc.Created)
	require.NotNil(t, acc.Level)
	assert.Equal(t, models.AcceptanceHigh, *acc.Level)

	est, err := env.annotation.SetCO2Estimate(ctx, sid, gid, cid, 20)
	require.NoError(t, err)
	require.Len(t, est.SelectedCards, 1)
	entry := est.SelectedCards[0]
	require.NotNil(t, entry.AcceptanceLevel)
	assert.Equal(t, models.AcceptanceHigh, *entry.AcceptanceLevel)
	assert.Equal(t, 20, *entry.CO2Estimation)

	// 清除接受程度保留估值
	cleared, err := env.annotation.SetAcceptanceLevel(ctx, sid, gid, cid, nil)
	require.NoError(t, err)
	assert.Nil(t, cleared.Level)
	require.Len(t, cleared.SelectedCards, 1)
	assert.Nil(t, cleared.SelectedCards[0].AcceptanceLevel)
	assert.Equal(t, 20, *cleared.SelectedCards[0].CO2Estimation)

	empty, err := env.annotation.SetAcceptanceLevel(ctx, sid, gid, cid, strp(""))
	require.NoError(t, err)
	assert.Nil(t, empty.Level)
}

func TestAnnotation_InvalidArguments(t *testing.T) {
	env := newLedgerEnv(t, false)
	ctx := context.Background()
	sid, gid, cid := env.f.Session.ID, env.f.Groups[0].ID, env.f.Cards[0].ID

	_, err := env.annotation.SetAcceptanceLevel(ctx, sid, gid, cid, strp("extreme"))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParam))

	_, err = env.annotation.SetCO2Estimate(ctx, sid, gid, cid, -1)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParam))

	_, err = env.annotation.SetCO2Estimate(ctx, sid, 9999, cid, 3)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	other := repository.SeedSession(t, env.db, 1, 1, 1)
	_, err = env.annotation.SetCO2Estimate(ctx, sid, other.Groups[0].ID, cid, 3)
	assert.True(t, apperrors.Is(err, apperrors.ErrGroupMismatch), "%v", err)

	assert.Equal(t, int64(0), env.ledgerCount(t))
}

func TestAnnotation_StrictModeRequiresSelection(t *testing.T) {
	env := newLedgerEnv(t, true)
	ctx := context.Background()
	sid, gid, cid := env.f.Session.ID, env.f.Groups[0].ID, env.f.Cards[0].ID

	_, err := env.annotation.SetCO2Estimate(ctx, sid, gid, cid, 3)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = env.annotation.SetAcceptanceLevel(ctx, sid, gid, cid, strp(models.AcceptanceLow))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	assert.Equal(t, int64(0), env.ledgerCount(t))

	_, err = env.selection.ToggleCardSelection(ctx, sid, gid, cid)
	require.NoError(t, err)

	res, err := env.annotation.SetCO2Estimate(ctx, sid, gid, cid, 3)
	require.NoError(t, err)
	assert.False(t, res.Created)
}
