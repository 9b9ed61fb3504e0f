package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/income-verifier/internal/errors"
	"github.com/income-verifier/internal/types"
)

func TestSetLabel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := AnnotationTarget{UserID: "user-1", TxHash: "0xABC", ChainID: types.ChainEthereum, WalletID: "w-eth"}

	meta, err := f.meta.SetLabel(ctx, target, "Freelance")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", meta.TxHash)
	assert.Equal(t, "Freelance", *meta.Label)
	assert.Equal(t, "w-eth", meta.WalletID)

	cleared, err := f.meta.SetLabel(ctx, target, "   ")
	require.NoError(t, err)
	assert.Equal(t, meta.ID, cleared.ID)
	assert.Nil(t, cleared.Label, "blank label is stored as null")
}

func TestSetLabelAndLinkPreserveEachOther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := AnnotationTarget{UserID: "user-1", TxHash: "0xabc", ChainID: types.ChainEthereum, WalletID: "w-eth"}

	_, err := f.meta.SetLabel(ctx, target, "Salary")
	require.NoError(t, err)
	linked, err := f.meta.LinkVerifiedSender(ctx, target, "s-payroll")
	require.NoError(t, err)
	assert.Equal(t, "Salary", *linked.Label)
	assert.Equal(t, "Acme Payroll", linked.VerifiedSender.CompanyName)

	relabeled, err := f.meta.SetLabel(ctx, target, "Bonus")
	require.NoError(t, err)
	require.NotNil(t, relabeled.VerifiedSenderID)
	assert.Equal(t, "s-payroll", *relabeled.VerifiedSenderID)
}

func TestAnnotationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		target AnnotationTarget
		sender string
		check  func(error) bool
	}{
		{"foreign wallet", AnnotationTarget{UserID: "user-1", TxHash: "0xabc", ChainID: 1, WalletID: "w-other"}, "s-payroll", apperrors.IsUnauthorized},
		{"missing wallet", AnnotationTarget{UserID: "user-1", TxHash: "0xabc", ChainID: 1, WalletID: "nope"}, "s-payroll", apperrors.IsNotFound},
		{"missing user", AnnotationTarget{TxHash: "0xabc", ChainID: 1, WalletID: "w-eth"}, "s-payroll", apperrors.IsUnauthorized},
		{"missing hash", AnnotationTarget{UserID: "user-1", ChainID: 1, WalletID: "w-eth"}, "s-payroll", apperrors.IsUserError},
		{"bad chain", AnnotationTarget{UserID: "user-1", TxHash: "0xabc", WalletID: "w-eth"}, "s-payroll", apperrors.IsUserError},
		{"chain differs from wallet", AnnotationTarget{UserID: "user-1", TxHash: "0xabc", ChainID: types.ChainPolygon, WalletID: "w-eth"}, "s-payroll", apperrors.IsUserError},
		{"unknown sender", AnnotationTarget{UserID: "user-1", TxHash: "0xabc", ChainID: 1, WalletID: "w-eth"}, "s-unknown", apperrors.IsNotFound},
		{"inactive sender", AnnotationTarget{UserID: "user-1", TxHash: "0xabc", ChainID: 1, WalletID: "w-eth"}, "s-retired", apperrors.IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.meta.LinkVerifiedSender(ctx, tt.target, tt.sender)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
	assert.Empty(t, f.metadata.rows, "failed annotations write nothing")
}

func TestAnnotationsOfAnotherUserAreNotTakenOver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := AnnotationTarget{UserID: "user-1", TxHash: "0xusdc", ChainID: types.ChainEthereum, WalletID: "w-eth"}

	_, err := f.meta.SetLabel(ctx, owner, "Salary")
	require.NoError(t, err)
	original, err := f.meta.LinkVerifiedSender(ctx, owner, "s-payroll")
	require.NoError(t, err)

	intruder := AnnotationTarget{UserID: "user-2", TxHash: "0xUSDC", ChainID: types.ChainEthereum, WalletID: "w-other"}
	_, err = f.meta.SetLabel(ctx, intruder, "Mine now")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err), "unexpected error: %v", err)

	_, err = f.meta.LinkVerifiedSender(ctx, intruder, "s-exchange")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnauthorized(err), "unexpected error: %v", err)

	row := f.metadata.rows[metaKey{"0xusdc", types.ChainEthereum}]
	require.NotNil(t, row)
	assert.Equal(t, original.ID, row.ID)
	assert.Equal(t, "user-1", row.UserID)
	assert.Equal(t, "w-eth", row.WalletID)
	assert.Equal(t, "Salary", *row.Label)
	assert.Equal(t, "s-payroll", *row.VerifiedSenderID)
}

func TestListVerifiedSenders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	all, err := f.meta.ListVerifiedSenders(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2, "inactive senders are hidden")

	polygon := types.ChainPolygon
	none, err := f.meta.ListVerifiedSenders(ctx, &polygon)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}
