package bookstore_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/bookstore"
)

func TestParseTransactionKind(t *testing.T) {
	tests := []struct {
		in   string
		want bookstore.TransactionKind
	}{
		{"SALE", bookstore.KindSale},
		{"sale", bookstore.KindSale},
		{" 1 ", bookstore.KindSale},
		{"RESTOCK", bookstore.KindRestock},
		{"2", bookstore.KindRestock},
	}
	for _, tt := range tests {
		got, err := bookstore.ParseTransactionKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := bookstore.ParseTransactionKind("3")
	assert.ErrorIs(t, err, bookstore.ErrInvalidInput)
}

func TestParseMovementKind(t *testing.T) {
	got, err := bookstore.ParseMovementKind("ingreso")
	require.NoError(t, err)
	assert.Equal(t, bookstore.MovementIncome, got)

	got, err = bookstore.ParseMovementKind("EXPENSE")
	require.NoError(t, err)
	assert.Equal(t, bookstore.MovementExpense, got)

	_, err = bookstore.ParseMovementKind("")
	assert.ErrorIs(t, err, bookstore.ErrInvalidInput)
}

func TestKindMovement(t *testing.T) {
	assert.Equal(t, bookstore.MovementIncome, bookstore.KindSale.Movement())
	assert.Equal(t, bookstore.MovementExpense, bookstore.KindRestock.Movement())
	assert.True(t, bookstore.MovementExpense.Signed(money("3")).Equal(money("-3")))
	assert.True(t, bookstore.MovementIncome.Signed(money("3")).Equal(money("3")))
}

func TestPageNormalize(t *testing.T) {
	p, err := bookstore.Page{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, bookstore.DefaultPageLimit, p.Limit)

	p, err = bookstore.Page{Offset: 5, Limit: 1_000_000}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, bookstore.MaxPageLimit, p.Limit)
	assert.Equal(t, 5, p.Offset)

	_, err = bookstore.Page{Offset: -1}.Normalize()
	assert.ErrorIs(t, err, bookstore.ErrInvalidInput)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want bookstore.ErrorKind
	}{
		{&bookstore.NotFoundError{Entity: "book", Key: "x"}, bookstore.KindNotFound},
		{&bookstore.ValidationError{Field: "f", Reason: "r"}, bookstore.KindInvalidInput},
		{&bookstore.InsufficientStockError{}, bookstore.KindInsufficientStock},
		{&bookstore.InsufficientFundsError{}, bookstore.KindInsufficientFunds},
		{&bookstore.ConflictError{}, bookstore.KindConflict},
		{&bookstore.DuplicateKeyError{}, bookstore.KindDuplicateKey},
		{fmt.Errorf("wrapped: %w", &bookstore.DuplicateKeyError{}), bookstore.KindDuplicateKey},
		{&bookstore.ProcessingError{Op: "op", Err: errors.New("boom")}, bookstore.KindProcessingFailure},
		{errors.New("anything else"), bookstore.KindProcessingFailure},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bookstore.KindOf(tt.err), tt.err.Error())
	}

	assert.True(t, bookstore.IsClientError(&bookstore.ConflictError{}))
	assert.False(t, bookstore.IsClientError(&bookstore.NotFoundError{}))
	assert.True(t, bookstore.IsNotFound(&bookstore.NotFoundError{}))
}
