package aggregator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/pkg/amount"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Orders(ctx context.Context, address string, product domain.Product) ([]byte, error) {
	args := m.Called(ctx, address, product)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

const dcaPayload = `{"orders":[{
	"orderKey":"dca1","inputMint":"usdc","outputMint":"sol",
	"inDeposited":"100000000","createdAt":100,"openTx":"open1",
	"fills":[
		{"inAmount":"50000000","outAmount":"250000000","fee":"250000","txId":"f1","confirmedAt":160},
		{"inAmount":"50000000","outAmount":"240000000","fee":"240000","txId":"f2","confirmedAt":220}
	]}]}`

const recurringPayloadJSON = `{"all":[{
	"orderKey":"rec1","inputMint":"usdc","outputMint":"jup",
	"inDeposited":"20.5","createdAt":"1970-01-01T00:01:40Z","openTx":"open2",
	"trades":[{"inputAmount":"10","outputAmount":"12.345678","feeAmount":"0.012345","txId":"t1","confirmedAt":"1970-01-01T00:02:40Z"}]
	}]}`

const triggerPayloadJSON = `{"orders":[{
	"orderKey":"trg1","inputMint":"sol","outputMint":"usdc",
	"makingAmount":"0","createdAt":"1970-01-01T00:00:50Z","openTx":"open3",
	"trades":[{"inputAmount":"1","outputAmount":"150","feeAmount":"","txId":"t2","confirmedAt":"1970-01-01T00:05:00Z"}]
	}]}`

func TestNormalize(t *testing.T) {
	t.Run("legacy payload is raw", func(t *testing.T) {
		events, err := Normalize(domain.ProductDCA, []byte(dcaPayload))
		require.NoError(t, err)
		require.Len(t, events, 3)

		dep, ok := events[0].(domain.Deposit)
		require.True(t, ok)
		assert.Equal(t, int64(100), dep.Timestamp)
		assert.Equal(t, amount.EncodingRaw, dep.Input.Encoding())
		assert.Equal(t, "100000000", dep.Input.String())
		assert.Equal(t, domain.StrategyRef{Product: domain.ProductDCA, Key: "dca1"}, dep.Ref)

		tr, ok := events[1].(domain.Trade)
		require.True(t, ok)
		assert.Equal(t, "usdc", tr.InputMint)
		assert.Equal(t, "sol", tr.OutputMint)
		assert.Equal(t, amount.EncodingRaw, tr.Fee.Encoding())
		net, err := tr.Net()
		require.NoError(t, err)
		assert.Equal(t, "249750000", net.String())
	})

	t.Run("recurring payload is adjusted", func(t *testing.T) {
		events, err := Normalize(domain.ProductRecurring, []byte(recurringPayloadJSON))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(100), events[0].Time())
		tr := events[1].(domain.Trade)
		assert.Equal(t, int64(160), tr.Timestamp)
		assert.Equal(t, amount.EncodingAdjusted, tr.Output.Encoding())
	})

	t.Run("zero deposit and empty fee", func(t *testing.T) {
		events, err := Normalize(domain.ProductTrigger, []byte(triggerPayloadJSON))
		require.NoError(t, err)
		require.Len(t, events, 1)
		tr := events[0].(domain.Trade)
		assert.True(t, tr.Fee.IsZero())
		assert.Equal(t, amount.EncodingAdjusted, tr.Fee.Encoding())
	})

	t.Run("fractional raw amount is rejected", func(t *testing.T) {
		_, err := Normalize(domain.ProductValueAverage, []byte(`{"orders":[{"orderKey":"x","inDeposited":"1.5"}]}`))
		assert.ErrorIs(t, err, amount.ErrInvalidAmount)
	})

	t.Run("empty payload", func(t *testing.T) {
		events, err := Normalize(domain.ProductDCA, nil)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := Normalize("limit", []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestCollect(t *testing.T) {
	src := new(mockSource)
	src.On("Orders", mock.Anything, "wallet", domain.ProductDCA).Return([]byte(dcaPayload), nil)
	src.On("Orders", mock.Anything, "wallet", domain.ProductRecurring).Return([]byte(recurringPayloadJSON), nil)
	src.On("Orders", mock.Anything, "wallet", domain.ProductTrigger).Return([]byte(triggerPayloadJSON), nil)
	src.On("Orders", mock.Anything, "wallet", domain.ProductValueAverage).Return(nil, nil)

	a := New(src, zap.NewNop())
	events, err := a.Collect(context.Background(), []string{"wallet"}, domain.Products)
	require.NoError(t, err)
	require.Len(t, events, 6)

	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].Time(), events[i].Time())
	}

	// both deposits at t=100: ordered by tx ref
	assert.Equal(t, "open1", events[0].TxRef())
	assert.Equal(t, "open2", events[1].TxRef())
	src.AssertExpectations(t)
}

func TestCollect_SourceFailureFailsPass(t *testing.T) {
	src := new(mockSource)
	src.On("Orders", mock.Anything, "wallet", domain.ProductDCA).Return([]byte(dcaPayload), nil)
	src.On("Orders", mock.Anything, "wallet", domain.ProductTrigger).Return(nil, errors.New("timeout"))

	a := New(src, zap.NewNop())
	_, err := a.Collect(context.Background(), []string{"wallet"}, []domain.Product{domain.ProductDCA, domain.ProductTrigger})
	assert.ErrorContains(t, err, "timeout")
}

func TestSortEvents_TieBreak(t *testing.T) {
	ref := domain.StrategyRef{Product: domain.ProductDCA, Key: "k"}
	events := []domain.Event{
		domain.Trade{Timestamp: 60, Tx: "b", Ref: ref},
		domain.Trade{Timestamp: 60, Tx: "a", Ref: ref},
		domain.Deposit{Timestamp: 60, Tx: "a", Ref: ref},
		domain.Deposit{Timestamp: 0, Tx: "z", Ref: ref},
	}

	SortEvents(events)

	assert.Equal(t, domain.Deposit{Timestamp: 0, Tx: "z", Ref: ref}, events[0])
	assert.Equal(t, domain.Deposit{Timestamp: 60, Tx: "a", Ref: ref}, events[1])
	assert.Equal(t, domain.Trade{Timestamp: 60, Tx: "a", Ref: ref}, events[2])
	assert.Equal(t, domain.Trade{Timestamp: 60, Tx: "b", Ref: ref}, events[3])
}
