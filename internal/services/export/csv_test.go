package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/services/tokens"
	"github.com/mcintyre94/jupalyse/internal/services/valuation"
	"github.com/mcintyre94/jupalyse/pkg/amount"
)

func testRows(t *testing.T) ([]valuation.Row, tokens.Registry) {
	t.Helper()

	registry := tokens.Registry{
		"usdc": {Symbol: "USDC", Decimals: 6},
		"sol":  {Symbol: "SOL", Decimals: 9},
	}
	ref := domain.StrategyRef{Product: domain.ProductRecurring, Key: "order1"}
	events := []domain.Event{
		domain.Deposit{Timestamp: 0, InputMint: "usdc", Input: amount.MustAdjusted("100"), Ref: ref, Tx: "open"},
		domain.Trade{
			Timestamp: 90, InputMint: "usdc", OutputMint: "sol",
			Input: amount.MustAdjusted("50"), Output: amount.MustAdjusted("0.5"), Fee: amount.MustAdjusted("0.001"),
			Ref: ref, Tx: "fill",
		},
	}

	prices := valuation.Prices{
		{Mint: "usdc", Bucket: 0}:  decimal.NewFromInt(1),
		{Mint: "usdc", Bucket: 60}: decimal.NewFromInt(1),
	}

	rows, err := valuation.NewValuer(prices, registry, amount.DefaultPrecision).ValueAll(events)
	require.NoError(t, err)
	return rows, registry
}

func TestWrite(t *testing.T) {
	rows, registry := testRows(t)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rows, registry))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, header, records[0])

	deposit := records[1]
	assert.Equal(t, "1970-01-01T00:00:00Z", deposit[0])
	assert.Equal(t, "deposit", deposit[1])
	assert.Equal(t, "USDC", deposit[6])
	assert.Equal(t, "100", deposit[13])
	assert.Equal(t, "", deposit[8])

	trade := records[2]
	assert.Equal(t, "trade", trade[1])
	assert.Equal(t, "SOL", trade[9])
	assert.Equal(t, "0.499", trade[12])
	assert.Equal(t, "50", trade[13])
	// sol has no price: blank, not zero
	assert.Equal(t, "", trade[14])
	assert.Equal(t, "", trade[16])
	assert.Equal(t, "100", trade[17])
}

func TestWriteFile(t *testing.T) {
	rows, registry := testRows(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	require.NoError(t, WriteFile(path, rows, registry))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "net_usd")

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFile_RenameFailureRemovesTempFile(t *testing.T) {
	rows, registry := testRows(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	// a non-empty directory cannot be replaced by a file
	require.NoError(t, os.MkdirAll(filepath.Join(path, "keep"), 0o755))

	assert.Error(t, WriteFile(path, rows, registry))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
