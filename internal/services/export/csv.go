// Package export writes valued events as CSV.
package export

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/services/tokens"
	"github.com/mcintyre94/jupalyse/internal/services/valuation"
)

var header = []string{
	"time", "kind", "product", "strategy", "tx",
	"input_mint", "input_symbol", "input_amount",
	"output_mint", "output_symbol", "output_amount",
	"fee_amount", "net_amount",
	"input_usd", "output_usd", "fee_usd", "net_usd",
	"input_per_output", "output_per_input",
}

// Write renders rows as CSV. Unknown values are empty cells.
func Write(w io.Writer, rows []valuation.Row, registry tokens.Registry) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write csv header")
	}

	for _, row := range rows {
		if err := cw.Write(record(row, registry)); err != nil {
			return errors.Wrapf(err, "write csv row %s", row.Event.TxRef())
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFile writes the CSV to path atomically via a temp file.
func WriteFile(path string, rows []valuation.Row, registry tokens.Registry) error {
	var buf bytes.Buffer
	if err := Write(&buf, rows, registry); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrap(err, "write export temp file")
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "persist export file")
	}

	return nil
}

func record(row valuation.Row, registry tokens.Registry) []string {
	e := row.Event
	ref := e.Strategy()

	var inMint, outMint string
	switch ev := e.(type) {
	case domain.Deposit:
		inMint = ev.InputMint
	case domain.Trade:
		inMint, outMint = ev.InputMint, ev.OutputMint
	}

	return []string{
		time.Unix(e.Time(), 0).UTC().Format(time.RFC3339),
		e.Kind().String(),
		string(ref.Product),
		ref.Key,
		e.TxRef(),
		inMint, symbol(registry, inMint), row.InputAmount.String(),
		outMint, symbol(registry, outMint), row.OutputAmount.String(),
		row.FeeAmount.String(), row.NetAmount.String(),
		row.InputUSD.String(), row.OutputUSD.String(), row.FeeUSD.String(), row.NetUSD.String(),
		row.Rate.InputPerOutput.String(), row.Rate.OutputPerInput.String(),
	}
}

func symbol(registry tokens.Registry, mint string) string {
	if mint == "" {
		return ""
	}
	return registry.Symbol(mint)
}
