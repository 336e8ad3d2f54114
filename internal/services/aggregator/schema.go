package aggregator

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/pkg/amount"
)

// legacy schema (dca, value-average): raw integer amounts, unix timestamps.
type legacyFill struct {
	InAmount    string `json:"inAmount"`
	OutAmount   string `json:"outAmount"`
	Fee         string `json:"fee"`
	TxID        string `json:"txId"`
	ConfirmedAt int64  `json:"confirmedAt"`
}

type legacyOrder struct {
	OrderKey    string       `json:"orderKey"`
	InputMint   string       `json:"inputMint"`
	OutputMint  string       `json:"outputMint"`
	InDeposited string       `json:"inDeposited"`
	CreatedAt   int64        `json:"createdAt"`
	OpenTx      string       `json:"openTx"`
	Fills       []legacyFill `json:"fills"`
}

type legacyPayload struct {
	Orders []legacyOrder `json:"orders"`
}

// current schema (recurring, trigger): adjusted decimal amounts, RFC3339 timestamps.
type tradeV2 struct {
	InputAmount  string    `json:"inputAmount"`
	OutputAmount string    `json:"outputAmount"`
	FeeAmount    string    `json:"feeAmount"`
	TxID         string    `json:"txId"`
	ConfirmedAt  time.Time `json:"confirmedAt"`
}

type recurringOrder struct {
	OrderKey    string    `json:"orderKey"`
	InputMint   string    `json:"inputMint"`
	OutputMint  string    `json:"outputMint"`
	InDeposited string    `json:"inDeposited"`
	CreatedAt   time.Time `json:"createdAt"`
	OpenTx      string    `json:"openTx"`
	Trades      []tradeV2 `json:"trades"`
}

type recurringPayload struct {
	All []recurringOrder `json:"all"`
}

type triggerOrder struct {
	OrderKey     string    `json:"orderKey"`
	InputMint    string    `json:"inputMint"`
	OutputMint   string    `json:"outputMint"`
	MakingAmount string    `json:"makingAmount"`
	CreatedAt    time.Time `json:"createdAt"`
	OpenTx       string    `json:"openTx"`
	Trades       []tradeV2 `json:"trades"`
}

type triggerPayload struct {
	Orders []triggerOrder `json:"orders"`
}

// order is the schema-independent shape every payload is reduced to.
type order struct {
	ref        domain.StrategyRef
	inputMint  string
	outputMint string
	deposit    string
	createdAt  int64
	openTx     string
	fills      []fill
}

type fill struct {
	in, out, fee string
	tx           string
	at           int64
}

func decodeOrders(product domain.Product, payload []byte) ([]order, error) {
	switch product {
	case domain.ProductDCA, domain.ProductValueAverage:
		var p legacyPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "decode %s orders", product)
		}
		out := make([]order, 0, len(p.Orders))
		for _, o := range p.Orders {
			fills := make([]fill, 0, len(o.Fills))
			for _, f := range o.Fills {
				fills = append(fills, fill{in: f.InAmount, out: f.OutAmount, fee: f.Fee, tx: f.TxID, at: f.ConfirmedAt})
			}
			out = append(out, order{
				ref:        domain.StrategyRef{Product: product, Key: o.OrderKey},
				inputMint:  o.InputMint,
				outputMint: o.OutputMint,
				deposit:    o.InDeposited,
				createdAt:  o.CreatedAt,
				openTx:     o.OpenTx,
				fills:      fills,
			})
		}
		return out, nil

	case domain.ProductRecurring:
		var p recurringPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "decode %s orders", product)
		}
		out := make([]order, 0, len(p.All))
		for _, o := range p.All {
			out = append(out, order{
				ref:        domain.StrategyRef{Product: product, Key: o.OrderKey},
				inputMint:  o.InputMint,
				outputMint: o.OutputMint,
				deposit:    o.InDeposited,
				createdAt:  o.CreatedAt.Unix(),
				openTx:     o.OpenTx,
				fills:      convertTradesV2(o.Trades),
			})
		}
		return out, nil

	case domain.ProductTrigger:
		var p triggerPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, errors.Wrapf(err, "decode %s orders", product)
		}
		out := make([]order, 0, len(p.Orders))
		for _, o := range p.Orders {
			out = append(out, order{
				ref:        domain.StrategyRef{Product: product, Key: o.OrderKey},
				inputMint:  o.InputMint,
				outputMint: o.OutputMint,
				deposit:    o.MakingAmount,
				createdAt:  o.CreatedAt.Unix(),
				openTx:     o.OpenTx,
				fills:      convertTradesV2(o.Trades),
			})
		}
		return out, nil

	default:
		return nil, errors.Errorf("unsupported product %q", product)
	}
}

func convertTradesV2(trades []tradeV2) []fill {
	fills := make([]fill, 0, len(trades))
	for _, t := range trades {
		fills = append(fills, fill{in: t.InputAmount, out: t.OutputAmount, fee: t.FeeAmount, tx: t.TxID, at: t.ConfirmedAt.Unix()})
	}
	return fills
}

func parseAmount(enc amount.Encoding, s string) (amount.Amount, error) {
	if s == "" {
		s = "0"
	}
	if enc == amount.EncodingRaw {
		return amount.NewRaw(s)
	}
	return amount.NewAdjusted(s)
}

func (o order) events(enc amount.Encoding) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(o.fills)+1)

	dep, err := parseAmount(enc, o.deposit)
	if err != nil {
		return nil, errors.Wrapf(err, "order %s deposit", o.ref.Key)
	}
	if !dep.IsZero() {
		events = append(events, domain.Deposit{
			Timestamp: o.createdAt,
			InputMint: o.inputMint,
			Input:     dep,
			Ref:       o.ref,
			Tx:        o.openTx,
		})
	}

	for _, f := range o.fills {
		in, err := parseAmount(enc, f.in)
		if err != nil {
			return nil, errors.Wrapf(err, "order %s fill %s input", o.ref.Key, f.tx)
		}
		out, err := parseAmount(enc, f.out)
		if err != nil {
			return nil, errors.Wrapf(err, "order %s fill %s output", o.ref.Key, f.tx)
		}
		fee, err := parseAmount(enc, f.fee)
		if err != nil {
			return nil, errors.Wrapf(err, "order %s fill %s fee", o.ref.Key, f.tx)
		}

		events = append(events, domain.Trade{
			Timestamp:  f.at,
			InputMint:  o.inputMint,
			OutputMint: o.outputMint,
			Input:      in,
			Output:     out,
			Fee:        fee,
			Ref:        o.ref,
			Tx:         f.tx,
		})
	}

	return events, nil
}
