package domain

import (
	"github.com/mcintyre94/jupalyse/pkg/amount"
)

// Product is a strategy product whose orders can be reconstructed.
type Product string

const (
	ProductDCA          Product = "dca"
	ProductValueAverage Product = "value-average"
	ProductRecurring    Product = "recurring"
	ProductTrigger      Product = "trigger"
)

// Products lists every supported product.
var Products = []Product{ProductDCA, ProductValueAverage, ProductRecurring, ProductTrigger}

// ParseProduct validates a product name.
func ParseProduct(s string) (Product, bool) {
	for _, p := range Products {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Encoding returns the amount encoding the product's API reports.
// Legacy products report raw smallest-unit integers.
func (p Product) Encoding() amount.Encoding {
	switch p {
	case ProductDCA, ProductValueAverage:
		return amount.EncodingRaw
	default:
		return amount.EncodingAdjusted
	}
}

// StrategyRef points to the strategy an event belongs to.
type StrategyRef struct {
	// Product the strategy was created with.
	Product Product
	// Key order account address.
	Key string
}

// EventKind discriminates Event implementations.
type EventKind int

const (
	EventDeposit EventKind = iota
	EventTrade
)

func (k EventKind) String() string {
	if k == EventDeposit {
		return "deposit"
	}
	return "trade"
}

// Event is a Deposit or a Trade.
type Event interface {
	Kind() EventKind
	// Time unix seconds.
	Time() int64
	// TxRef transaction signature.
	TxRef() string
	Strategy() StrategyRef
}

// Deposit funds moved into a strategy.
type Deposit struct {
	// Timestamp unix seconds.
	Timestamp int64
	// InputMint deposited token.
	InputMint string
	// Input deposited quantity.
	Input amount.Amount
	// Ref owning strategy.
	Ref StrategyRef
	// Tx transaction signature.
	Tx string
}

func (d Deposit) Kind() EventKind       { return EventDeposit }
func (d Deposit) Time() int64           { return d.Timestamp }
func (d Deposit) TxRef() string         { return d.Tx }
func (d Deposit) Strategy() StrategyRef { return d.Ref }

// Trade a single executed swap. Fee is denominated in the output token.
type Trade struct {
	Timestamp  int64
	InputMint  string
	OutputMint string
	Input      amount.Amount
	Output     amount.Amount
	Fee        amount.Amount
	Ref        StrategyRef
	Tx         string
}

func (t Trade) Kind() EventKind       { return EventTrade }
func (t Trade) Time() int64           { return t.Timestamp }
func (t Trade) TxRef() string         { return t.Tx }
func (t Trade) Strategy() StrategyRef { return t.Ref }

// Net returns the output received after the fee.
func (t Trade) Net() (amount.Amount, error) {
	return amount.Sub(t.Output, t.Fee)
}
