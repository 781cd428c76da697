package safety

import (
	"context"
)

// GasOracle reports the current network gas price
type GasOracle interface {
	// CurrentGasPriceGwei returns the current gas price in integer gwei
	CurrentGasPriceGwei(ctx context.Context) (int64, error)
}

// BalanceOracle reports token balances for payer wallets
type BalanceOracle interface {
	// BalanceOf returns the balance of the address in base units as a
	// decimal string
	BalanceOf(ctx context.Context, address string, token string) (string, error)
}
