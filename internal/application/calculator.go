package application

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"feeindex/internal/domain"

	"github.com/shopspring/decimal"
)

// weiExponent scales wei to ether exactly (1 ether = 10^18 wei).
const weiExponent = -18

// Rates is satisfied by RateOracle.
type Rates interface {
	Rate(ctx context.Context, ts int64) (decimal.Decimal, domain.RateStatus, error)
}

// Calculator prices gas cost in quote-currency units. It never reads or
// writes the fee cache; callers own the fee key.
type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) (*Calculator, error) {
	if rates == nil {
		return nil, errors.New("calculator requires a rate source")
	}
	return &Calculator{rates: rates}, nil
}

// Calculate returns a zero fee with the degraded status when the rate could
// not be obtained.
func (c *Calculator) Calculate(ctx context.Context, gasPrice, gasUsed *big.Int, ts int64) (domain.Fee, error) {
	if gasPrice == nil || gasUsed == nil {
		return domain.Fee{}, errors.New("gas price and gas used are required")
	}
	feeWei := new(big.Int).Mul(gasPrice, gasUsed)
	feeEth := decimal.NewFromBigInt(feeWei, weiExponent)

	rate, status, err := c.rates.Rate(ctx, ts)
	if err != nil {
		return domain.Fee{}, err
	}
	if status.Degraded() {
		return domain.Fee{Amount: decimal.Zero, Status: status}, nil
	}

	amount := rate.Mul(feeEth)
	slog.Debug("tx cost",
		"timestamp", ts,
		"quote", amount.StringFixed(2),
		"wei", feeWei.String(),
		"eth", feeEth.StringFixed(5),
		"rate", rate.StringFixed(2),
	)
	return domain.Fee{Amount: amount, Status: domain.RateOK}, nil
}

// CalculateRecord prices one record and stamps the fee with its hash.
func (c *Calculator) CalculateRecord(ctx context.Context, record domain.TransactionRecord) (domain.Fee, error) {
	fee, err := c.Calculate(ctx, record.GasPrice, record.GasUsed, record.Timestamp)
	if err != nil {
		return domain.Fee{}, err
	}
	fee.TxHash = record.Hash
	return fee, nil
}
