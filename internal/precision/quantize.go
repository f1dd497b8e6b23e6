package precision

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// Quantized holds the rounded-down order parameters produced by Quantize,
// ready to hand to OrderExecutor/ExchangePort.
type Quantized struct {
	Quantity  decimal.Decimal
	Price     decimal.NullDecimal
	StopPrice decimal.NullDecimal
}

// Quantize rounds quantity/price/stop_price down to the exchange's
// tick_size/step_size and enforces min_qty/min_notional, per spec §4.3.
// It is the only place float/decimal rounding toward the exchange happens
// on the order path — everything upstream works in exact decimals.
func (c *Cache) Quantize(exchange string, symbol string, marketType domain.MarketType, quantity decimal.Decimal, price, stopPrice decimal.NullDecimal) (Quantized, error) {
	info, err := c.Get(exchange, marketType, symbol)
	if err != nil {
		return Quantized{}, err
	}

	qty := roundDownToStep(quantity, info.StepSize)
	if qty.LessThan(info.MinQty) {
		return Quantized{}, domain.NewError(domain.KindValidation, "quantity below exchange min_qty after rounding")
	}

	out := Quantized{Quantity: qty}

	if price.Valid {
		p := roundDownToStep(price.Decimal, info.TickSize)
		out.Price = decimal.NullDecimal{Decimal: p, Valid: true}

		notional := qty.Mul(p)
		if notional.LessThan(info.MinNotional) {
			return Quantized{}, domain.NewError(domain.KindValidation, "notional below exchange min_notional after rounding")
		}
	}

	if stopPrice.Valid {
		sp := roundDownToStep(stopPrice.Decimal, info.TickSize)
		out.StopPrice = decimal.NullDecimal{Decimal: sp, Valid: true}
	}

	return out, nil
}

// roundDownToStep floors v to the nearest multiple of step. A zero or
// negative step is treated as "no rounding" (rule-based exchanges that
// report an unconstrained step for a field).
func roundDownToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}
