// Package execution implements the OrderExecutor and BatchSubmitter of
// spec §4.4: parameter preparation per order type, batched/sequential
// submission, and the exchange error classification every caller
// shares. It is the only package allowed to depend on both
// internal/modules/dispatch (consumes NormalizedOrder) and
// internal/queue (implements queue.Submitter/satisfies it structurally)
// without creating a cycle — queue never imports this package.
package execution

import (
	"github.com/aristath/sentinel/internal/domain"
)

// timeInForceGTC is the only time-in-force this engine ever sends.
const timeInForceGTC = "GTC"

// prepareParams validates a request against the spec §4.4 per-type
// rules and returns the params map the ExchangePort adapter attaches
// to the wire request. Returns a domain.KindValidation error
// ("InvalidOrder") for missing required fields or unsupported types.
func prepareParams(req domain.OrderRequest) (map[string]string, error) {
	params := map[string]string{}

	switch req.Type {
	case domain.OrderTypeMarket:
		if req.Price.Valid || req.StopPrice.Valid {
			return nil, domain.NewError(domain.KindValidation, "InvalidOrder: MARKET must not carry price or stop_price")
		}
	case domain.OrderTypeLimit:
		if !req.Price.Valid {
			return nil, domain.NewError(domain.KindValidation, "InvalidOrder: LIMIT requires price")
		}
		params["timeInForce"] = timeInForceGTC
	case domain.OrderTypeStopMarket:
		if !req.StopPrice.Valid {
			return nil, domain.NewError(domain.KindValidation, "InvalidOrder: STOP_MARKET requires stop_price")
		}
	case domain.OrderTypeStopLimit:
		if !req.Price.Valid || !req.StopPrice.Valid {
			return nil, domain.NewError(domain.KindValidation, "InvalidOrder: STOP_LIMIT requires price and stop_price")
		}
		params["timeInForce"] = timeInForceGTC
	default:
		return nil, domain.NewError(domain.KindValidation, "InvalidOrder: unsupported order type "+string(req.Type))
	}

	if req.Quantity.IsZero() || req.Quantity.IsNegative() {
		return nil, domain.NewError(domain.KindValidation, "InvalidOrder: quantity must be positive")
	}

	return params, nil
}
