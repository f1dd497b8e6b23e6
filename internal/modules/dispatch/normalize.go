package dispatch

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// NormalizedOrder is one OrderItem after field normalization, ready for
// RateLimiter/PrecisionCache/OrderExecutor to consume.
type NormalizedOrder struct {
	Symbol    string
	Side      domain.OrderSide
	OrderType domain.OrderType
	Price     decimal.NullDecimal
	StopPrice decimal.NullDecimal
	// QtyIsFraction distinguishes an absolute Qty from a qty_per fraction
	// of allocated capital; the executor resolves the fraction against
	// the account's current balance.
	QtyIsFraction bool
	Qty           decimal.Decimal
}

var symbolPairRe = regexp.MustCompile(`^[A-Z0-9]{2,10}/[A-Z0-9]{2,10}$`)

// knownQuotes lists common quote assets used to split an exchange-native
// symbol form (e.g. "BTCUSDT") into BASE/QUOTE when no slash is present.
// Longest quotes are checked first so "USDT" wins over "DT".
var knownQuotes = []string{"USDT", "BUSD", "USDC", "KRW", "BTC", "ETH", "EUR", "USD"}

// SuggestSymbol attempts to canonicalize a non-conforming symbol into
// BASE/QUOTE form. It handles two common exchange-native shapes:
// concatenated ("BTCUSDT") and dash-separated, quote-first ("KRW-BTC").
// Returns ("", false) if no confident suggestion can be made.
func SuggestSymbol(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if symbolPairRe.MatchString(s) {
		return s, true
	}

	if strings.Contains(s, "-") {
		parts := strings.SplitN(s, "-", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			// Upbit/Bithumb-style "KRW-BTC" is quote-first.
			return parts[1] + "/" + parts[0], true
		}
	}

	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			base := strings.TrimSuffix(s, quote)
			return base + "/" + quote, true
		}
	}

	return "", false
}

// NormalizeSide maps the wire-level side strings to the canonical
// domain.OrderSide (spec §4.1: buy|long -> BUY, sell|short -> SELL).
func NormalizeSide(raw string) (domain.OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return domain.SideBuy, nil
	case "sell", "short":
		return domain.SideSell, nil
	default:
		return "", domain.NewError(domain.KindValidation, "unrecognized side: "+raw)
	}
}

// NormalizeOrderType maps the wire-level order_type to the canonical
// domain.OrderType, ignoring case and surrounding spaces. No aliases
// (such as "MKT") are accepted — order_type must be an exact field per
// spec §4.1.
func NormalizeOrderType(raw string) (domain.OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(domain.OrderTypeMarket):
		return domain.OrderTypeMarket, nil
	case string(domain.OrderTypeLimit):
		return domain.OrderTypeLimit, nil
	case string(domain.OrderTypeStopMarket):
		return domain.OrderTypeStopMarket, nil
	case string(domain.OrderTypeStopLimit):
		return domain.OrderTypeStopLimit, nil
	case string(domain.OrderTypeCancelAllOrder):
		return domain.OrderTypeCancelAllOrder, nil
	default:
		return "", domain.NewError(domain.KindValidation, "unrecognized order_type: "+raw)
	}
}

// NormalizeSymbol validates/canonicalizes a crypto symbol into BASE/QUOTE
// form, applying SuggestSymbol when the input doesn't already conform.
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if symbolPairRe.MatchString(s) {
		return s, nil
	}
	if suggestion, ok := SuggestSymbol(s); ok {
		return suggestion, nil
	}
	return "", domain.NewError(domain.KindValidation, "invalid symbol format: "+raw)
}

// Normalize validates and canonicalizes one OrderItem into a
// NormalizedOrder. It implements the decided Open Question (spec.md §9,
// DESIGN.md): when both Qty and QtyPer are present, Qty (the absolute
// quantity) wins and QtyPer is ignored — logged by the caller at debug
// level, since this function has no logger of its own.
func Normalize(item OrderItem) (NormalizedOrder, bool, error) {
	orderType, err := NormalizeOrderType(item.OrderType)
	if err != nil {
		return NormalizedOrder{}, false, err
	}

	symbol, err := NormalizeSymbol(item.Symbol)
	if err != nil {
		return NormalizedOrder{}, false, err
	}

	// CANCEL_ALL_ORDER never becomes a NormalizedOrder — callers must
	// branch on order_type before calling Normalize for that case.
	side, err := NormalizeSide(item.Side)
	if err != nil {
		return NormalizedOrder{}, false, err
	}

	out := NormalizedOrder{Symbol: symbol, Side: side, OrderType: orderType}

	if item.Price != nil {
		out.Price = decimal.NullDecimal{Decimal: decimal.NewFromFloat(*item.Price), Valid: true}
	}
	if item.StopPrice != nil {
		out.StopPrice = decimal.NullDecimal{Decimal: decimal.NewFromFloat(*item.StopPrice), Valid: true}
	}

	qtyPerWinsOverridden := false
	switch {
	case item.Qty != nil:
		out.Qty = decimal.NewFromFloat(*item.Qty)
		out.QtyIsFraction = false
		qtyPerWinsOverridden = item.QtyPer != nil
	case item.QtyPer != nil:
		out.Qty = decimal.NewFromFloat(*item.QtyPer)
		out.QtyIsFraction = true
	default:
		return NormalizedOrder{}, false, domain.NewError(domain.KindValidation, "order requires qty or qty_per")
	}

	return out, qtyPerWinsOverridden, nil
}
