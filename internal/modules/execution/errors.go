package execution

import (
	"strings"

	"github.com/aristath/sentinel/internal/domain"
)

// permanentKeywords and temporaryKeywords implement spec §4.4's
// "classification is a keyword match on the error string, central to
// one helper so the policy is identical everywhere."
var permanentKeywords = []string{
	"insufficient balance",
	"insufficient funds",
	"invalid symbol",
	"exceeds limit",
	"min notional",
	"min_notional",
	"lot size",
	"invalid quantity",
	"account not found",
	"unauthorized",
	"forbidden",
}

var temporaryKeywords = []string{
	"timeout",
	"timed out",
	"rate limit",
	"too many requests",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"502",
	"503",
	"504",
	"network",
}

// ClassifyExchangeError maps a raw exchange error string to the shared
// domain.ErrorKind taxonomy. Unknown errors default to
// domain.KindExchangeTemporary so an unrecognized failure mode is
// retried (and eventually exhausted) rather than silently dropped.
func ClassifyExchangeError(err error) domain.ErrorKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range permanentKeywords {
		if strings.Contains(msg, kw) {
			return domain.KindExchangePermanent
		}
	}
	for _, kw := range temporaryKeywords {
		if strings.Contains(msg, kw) {
			return domain.KindExchangeTemporary
		}
	}
	return domain.KindExchangeTemporary
}
