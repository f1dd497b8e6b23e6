package queue

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aristath/sentinel/internal/domain"
)

// maxOrdersPerSymbolTypeSide is K, the per-bucket cap (spec §4.5.1).
const maxOrdersPerSymbolTypeSide = 2

// entry is the common shape rebalance_symbol sorts, regardless of
// whether the underlying row is currently live or pending.
type entry struct {
	live     bool
	open     domain.OpenOrder
	pending  domain.PendingOrder
	priority int
	sortPrice decimal.NullDecimal
	receivedAt int64 // unix nanos, for the comparator tie-break
	id       int64
}

// less implements the §4.5.1 comparator: ascending priority, then
// ascending -sort_price (so higher sort_price sorts first), then
// ascending webhook_received_at, then ascending id as the final
// tie-breaker that makes the ordering total and the algorithm terminate.
func less(a, b entry) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	ap, bp := nullDecimalOrZero(a.sortPrice), nullDecimalOrZero(b.sortPrice)
	if !ap.Equal(bp) {
		return ap.Neg().LessThan(bp.Neg())
	}
	if a.receivedAt != b.receivedAt {
		return a.receivedAt < b.receivedAt
	}
	return a.id < b.id
}

func nullDecimalOrZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

func entryFromOpen(o domain.OpenOrder) entry {
	sortPrice, _ := domain.ComputeSortPrice(o.OrderType, o.Side, o.Price, o.StopPrice)
	return entry{
		live:       true,
		open:       o,
		priority:   o.OrderType.Priority(),
		sortPrice:  sortPrice,
		receivedAt: o.WebhookReceivedAt.UnixNano(),
		id:         o.ID,
	}
}

func entryFromPending(p domain.PendingOrder) entry {
	return entry{
		live:       false,
		pending:    p,
		priority:   p.Priority,
		sortPrice:  p.SortPrice,
		receivedAt: p.WebhookReceivedAt.UnixNano(),
		id:         p.ID,
	}
}

// partition splits a symbol's live and pending orders into the four
// independent buckets, discarding anything that never queues (MARKET).
func partition(open []domain.OpenOrder, pending []domain.PendingOrder) map[domain.BucketKey][]entry {
	buckets := make(map[domain.BucketKey][]entry)
	for _, o := range open {
		key, ok := domain.Bucket(o.OrderType, o.Side)
		if !ok {
			continue
		}
		buckets[key] = append(buckets[key], entryFromOpen(o))
	}
	for _, p := range pending {
		key, ok := domain.Bucket(p.OrderType, p.Side)
		if !ok {
			continue
		}
		buckets[key] = append(buckets[key], entryFromPending(p))
	}
	return buckets
}

// topK sorts one bucket by the comparator and returns its first K
// entries, the target live set for that bucket.
func topK(bucket []entry) []entry {
	sorted := make([]entry, len(bucket))
	copy(sorted, bucket)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > maxOrdersPerSymbolTypeSide {
		sorted = sorted[:maxOrdersPerSymbolTypeSide]
	}
	return sorted
}
