// Package dispatch implements webhook normalization and fan-out (spec
// §4.1): parsing the external signal into a typed DTO, normalizing its
// fields, and resolving group_name to the strategy-accounts that must
// execute it.
package dispatch

// WebhookPayload is the external signal shape (spec §6). Fields are
// explicit and optional where the wire format allows omission — no
// map[string]interface{} duck typing reaches the order path (spec §9
// design note).
type WebhookPayload struct {
	GroupName string            `json:"group_name"`
	Token     string            `json:"token"`
	Symbol    string            `json:"symbol"`
	Side      string            `json:"side"`
	OrderType string            `json:"order_type"`
	Price     *float64          `json:"price,omitempty"`
	StopPrice *float64          `json:"stop_price,omitempty"`
	QtyPer    *float64          `json:"qty_per,omitempty"`
	Qty       *float64          `json:"qty,omitempty"`
	Orders    []OrderItem       `json:"orders,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// OrderItem is one order within a batch payload (the `orders` array).
// Per spec §4.1, batch items are self-sufficient: top-level
// side/price/stop_price/qty_per are never inherited, only Symbol may
// fall back to the top-level payload's Symbol.
type OrderItem struct {
	Symbol    string   `json:"symbol,omitempty"`
	Side      string   `json:"side"`
	OrderType string   `json:"order_type"`
	Price     *float64 `json:"price,omitempty"`
	StopPrice *float64 `json:"stop_price,omitempty"`
	QtyPer    *float64 `json:"qty_per,omitempty"`
	Qty       *float64 `json:"qty,omitempty"`
}

// IsBatch reports whether this payload carries a batch of orders. Per
// spec §4.1 this is the single batch-detection rule — presence of the
// `orders` array — with no derived/stored batch_mode flag.
func (p WebhookPayload) IsBatch() bool {
	return len(p.Orders) > 0
}

// Items returns the payload as a flat list of OrderItem, synthesizing a
// single-item list from the top-level fields when this is not a batch.
func (p WebhookPayload) Items() []OrderItem {
	if p.IsBatch() {
		out := make([]OrderItem, len(p.Orders))
		for i, o := range p.Orders {
			item := o
			if item.Symbol == "" {
				item.Symbol = p.Symbol
			}
			out[i] = item
		}
		return out
	}
	return []OrderItem{{
		Symbol:    p.Symbol,
		Side:      p.Side,
		OrderType: p.OrderType,
		Price:     p.Price,
		StopPrice: p.StopPrice,
		QtyPer:    p.QtyPer,
		Qty:       p.Qty,
	}}
}
