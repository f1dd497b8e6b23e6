package exchange

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/sentinel/internal/domain"
)

// streamingTicker maintains a push-based price cache fed by a
// reconnecting WS subscription, for exchanges whose FetchTicker is
// otherwise a poll-per-call (spec.md's DOMAIN STACK wires nhooyr.io/
// websocket here so FetchTicker can serve from memory instead of one
// REST round trip per quote during the §4.7 PnL recompute pass).
type streamingTicker struct {
	url     string
	symbols []string
	log     zerolog.Logger

	mu     sync.RWMutex
	prices map[string]decimal.Decimal

	stop chan struct{}
	wg   sync.WaitGroup
}

func newStreamingTicker(wsURL string, symbols []string, log zerolog.Logger) *streamingTicker {
	return &streamingTicker{
		url:     wsURL,
		symbols: symbols,
		log:     log.With().Str("component", "ws_ticker").Logger(),
		prices:  make(map[string]decimal.Decimal),
		stop:    make(chan struct{}),
	}
}

// Start launches the reconnect loop in the background. It never blocks
// the caller and never returns an error — a connection failure is
// logged and retried, since FetchTicker's REST fallback keeps the
// engine correct even with the stream down.
func (s *streamingTicker) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := time.Second
		for {
			select {
			case <-s.stop:
				return
			default:
			}
			if err := s.runOnce(); err != nil {
				s.log.Warn().Err(err).Dur("backoff", backoff).Msg("ticker stream disconnected, reconnecting")
				select {
				case <-time.After(backoff):
				case <-s.stop:
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
		}
	}()
}

func (s *streamingTicker) Stop() {
	close(s.stop)
	s.wg.Wait()
}

type tickerMessage struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (s *streamingTicker) runOnce() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	go func() {
		select {
		case <-s.stop:
			conn.Close(websocket.StatusNormalClosure, "shutting down")
		case <-ctx.Done():
		}
	}()

	if len(s.symbols) > 0 {
		frame, err := marshalSubscribe(s.symbols)
		if err != nil {
			return err
		}
		if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
			return err
		}
	}

	for {
		var msg tickerMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		price, err := decimal.NewFromString(msg.Price)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.prices[strings.ToUpper(msg.Symbol)] = price
		s.mu.Unlock()
	}
}

func (s *streamingTicker) get(symbol string) (domain.Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return domain.Ticker{}, false
	}
	return domain.Ticker{Symbol: symbol, Price: price}, true
}

// marshalSubscribe builds the conventional {"op":"subscribe","symbols":
// [...]} frame sent once a connection opens, kept as a standalone helper
// so runOnce's reconnect loop can reuse it without re-deriving the frame
// shape inline.
func marshalSubscribe(symbols []string) ([]byte, error) {
	return json.Marshal(struct {
		Op      string   `json:"op"`
		Symbols []string `json:"symbols"`
	}{Op: "subscribe", Symbols: symbols})
}
