package execution

import (
	"context"
	"sync"

	"github.com/aristath/sentinel/internal/domain"
)

// batchChunkSize is the unified chunk size for native batch submission
// (spec §4.4: "chunk into groups of 5, unified even when an exchange
// allows 10").
const batchChunkSize = 5

// sequentialConcurrency bounds the semaphore-fallback path, mirroring
// the teacher's internal/work worker-pool cap.
const sequentialConcurrency = 10

// BatchSubmitter converts a list of OrderRequests into one or more
// exchange submissions, choosing the native batch endpoint when the
// exchange/market_type pair supports it and falling back to a bounded
// parallel submission otherwise.
type BatchSubmitter struct{}

// NewBatchSubmitter builds a BatchSubmitter. It is stateless; every
// call takes the ExchangePort explicitly so one instance serves every
// account/exchange.
func NewBatchSubmitter() *BatchSubmitter {
	return &BatchSubmitter{}
}

// Submit implements the spec §4.4 batch path. reqs must all share the
// same marketType (the caller groups by market_type before calling).
func (b *BatchSubmitter) Submit(ctx context.Context, port domain.ExchangePort, marketType domain.MarketType, reqs []domain.OrderRequest) *domain.BatchResult {
	if len(reqs) > 1 && marketType == domain.MarketFutures && port.SupportsNativeBatch(marketType) {
		return b.submitNativeChunked(ctx, port, marketType, reqs)
	}
	return b.submitSequential(ctx, port, marketType, reqs)
}

// submitNativeChunked chunks reqs into groups of batchChunkSize and
// submits each chunk as one signed CreateBatchOrders call; response
// order equals request order per spec, so index offsets carry across
// chunks cleanly.
func (b *BatchSubmitter) submitNativeChunked(ctx context.Context, port domain.ExchangePort, marketType domain.MarketType, reqs []domain.OrderRequest) *domain.BatchResult {
	all := make([]domain.BatchOrderResult, 0, len(reqs))

	for offset := 0; offset < len(reqs); offset += batchChunkSize {
		end := offset + batchChunkSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk := reqs[offset:end]

		res, err := port.CreateBatchOrders(ctx, chunk, marketType)
		if err != nil {
			for i := range chunk {
				all = append(all, domain.BatchOrderResult{Index: offset + i, Err: domain.Wrap(ClassifyExchangeError(err), "batch submission failed", err)})
			}
			continue
		}
		for _, r := range res.Results {
			r.Index += offset
			if r.Err != nil {
				r.Err.Kind = ClassifyExchangeError(r.Err)
			}
			all = append(all, r)
		}
	}

	return summarize(all, domain.BatchNative)
}

// submitSequential runs orders through CreateOrder with a
// sequentialConcurrency-wide semaphore per call, used for spot markets
// and any exchange without a native batch endpoint.
func (b *BatchSubmitter) submitSequential(ctx context.Context, port domain.ExchangePort, marketType domain.MarketType, reqs []domain.OrderRequest) *domain.BatchResult {
	results := make([]domain.BatchOrderResult, len(reqs))
	sem := make(chan struct{}, sequentialConcurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			order, err := port.CreateOrder(ctx, req)
			if err != nil {
				results[i] = domain.BatchOrderResult{Index: i, Err: domain.Wrap(ClassifyExchangeError(err), "order submission failed", err)}
				return
			}
			results[i] = domain.BatchOrderResult{Index: i, Order: order}
		}()
	}
	wg.Wait()

	return summarize(results, domain.BatchSequential)
}

func summarize(results []domain.BatchOrderResult, impl domain.BatchImplementation) *domain.BatchResult {
	summary := domain.BatchSummary{Total: len(results)}
	for _, r := range results {
		if r.Err == nil {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	return &domain.BatchResult{Results: results, Summary: summary, Implementation: impl}
}
