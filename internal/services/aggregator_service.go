package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/domain/venue"
	"github.com/novadex/swap-engine/internal/metrics"
)

// AggregatorService fans quote requests out to every registered venue
// and ranks the answers. Venue failures never abort the fan-out; they
// are collected per venue so callers can report why routing found
// nothing.
type AggregatorService struct {
	adapters     []venue.Adapter
	quoteTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// BestQuote is the ranked outcome of one fan-out.
type BestQuote struct {
	// Best is the head of Quotes.
	Best *venue.Quote

	// Quotes holds every successful quote ordered best-first: highest
	// AmountOut, then lowest EstimatedFee, then venue name.
	Quotes []*venue.Quote

	// Errors maps venue name to its failure for venues that returned
	// no quote.
	Errors map[string]error
}

// NewAggregatorService builds the aggregator over the given adapters.
func NewAggregatorService(adapters []venue.Adapter, quoteTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *AggregatorService {
	if quoteTimeout <= 0 {
		quoteTimeout = 5 * time.Second
	}
	return &AggregatorService{
		adapters:     adapters,
		quoteTimeout: quoteTimeout,
		metrics:      m,
		logger:       logger,
	}
}

// Adapters returns the registered adapters in registration order.
func (s *AggregatorService) Adapters() []venue.Adapter {
	return s.adapters
}

// AdapterByName resolves a venue adapter by its stable name.
func (s *AggregatorService) AdapterByName(name string) (venue.Adapter, bool) {
	for _, a := range s.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// GetAllQuotes requests a quote from every enabled venue concurrently.
// Each venue gets its own deadline; one slow or failing venue never
// delays or fails its siblings. Disabled venues are skipped and noted
// in the error map.
func (s *AggregatorService) GetAllQuotes(ctx context.Context, req venue.QuoteRequest) ([]*venue.Quote, map[string]error) {
	var (
		mu     sync.Mutex
		quotes []*venue.Quote
		errs   = make(map[string]error)
		wg     conc.WaitGroup
	)

	for _, adapter := range s.adapters {
		if !adapter.Enabled() {
			errs[adapter.Name()] = venue.ErrDisabled
			continue
		}

		wg.Go(func() {
			quoteCtx, cancel := context.WithTimeout(ctx, s.quoteTimeout)
			defer cancel()

			q, err := adapter.GetQuote(quoteCtx, req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[adapter.Name()] = err
				s.metrics.QuotesFetched.WithLabelValues(adapter.Name(), "error").Inc()
				s.logger.Warn("quote request failed",
					zap.String("venue", adapter.Name()),
					zap.String("token_in", req.TokenIn),
					zap.String("token_out", req.TokenOut),
					zap.Error(err),
				)
				return
			}
			quotes = append(quotes, q)
			s.metrics.QuotesFetched.WithLabelValues(adapter.Name(), "success").Inc()
		})
	}
	wg.Wait()

	return quotes, errs
}

// GetBestQuote ranks the fan-out result and returns it best-first. The
// ordering is deterministic for a given quote set: AmountOut descending,
// EstimatedFee ascending, venue name ascending. venue.ErrNoQuotes when
// every venue failed or was disabled.
func (s *AggregatorService) GetBestQuote(ctx context.Context, req venue.QuoteRequest) (*BestQuote, error) {
	quotes, errs := s.GetAllQuotes(ctx, req)
	if len(quotes) == 0 {
		return nil, noQuotesError(errs)
	}

	sort.Slice(quotes, func(i, j int) bool {
		if !quotes[i].AmountOut.Equal(quotes[j].AmountOut) {
			return quotes[i].AmountOut.GreaterThan(quotes[j].AmountOut)
		}
		if !quotes[i].EstimatedFee.Equal(quotes[j].EstimatedFee) {
			return quotes[i].EstimatedFee.LessThan(quotes[j].EstimatedFee)
		}
		return quotes[i].VenueName < quotes[j].VenueName
	})

	s.logger.Debug("quote fan-out ranked",
		zap.String("token_in", req.TokenIn),
		zap.String("token_out", req.TokenOut),
		zap.Int("quotes", len(quotes)),
		zap.Int("failures", len(errs)),
		zap.String("best_venue", quotes[0].VenueName),
		zap.String("best_amount_out", quotes[0].AmountOut.String()),
	)

	return &BestQuote{
		Best:   quotes[0],
		Quotes: quotes,
		Errors: errs,
	}, nil
}

// VenueInfos reports every venue's registration state, checking health
// in parallel. Results are ordered by venue name.
func (s *AggregatorService) VenueInfos(ctx context.Context) []venue.Info {
	infos := make([]venue.Info, len(s.adapters))

	var wg conc.WaitGroup
	for i, adapter := range s.adapters {
		wg.Go(func() {
			pairs := adapter.SupportedPairs()
			sort.Slice(pairs, func(a, b int) bool {
				if pairs[a].TokenIn != pairs[b].TokenIn {
					return pairs[a].TokenIn < pairs[b].TokenIn
				}
				return pairs[a].TokenOut < pairs[b].TokenOut
			})
			infos[i] = venue.Info{
				Name:    adapter.Name(),
				Enabled: adapter.Enabled(),
				Healthy: adapter.HealthCheck(ctx),
				Pairs:   pairs,
			}
		})
	}
	wg.Wait()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// noQuotesError folds the per-venue failures into one ErrNoQuotes so
// the order's error message names every venue that was tried.
func noQuotesError(errs map[string]error) error {
	if len(errs) == 0 {
		return venue.ErrNoQuotes
	}

	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, errs[name]))
	}
	return fmt.Errorf("%w: %s", venue.ErrNoQuotes, strings.Join(parts, "; "))
}
