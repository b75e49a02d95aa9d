package evidence

import (
	"context"
	"log/slog"

	"github.com/complylens/complylens/internal/metrics"
)

// Strategy is one way of locating results, tried as part of an ordered chain.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) ([]T, error)
}

// FirstNonEmpty runs strategies in order and returns the first non-empty
// result set along with the name of the strategy that produced it. Individual
// failures are logged and skipped; results are never merged across
// strategies. An exhausted chain returns nil and an empty name.
func FirstNonEmpty[T any](ctx context.Context, strategies []Strategy[T]) ([]T, string) {
	for _, s := range strategies {
		metrics.EvidenceStrategyAttemptsTotal.WithLabelValues(s.Name).Inc()
		out, err := s.Run(ctx)
		if err != nil {
			slog.DebugContext(ctx, "retrieval strategy failed", "strategy", s.Name, "err", err)
			continue
		}
		if len(out) == 0 {
			continue
		}
		metrics.EvidenceStrategyHitsTotal.WithLabelValues(s.Name).Inc()
		slog.DebugContext(ctx, "retrieval strategy hit", "strategy", s.Name, "results", len(out))
		return out, s.Name
	}
	return nil, ""
}
