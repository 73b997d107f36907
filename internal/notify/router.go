package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/reminder-core/reminder/internal/domain/entities"
)

// Router fans a reminder out to its configured channels, grounded on the
// teacher's errgroup-free semaphore+WaitGroup dispatch in processBatch but
// generalized to golang.org/x/sync/errgroup since every provider here is
// independent and none needs to cancel its siblings on error.
type Router struct {
	providers map[entities.Channel]Provider
	logger    *zap.Logger
}

func NewRouter(logger *zap.Logger, providers ...Provider) *Router {
	m := make(map[entities.Channel]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Router{providers: m, logger: logger}
}

// Dispatch sends payload to every channel the reminder carries, running
// providers concurrently and returning once all have completed or ctx is
// done. Unknown channels are logged and skipped rather than erroring.
func (r *Router) Dispatch(ctx context.Context, reminder *entities.Reminder, payload Payload) map[entities.Channel]DeliveryResult {
	results := make(map[entities.Channel]DeliveryResult, len(reminder.Channels))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range reminder.Channels {
		provider, ok := r.providers[ch]
		if !ok {
			r.logger.Warn("unknown notification channel, skipping", zap.String("channel", string(ch)))
			continue
		}

		ch, provider := ch, provider
		g.Go(func() error {
			res := provider.Send(gctx, reminder, payload)
			mu.Lock()
			results[ch] = res
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait() // providers never return an error; failures are encoded in DeliveryResult

	return results
}
