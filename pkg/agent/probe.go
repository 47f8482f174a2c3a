package agent

import (
	"context"
	"time"

	"github.com/go-go-golems/docagent/pkg/backend"
	"github.com/rs/zerolog/log"
)

const (
	DefaultProbeTimeout  = 10 * time.Second
	DefaultProbeAttempts = 2
)

// probe checks that the backend answers a minimal request. Timeouts are
// retried up to attempts times; any other error is returned at once.
func probe(ctx context.Context, b backend.ChatBackend, timeout time.Duration, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = ping(ctx, b, timeout)
		if err == nil {
			return nil
		}
		if !backend.IsTimeout(err) || ctx.Err() != nil {
			return err
		}
		log.Warn().Err(err).Str("backend", b.Name()).Int("attempt", i).Msg("connectivity probe timed out")
	}
	return err
}

func ping(ctx context.Context, b backend.ChatBackend, timeout time.Duration) (err error) {
	defer backend.Recover(b.Name(), &err)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.Ping(ctx)
}
