package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/picam/internal/store"
)

// errSourceStopped is used when a source returns without an error while it
// was still expected to run.
var errSourceStopped = errors.New("source stopped unexpectedly")

// runSource is the producer side of the pipeline: the source writes into the
// assembler, which publishes complete frames to the buffer.
//
// A failed source is restarted after RetryDelay with a clean assembler, so a
// half-received frame never leaks into the next run. With RetryDelay 0 the
// failure is returned.
func (a *App) runSource(ctx context.Context) error {
	src := a.config.Source
	log := a.log.With().Str("source", src.Name()).Logger()

	for {
		a.assembler.Reset()
		a.recordEvent(src.Name(), store.EventStarted, "")
		log.Info().Msg("frame source started")

		err := src.Run(ctx, a.assembler)
		if ctx.Err() != nil {
			a.recordEvent(src.Name(), store.EventStopped, "")
			log.Info().Uint64("frames", a.assembler.Frames()).Msg("frame source stopped")
			return nil
		}
		if err == nil {
			err = errSourceStopped
		}

		a.recordEvent(src.Name(), store.EventFailed, err.Error())

		if a.config.RetryDelay <= 0 {
			log.Error().Err(err).Msg("frame source failed")
			return fmt.Errorf("frame source %s: %w", src.Name(), err)
		}

		log.Error().Err(err).Dur("retry_in", a.config.RetryDelay).Msg("frame source failed")

		timer := time.NewTimer(a.config.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.recordEvent(src.Name(), store.EventStopped, "")
			return nil
		case <-timer.C:
		}
		a.restarts.Add(1)
	}
}

// recordEvent stores a source lifecycle event when a store is configured.
func (a *App) recordEvent(source, kind, message string) {
	if a.config.Store == nil {
		return
	}
	if err := a.config.Store.Events().Record(source, kind, message); err != nil {
		a.log.Warn().Err(err).Str("kind", kind).Msg("failed to record source event")
	}
}
