package capture

import (
	"context"
	"io"
	"time"
)

// Source produces the raw JPEG byte stream consumed by the frame assembler.
type Source interface {
	// Name identifies the source in logs and stored events.
	Name() string

	// Run delivers data to w until ctx is cancelled or the source fails.
	// A nil error means the source stopped because ctx was cancelled.
	Run(ctx context.Context, w io.Writer) error
}

// frameInterval returns the delay between frames for fps, defaulting to
// DefaultFramerate for non-positive values.
func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = DefaultFramerate
	}
	return time.Second / time.Duration(fps)
}
