package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mattn/go-mjpeg"
)

// RelaySource pulls frames from another MJPEG server, for example a second
// picam instance or an IP camera, and re-serves them.
type RelaySource struct {
	url    string
	client *http.Client
}

// NewRelaySource creates a source reading the multipart stream at url.
func NewRelaySource(url string) *RelaySource {
	return &RelaySource{
		url:    url,
		client: http.DefaultClient,
	}
}

// Name implements Source.
func (s *RelaySource) Name() string {
	return "relay"
}

// Run implements Source.
func (s *RelaySource) Run(ctx context.Context, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}

	res, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("relay connect: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("relay %s: unexpected status %s", s.url, res.Status)
	}

	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		return fmt.Errorf("relay decoder: %w", err)
	}

	for {
		data, err := dec.DecodeRaw()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("relay %s: stream ended", s.url)
			}
			return fmt.Errorf("relay read: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("deliver frame: %w", err)
		}
	}
}
