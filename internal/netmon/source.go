package netmon

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ChannelSource forwards states pushed by the host, e.g. a platform
// connectivity callback. It supports a single subscriber.
type ChannelSource struct {
	ch chan ConnectivityState
}

func NewChannelSource(buffer int) *ChannelSource {
	return &ChannelSource{ch: make(chan ConnectivityState, buffer)}
}

// Push delivers st, blocking while the buffer is full.
func (s *ChannelSource) Push(ctx context.Context, st ConnectivityState) error {
	select {
	case s.ch <- st:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSource) Subscribe(context.Context) <-chan ConnectivityState {
	return s.ch
}

// HTTPProbe polls a health URL and reports what it learned on every poll.
type HTTPProbe struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zerolog.Logger
}

func NewHTTPProbe(url string, interval, timeout time.Duration, logger *zerolog.Logger) *HTTPProbe {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProbe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (p *HTTPProbe) Subscribe(ctx context.Context) <-chan ConnectivityState {
	out := make(chan ConnectivityState, 1)
	go func() {
		defer close(out)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			st := p.Probe(ctx)
			select {
			case out <- st:
			case <-ctx.Done():
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// Probe performs one health request. A transport failure means no
// connection; a 5xx means connected without a usable backend.
func (p *HTTPProbe) Probe(ctx context.Context) ConnectivityState {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		p.logger.Error().Err(err).Str("url", p.url).Msg("Invalid probe request")
		return ConnectivityState{}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Connectivity probe failed")
		return ConnectivityState{}
	}
	resp.Body.Close()

	reachable := resp.StatusCode < http.StatusInternalServerError
	return ConnectivityState{IsConnected: true, IsInternetReachable: &reachable}
}
