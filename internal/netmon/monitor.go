// Package netmon tracks device connectivity and kicks off a sync pass each
// time the device comes back online.
package netmon

import (
	"context"
	"sync"

	"fleetsync/internal/metrics"

	"github.com/rs/zerolog"
)

// ConnectivityState is one observation of the network. A nil
// IsInternetReachable means reachability is unknown.
type ConnectivityState struct {
	IsConnected         bool  `json:"isConnected"`
	IsInternetReachable *bool `json:"isInternetReachable"`
}

// Online is the permissive check used before a direct submission.
func (s ConnectivityState) Online() bool {
	return s.IsConnected && (s.IsInternetReachable == nil || *s.IsInternetReachable)
}

// Reachable requires positive confirmation of internet access.
func (s ConnectivityState) Reachable() bool {
	return s.IsConnected && s.IsInternetReachable != nil && *s.IsInternetReachable
}

// ConnectivitySource streams connectivity observations until ctx is done.
type ConnectivitySource interface {
	Subscribe(ctx context.Context) <-chan ConnectivityState
}

// Monitor keeps the latest connectivity state and fires trigger on every
// transition into a reachable state.
type Monitor struct {
	source  ConnectivitySource
	trigger func(ctx context.Context)
	logger  *zerolog.Logger

	mu        sync.RWMutex
	state     ConnectivityState
	observed  bool
	reachable bool

	wg sync.WaitGroup
}

func NewMonitor(source ConnectivitySource, trigger func(ctx context.Context), logger *zerolog.Logger) *Monitor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Monitor{
		source:  source,
		trigger: trigger,
		logger:  logger,
	}
}

// IsOnline reports the last observed state. Before the first observation
// the device is treated as offline.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.observed && m.state.Online()
}

// State returns the last observation and whether one was made.
func (m *Monitor) State() (ConnectivityState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.observed
}

// Run consumes the source until ctx is done or the stream ends, then waits
// for triggered passes to return.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().Msg("Network monitor started")
	defer m.logger.Info().Msg("Network monitor stopped")
	defer m.wg.Wait()

	events := m.source.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-events:
			if !ok {
				return nil
			}
			m.observe(ctx, st)
		}
	}
}

func (m *Monitor) observe(ctx context.Context, st ConnectivityState) {
	m.mu.Lock()
	wasOnline := m.observed && m.state.Online()
	wasReachable := m.reachable
	m.state = st
	m.observed = true
	m.reachable = st.Reachable()
	m.mu.Unlock()

	if online := st.Online(); online != wasOnline {
		label := "offline"
		if online {
			label = "online"
		}
		metrics.IncConnectivityTransition(label)
		m.logger.Info().Bool("connected", st.IsConnected).Str("state", label).Msg("Connectivity changed")
	}

	if !st.Reachable() || wasReachable {
		return
	}

	if m.trigger == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.trigger(ctx)
	}()
}
