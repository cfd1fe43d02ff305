/*
 * Copyright 2026 LinkScope Contributors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package feed maintains the realtime device feed: it owns the streaming
// connection to the LinkScope backend, recovers from failures with
// exponential backoff, escalates to the polling transport when the stream
// stays down, and publishes every ingested snapshot to the snapshot store.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linkscope/linkscope-go/pkg/logger"
	"github.com/linkscope/linkscope-go/pkg/models"
	"github.com/linkscope/linkscope-go/pkg/snapshot"
)

var (
	// ErrStreamURLRequired indicates the manager was configured without a
	// stream endpoint.
	ErrStreamURLRequired = errors.New("stream URL is required")
	// ErrFetcherRequired indicates the manager was configured without a
	// polling fallback client.
	ErrFetcherRequired = errors.New("snapshot fetcher is required")
	// ErrStoreRequired indicates the manager was configured without a
	// snapshot store.
	ErrStoreRequired = errors.New("snapshot store is required")
	// ErrNoScanner indicates TriggerScan was called on a manager built
	// without a scan client.
	ErrNoScanner = errors.New("no scan client configured")

	// errShutdown marks an intentional stream closure initiated by Stop.
	// It must never schedule a reconnect.
	errShutdown = errors.New("shutdown requested")
)

const (
	defaultInitialDelay   = 1 * time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultProbeTimeout   = 3 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultFetchTimeout   = 10 * time.Second
	defaultHealthInterval = 15 * time.Second
	defaultRefreshCommand = "get_devices"

	// closeReasonShutdown is the close reason carried by an intentional
	// shutdown; close handling never reconnects when it sees this reason.
	closeReasonShutdown = "shutdown requested"
	closeGracePeriod    = 2 * time.Second
)

// Config holds the feed manager's connection and timing policy.
type Config struct {
	StreamURL      string          `json:"stream_url"`
	InitialDelay   models.Duration `json:"initial_delay"`
	MaxDelay       models.Duration `json:"max_delay"`
	MaxAttempts    int             `json:"max_attempts"`
	ProbeTimeout   models.Duration `json:"probe_timeout"`
	ConnectTimeout models.Duration `json:"connect_timeout"`
	FetchTimeout   models.Duration `json:"fetch_timeout"`
	HealthInterval models.Duration `json:"health_interval"`
	RefreshCommand string          `json:"refresh_command"`
}

func (c *Config) withDefaults() Config {
	out := *c

	if out.InitialDelay == 0 {
		out.InitialDelay = models.Duration(defaultInitialDelay)
	}

	if out.MaxDelay == 0 {
		out.MaxDelay = models.Duration(defaultMaxDelay)
	}

	if out.MaxAttempts == 0 {
		out.MaxAttempts = defaultMaxAttempts
	}

	if out.ProbeTimeout == 0 {
		out.ProbeTimeout = models.Duration(defaultProbeTimeout)
	}

	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = models.Duration(defaultConnectTimeout)
	}

	if out.FetchTimeout == 0 {
		out.FetchTimeout = models.Duration(defaultFetchTimeout)
	}

	if out.HealthInterval == 0 {
		out.HealthInterval = models.Duration(defaultHealthInterval)
	}

	if out.RefreshCommand == "" {
		out.RefreshCommand = defaultRefreshCommand
	}

	return out
}

// Prober reports whether the backend is reachable, as a cheap gate before
// spending a full connection-establish timeout.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) bool
}

// Fetcher obtains a snapshot over the polling transport.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) ([]models.Device, error)
}

// Scanner asks the discovery backend to run a scan.
type Scanner interface {
	TriggerScan(ctx context.Context, ipRange string) error
}

// Options carries the manager's collaborators. Fetcher is required; a nil
// Prober disables the probe gate, a nil Dialer uses gorilla/websocket, a nil
// Clock uses real time, a nil Metrics keeps unregistered collectors.
type Options struct {
	Dialer  Dialer
	Prober  Prober
	Fetcher Fetcher
	Scanner Scanner
	Clock   Clock
	Metrics *Metrics
}

// scanRefreshOffsets are the post-trigger refresh times relative to a
// successful scan trigger; the discovery backend populates results
// asynchronously, so the snapshot is re-requested several times.
var scanRefreshOffsets = []time.Duration{1 * time.Second, 3 * time.Second, 6 * time.Second}

// Manager owns the streaming connection lifecycle. It maintains at most one
// logical connection, one pending retry timer, and one health ticker, all
// confined to a single run goroutine; consumers interact only through
// Start/Stop/Status/RequestSnapshotRefresh and the snapshot store.
type Manager struct {
	cfg     Config
	dialer  Dialer
	prober  Prober
	fetcher Fetcher
	scanner Scanner
	store   *snapshot.Store
	clock   Clock
	metrics *Metrics
	logger  logger.Logger

	mu      sync.RWMutex
	state   models.ConnectionState
	retries int
	started bool
	stopped bool

	// refreshCh wakes the run goroutine: over a live stream it sends the
	// refresh command, during a backoff wait it short-circuits the timer,
	// and in fallback it acts as an immediate health check.
	refreshCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	healthTicker Ticker
}

// NewManager creates a feed manager. The store must be dedicated to this
// manager: it is the only component allowed to write to it.
func NewManager(cfg *Config, store *snapshot.Store, opts Options, log logger.Logger) (*Manager, error) {
	if cfg == nil || cfg.StreamURL == "" {
		return nil, ErrStreamURLRequired
	}

	if opts.Fetcher == nil {
		return nil, ErrFetcherRequired
	}

	if store == nil {
		return nil, ErrStoreRequired
	}

	conf := cfg.withDefaults()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewWebSocketDialer(time.Duration(conf.ConnectTimeout))
	}

	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	m := &Manager{
		cfg:       conf,
		dialer:    dialer,
		prober:    opts.Prober,
		fetcher:   opts.Fetcher,
		scanner:   opts.Scanner,
		store:     store,
		clock:     clock,
		metrics:   metrics,
		logger:    log.WithComponent("feed"),
		state:     models.StateDisconnected,
		refreshCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	store.SetReplaceHook(func(deviceCount int) {
		m.metrics.Devices.Set(float64(deviceCount))
	})

	return m, nil
}

// Start launches the connection loop. It is idempotent; calling Start on a
// running (or stopped) manager is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started || m.stopped {
		m.mu.Unlock()
		return
	}

	m.started = true
	m.mu.Unlock()

	m.logger.Info().Str("stream_url", m.cfg.StreamURL).Msg("Starting feed manager")

	go m.run()
}

// Stop tears the manager down: it cancels any pending retry timer, stops the
// health ticker, and closes an open stream with the intentional-shutdown
// reason so close handling does not reconnect. Safe to call multiple times;
// it returns once the run goroutine has exited and no timer or socket
// remains.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	m.stopped = true
	wasStarted := m.started
	m.mu.Unlock()

	close(m.stopCh)

	if wasStarted {
		<-m.doneCh
	}

	m.logger.Info().Msg("Feed manager stopped")
}

// Status returns the current connection state and consecutive-failure count.
func (m *Manager) Status() models.FeedStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return models.FeedStatus{State: m.state, Retries: m.retries}
}

// RequestSnapshotRefresh asks for the freshest possible snapshot. Over a
// live stream it sends the refresh command and returns true; the snapshot
// arrives asynchronously through the store. Otherwise it wakes the
// reconnection logic and returns false immediately — it never blocks waiting
// for data.
func (m *Manager) RequestSnapshotRefresh() bool {
	m.mu.RLock()
	started, stopped, state := m.started, m.stopped, m.state
	m.mu.RUnlock()

	if !started && !stopped {
		m.Start()
		return false
	}

	select {
	case m.refreshCh <- struct{}{}:
	default:
	}

	return state == models.StateConnected
}

// TriggerScan asks the backend to scan the given address range and, on
// success, schedules staggered snapshot refreshes at +1s, +3s and +6s so the
// asynchronously populated results get picked up.
func (m *Manager) TriggerScan(ctx context.Context, ipRange string) error {
	if m.scanner == nil {
		return ErrNoScanner
	}

	if err := m.scanner.TriggerScan(ctx, ipRange); err != nil {
		return err
	}

	go m.scanRefreshes()

	return nil
}

func (m *Manager) scanRefreshes() {
	elapsed := time.Duration(0)

	for _, offset := range scanRefreshOffsets {
		timer := m.clock.Timer(offset - elapsed)
		elapsed = offset

		select {
		case <-m.stopCh:
			timer.Stop()
			return
		case <-timer.Chan():
		}

		m.RequestSnapshotRefresh()
	}
}

// run is the manager's single event goroutine. It exclusively owns the
// stream handle, the retry timer, and the health ticker.
func (m *Manager) run() {
	defer close(m.doneCh)

	m.healthTicker = m.clock.Ticker(time.Duration(m.cfg.HealthInterval))
	defer m.healthTicker.Stop()

	defer m.setState(models.StateDisconnected)

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if m.Status().Retries >= m.cfg.MaxAttempts {
			if !m.runFallback() {
				return
			}

			continue
		}

		if !m.attemptOnce() {
			return
		}
	}
}

// attemptOnce performs one full connection attempt: probe gate, dial,
// then the connected read loop. It returns false only when the manager is
// shutting down.
func (m *Manager) attemptOnce() bool {
	connID := uuid.New().String()

	if m.prober != nil {
		m.setState(models.StateProbing)

		if !m.prober.Probe(context.Background(), time.Duration(m.cfg.ProbeTimeout)) {
			m.logger.Debug().Str("conn_id", connID).Msg("Probe reported backend unreachable, skipping dial")
			return m.failAndWait(connID, reasonProbeUnreachable)
		}
	}

	m.setState(models.StateConnecting)
	m.metrics.ConnectAttempts.Inc()

	dialCtx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.ConnectTimeout))
	conn, err := m.dialer.Dial(dialCtx, m.cfg.StreamURL)

	cancel()

	if err != nil {
		m.logger.Warn().Err(err).Str("conn_id", connID).Msg("Stream connect failed")
		return m.failAndWait(connID, reasonDialFailed)
	}

	m.setConnected()
	m.logger.Info().Str("conn_id", connID).Msg("Stream connected")

	err = m.streamLoop(conn)

	if errors.Is(err, errShutdown) {
		m.closeIntentionally(conn)
		return false
	}

	_ = conn.Close()

	if isIntentionalClose(err) {
		m.logger.Info().Str("conn_id", connID).Msg("Stream closed intentionally, not reconnecting")
		return false
	}

	m.logger.Warn().Err(err).Str("conn_id", connID).Msg("Stream closed unexpectedly")

	return m.failAndWait(connID, reasonStreamClosed)
}

// streamLoop services a live connection: it issues the initial snapshot
// request, ingests pushed snapshots, and forwards explicit refresh requests.
// It returns the stream error, or errShutdown when Stop was called.
func (m *Manager) streamLoop(conn Conn) error {
	msgCh := make(chan []byte, 8)
	errCh := make(chan error, 1)
	readerDone := make(chan struct{})

	defer close(readerDone)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case errCh <- err:
				case <-readerDone:
				}

				return
			}

			select {
			case msgCh <- data:
			case <-readerDone:
				return
			}
		}
	}()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(m.cfg.RefreshCommand)); err != nil {
		return err
	}

	for {
		select {
		case <-m.stopCh:
			return errShutdown
		case data := <-msgCh:
			if err := m.store.ReplaceRaw(data); err == nil {
				m.metrics.Snapshots.WithLabelValues("stream").Inc()
			}
		case err := <-errCh:
			return err
		case <-m.refreshCh:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m.cfg.RefreshCommand)); err != nil {
				return err
			}
		case <-m.healthTicker.Chan():
			// Connected; stream errors are the health signal here.
		}
	}
}

// failAndWait records a failed attempt and waits out the backoff delay. The
// wait is cut short by Stop, by an explicit refresh request, or by the
// periodic health check. Returns false only when shutting down.
func (m *Manager) failAndWait(connID, reason string) bool {
	m.mu.Lock()
	m.retries++
	attempt := m.retries
	m.mu.Unlock()

	m.metrics.ConnectFailures.WithLabelValues(reason).Inc()

	if attempt >= m.cfg.MaxAttempts {
		// The run loop escalates to the polling fallback.
		return true
	}

	m.setState(models.StateReconnecting)

	delay := backoffDelay(time.Duration(m.cfg.InitialDelay), time.Duration(m.cfg.MaxDelay), attempt-1)

	m.logger.Info().
		Str("conn_id", connID).
		Str("reason", reason).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Scheduling stream reconnect")

	timer := m.clock.Timer(delay)
	defer timer.Stop()

	select {
	case <-m.stopCh:
		return false
	case <-timer.Chan():
	case <-m.refreshCh:
	case <-m.healthTicker.Chan():
	}

	return true
}

// runFallback services the FallbackActive state: one immediate poll fetch on
// entry, then on every health tick (or explicit refresh) a re-probe; a
// positive probe resets the retry counter and resumes the stream loop, a
// negative one refreshes the snapshot over the polling transport. Returns
// false only when shutting down.
func (m *Manager) runFallback() bool {
	m.setState(models.StateFallbackActive)
	m.logger.Warn().
		Int("attempts", m.cfg.MaxAttempts).
		Msg("Stream attempts exhausted, switching to polling fallback")

	m.fallbackFetch()

	for {
		select {
		case <-m.stopCh:
			return false
		case <-m.healthTicker.Chan():
		case <-m.refreshCh:
		}

		if m.prober == nil || m.prober.Probe(context.Background(), time.Duration(m.cfg.ProbeTimeout)) {
			m.mu.Lock()
			m.retries = 0
			m.mu.Unlock()

			m.logger.Info().Msg("Backend reachable again, resuming stream")

			return true
		}

		m.fallbackFetch()
	}
}

func (m *Manager) fallbackFetch() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.cfg.FetchTimeout))
	defer cancel()

	devs, err := m.fetcher.FetchSnapshot(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Fallback snapshot fetch failed")
		m.metrics.ConnectFailures.WithLabelValues(reasonFetchFailed).Inc()

		return
	}

	m.store.Replace(devs)
	m.metrics.Snapshots.WithLabelValues("poll").Inc()
}

func (m *Manager) closeIntentionally(conn Conn) {
	deadline := m.clock.Now().Add(closeGracePeriod)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonShutdown)

	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = conn.Close()
}

func (m *Manager) setState(state models.ConnectionState) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	m.metrics.ConnectionState.Set(float64(state))
}

func (m *Manager) setConnected() {
	m.mu.Lock()
	m.state = models.StateConnected
	m.retries = 0
	m.mu.Unlock()

	m.metrics.ConnectionState.Set(float64(models.StateConnected))
}

// isIntentionalClose reports whether a stream error is a normal closure
// carrying the intentional-shutdown reason.
func isIntentionalClose(err error) bool {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == websocket.CloseNormalClosure && closeErr.Text == closeReasonShutdown
	}

	return false
}

// backoffDelay returns min(initial * 2^attempt, max) for a 0-indexed attempt.
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	delay := initial

	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}

	if delay > max {
		return max
	}

	return delay
}
