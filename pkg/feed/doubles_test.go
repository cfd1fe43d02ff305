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

package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linkscope/linkscope-go/pkg/models"
)

var errDialRefused = errors.New("dial refused")

// fakeClock hands out controllable timers and tickers so tests can drive the
// manager's timing deterministically.
type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	timers   []*fakeTimer
	timerCh  chan *fakeTimer
	tickerCh chan *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:      time.Unix(1700000000, 0),
		timerCh:  make(chan *fakeTimer, 32),
		tickerCh: make(chan *fakeTicker, 8),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Timer(d time.Duration) Timer {
	t := &fakeTimer{d: d, ch: make(chan time.Time, 1)}

	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	c.timerCh <- t

	return t
}

func (c *fakeClock) Ticker(d time.Duration) Ticker {
	tk := &fakeTicker{d: d, ch: make(chan time.Time, 1)}
	c.tickerCh <- tk

	return tk
}

// pendingTimers counts timers that were neither stopped nor fired; after
// Stop it must be zero.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := 0

	for _, t := range c.timers {
		if t.pending() {
			pending++
		}
	}

	return pending
}

type fakeTimer struct {
	d  time.Duration
	ch chan time.Time

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Chan() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true

	return active
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()

	t.ch <- time.Time{}
}

func (t *fakeTimer) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return !t.stopped && !t.fired
}

type fakeTicker struct {
	d  time.Duration
	ch chan time.Time

	mu      sync.Mutex
	stopped bool
}

func (tk *fakeTicker) Chan() <-chan time.Time { return tk.ch }

func (tk *fakeTicker) Stop() {
	tk.mu.Lock()
	tk.stopped = true
	tk.mu.Unlock()
}

func (tk *fakeTicker) isStopped() bool {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	return tk.stopped
}

func (tk *fakeTicker) tick() {
	tk.ch <- time.Time{}
}

type dialResult struct {
	conn *fakeConn
	err  error
}

// fakeDialer plays back a script of dial outcomes; once the script is
// exhausted every dial fails.
type fakeDialer struct {
	mu     sync.Mutex
	script []dialResult
	calls  int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls++

	if len(d.script) == 0 {
		return nil, errDialRefused
	}

	next := d.script[0]
	d.script = d.script[1:]

	if next.err != nil {
		return nil, next.err
	}

	return next.conn, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

type controlFrame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory socket double. Tests feed inbound frames through
// inbound, inject stream errors through readErr, and inspect writes.
type fakeConn struct {
	inbound chan []byte
	readErr chan error

	mu       sync.Mutex
	writes   [][]byte
	controls []controlFrame
	closed   bool

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 8),
		readErr:  make(chan error, 1),
		closedCh: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-c.closedCh:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("write on closed connection")
	}

	c.writes = append(c.writes, append([]byte(nil), data...))

	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.controls = append(c.controls, controlFrame{messageType: messageType, data: append([]byte(nil), data...)})

	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closedCh) })

	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.writes)
}

func (c *fakeConn) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.writes) == 0 {
		return nil
	}

	return c.writes[len(c.writes)-1]
}

func (c *fakeConn) controlFrames() []controlFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]controlFrame, len(c.controls))
	copy(out, c.controls)

	return out
}

// fakeProber plays back a script of reachability results; once the script is
// exhausted it returns fallback.
type fakeProber struct {
	mu       sync.Mutex
	script   []bool
	fallback bool
	calls    int
}

func (p *fakeProber) Probe(_ context.Context, _ time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++

	if len(p.script) == 0 {
		return p.fallback
	}

	next := p.script[0]
	p.script = p.script[1:]

	return next
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls
}

type fakeFetcher struct {
	mu      sync.Mutex
	devices []models.Device
	err     error
	calls   int
}

func (f *fakeFetcher) FetchSnapshot(_ context.Context) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return f.devices, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type fakeScanner struct {
	mu     sync.Mutex
	ranges []string
	err    error
}

func (s *fakeScanner) TriggerScan(_ context.Context, ipRange string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.ranges = append(s.ranges, ipRange)

	return nil
}

func (s *fakeScanner) triggered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.ranges))
	copy(out, s.ranges)

	return out
}
