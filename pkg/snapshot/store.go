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

// Package snapshot holds the latest device snapshot and fans updates out to
// subscribers. A snapshot is always replaced wholesale; consumers never see a
// partially updated device list.
package snapshot

import (
	"sync"
	"time"

	"github.com/linkscope/linkscope-go/pkg/logger"
	"github.com/linkscope/linkscope-go/pkg/models"
)

// subscriberBuffer bounds each subscriber channel. Slow subscribers miss
// intermediate snapshots; the latest one always remains readable via Current.
const subscriberBuffer = 1

// Store is the single writer-owned holder of the current device snapshot.
// Only the feed manager (and the polling path it drives) may call Replace;
// consumers read via Current and Subscribe.
type Store struct {
	mu          sync.RWMutex
	devices     []models.Device
	updatedAt   time.Time
	subscribers map[chan []models.Device]struct{}
	logger      logger.Logger
	onReplace   func(deviceCount int)
}

// NewStore creates an empty snapshot store.
func NewStore(log logger.Logger) *Store {
	return &Store{
		subscribers: make(map[chan []models.Device]struct{}),
		logger:      log,
	}
}

// SetReplaceHook registers a callback invoked after every successful replace,
// used to keep the device-count gauge current. Must be called before the
// store is shared.
func (s *Store) SetReplaceHook(hook func(deviceCount int)) {
	s.onReplace = hook
}

// Replace atomically swaps the visible snapshot and notifies subscribers.
// Every successful ingestion publishes exactly one update.
func (s *Store) Replace(devices []models.Device) {
	s.mu.Lock()
	s.devices = devices
	s.updatedAt = time.Now()

	// Fan out while still holding the lock: Unsubscribe closes channels
	// under the same lock, so no send can target a closed channel. The
	// sends are non-blocking, so the lock is held only briefly.
	for ch := range s.subscribers {
		select {
		case ch <- devices:
		default:
			// Subscriber is lagging; it will pick up a later snapshot.
		}
	}
	s.mu.Unlock()

	if s.onReplace != nil {
		s.onReplace(len(devices))
	}
}

// ReplaceRaw validates a wire payload and applies it. Malformed payloads are
// logged and discarded without touching the visible snapshot.
func (s *Store) ReplaceRaw(payload []byte) error {
	devices, err := models.ParseSnapshot(payload)
	if err != nil {
		s.logger.Warn().Err(err).Int("payload_bytes", len(payload)).Msg("Discarding malformed snapshot payload")
		return err
	}

	s.Replace(devices)

	return nil
}

// Current returns the latest snapshot and the time it was applied. Callers
// must treat the returned slice as read-only.
func (s *Store) Current() ([]models.Device, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.devices, s.updatedAt
}

// Subscribe registers a channel that receives every snapshot applied after
// the call. The channel is buffered; a subscriber that falls behind misses
// intermediate snapshots but never blocks the writer.
func (s *Store) Subscribe() chan []models.Device {
	ch := make(chan []models.Device, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe and closes
// it. The close happens under the store lock so an in-flight Replace can
// never send on the closed channel.
func (s *Store) Unsubscribe(ch chan []models.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}
