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

package models

// ConnectionState describes the feed manager's view of the streaming
// connection. It is owned exclusively by the manager; consumers only read it.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateProbing
	StateConnecting
	StateConnected
	StateReconnecting
	StateFallbackActive
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateProbing:
		return "probing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFallbackActive:
		return "fallback_active"
	default:
		return "unknown"
	}
}

// FeedStatus is a point-in-time snapshot of the manager's connectivity state.
type FeedStatus struct {
	State   ConnectionState `json:"state"`
	Retries int             `json:"retries"`
}
