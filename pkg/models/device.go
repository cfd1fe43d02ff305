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

// Package models provides data models for the LinkScope feed client.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedSnapshot indicates a payload that is not a well-formed
	// device snapshot. Updates carrying it are discarded, never applied.
	ErrMalformedSnapshot = errors.New("malformed device snapshot")

	// ErrFetchFailed indicates the polling fallback request errored or
	// returned an unusable response.
	ErrFetchFailed = errors.New("device snapshot fetch failed")
)

// Device represents one discovered network device as reported by the
// LinkScope backend. The JSON field names match the backend wire format.
type Device struct {
	IP           string   `json:"ip"`
	MAC          string   `json:"mac,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Hostname     string   `json:"hostname,omitempty"`
	IsGateway    bool     `json:"is_gateway"`
	ConnectedTo  []string `json:"connected_to,omitempty"`
}

// DisplayName returns the resolved hostname, falling back to the IP address.
func (d *Device) DisplayName() string {
	if d.Hostname != "" {
		return d.Hostname
	}

	return d.IP
}

// ParseSnapshot decodes and validates a device snapshot payload. The payload
// must be a JSON array of device objects, each with a non-empty "ip" field.
// Entries may reference peers absent from the same snapshot; such dangling
// references are legal and preserved as-is. Any other shape yields
// ErrMalformedSnapshot.
func ParseSnapshot(payload []byte) ([]Device, error) {
	var devices []Device

	if err := json.Unmarshal(payload, &devices); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedSnapshot, err)
	}

	if devices == nil {
		return nil, fmt.Errorf("%w: payload is not a device array", ErrMalformedSnapshot)
	}

	for i := range devices {
		if devices[i].IP == "" {
			return nil, fmt.Errorf("%w: entry %d has no address", ErrMalformedSnapshot, i)
		}
	}

	return devices, nil
}
