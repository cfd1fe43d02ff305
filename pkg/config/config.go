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

// Package config loads client configuration from a JSON file with
// environment-variable overrides for the backend endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/linkscope/linkscope-go/pkg/feed"
	"github.com/linkscope/linkscope-go/pkg/logger"
)

// Environment overrides, applied after file loading.
const (
	EnvAPIURL = "LINKSCOPE_API_URL"
	EnvWSURL  = "LINKSCOPE_WS_URL"
)

const (
	defaultAPIURL = "http://localhost:8000"
	wsPath        = "/api/ws"
)

// ClientConfig is the top-level configuration for a LinkScope feed client.
type ClientConfig struct {
	// APIURL is the backend base URL for the polling and scan endpoints.
	APIURL string `json:"api_url"`
	// Feed configures the connection manager; Feed.StreamURL is derived
	// from APIURL when empty.
	Feed feed.Config `json:"feed"`
	// ScanRange is the default address range passed to scan triggers.
	ScanRange string        `json:"scan_range"`
	Logging   logger.Config `json:"logging"`
}

// LoadFile reads a JSON config file into dst.
func LoadFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

// Load builds a ClientConfig from an optional file path, then applies
// environment overrides and derives defaults.
func Load(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{}

	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Normalize()

	return cfg, nil
}

// Normalize applies environment overrides and fills derived defaults.
func (c *ClientConfig) Normalize() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}

	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}

	c.APIURL = strings.TrimRight(c.APIURL, "/")

	if v := os.Getenv(EnvWSURL); v != "" {
		c.Feed.StreamURL = v
	}

	if c.Feed.StreamURL == "" {
		c.Feed.StreamURL = deriveStreamURL(c.APIURL)
	}

	if c.ScanRange == "" {
		c.ScanRange = "192.168.1.0/24"
	}
}

// deriveStreamURL maps the HTTP base URL onto the websocket endpoint.
func deriveStreamURL(apiURL string) string {
	switch {
	case strings.HasPrefix(apiURL, "https://"):
		return "wss://" + strings.TrimPrefix(apiURL, "https://") + wsPath
	case strings.HasPrefix(apiURL, "http://"):
		return "ws://" + strings.TrimPrefix(apiURL, "http://") + wsPath
	default:
		return "ws://" + apiURL + wsPath
	}
}
