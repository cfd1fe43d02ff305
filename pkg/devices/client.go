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

// Package devices provides the request/response client for the LinkScope
// backend: the polling fallback fetch, the reachability probe, and the
// scan trigger.
package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linkscope/linkscope-go/pkg/logger"
	"github.com/linkscope/linkscope-go/pkg/models"
)

var (
	// ErrBaseURLRequired indicates the client was constructed without a
	// backend base URL.
	ErrBaseURLRequired = errors.New("base URL is required")
	// ErrScanRejected indicates the backend refused a scan trigger.
	ErrScanRejected = errors.New("scan trigger rejected by backend")
)

const (
	devicesPath = "/api/devices"
	scanPath    = "/api/scan"

	defaultRequestTimeout = 10 * time.Second
	// maxSnapshotBytes caps the fallback response body. A LAN-sized device
	// list is a few kilobytes; anything near this limit is garbage.
	maxSnapshotBytes = 8 << 20
)

// Client issues one-shot HTTP exchanges against the LinkScope backend. It is
// safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a devices client for the given backend base URL, e.g.
// "http://192.168.1.10:8000". A nil httpClient uses a default with a
// conservative overall timeout.
func NewClient(baseURL string, httpClient *http.Client, log logger.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     log,
	}, nil
}

// FetchSnapshot retrieves the current device snapshot over the polling
// transport. It is used by the feed manager while the stream is down and is
// also usable directly as a one-shot read. Failures are reported as
// models.ErrFetchFailed; the call never retries internally.
func (c *Client) FetchSnapshot(ctx context.Context) ([]models.Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+devicesPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrFetchFailed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrFetchFailed, err)
	}

	snapshot, err := models.ParseSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrFetchFailed, err)
	}

	c.logger.Debug().Int("devices", len(snapshot)).Msg("Fetched device snapshot over polling transport")

	return snapshot, nil
}

// Probe reports whether the backend is currently reachable. It issues a
// minimal request to the devices listing endpoint; a 2xx response suffices
// and the body is discarded. Any error, timeout, or non-success status is
// reported as unreachable. Probe never panics and always returns within the
// given timeout plus a small margin.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) bool {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+devicesPath, http.NoBody)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Reachability probe failed")
		return false
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxSnapshotBytes))

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}

// TriggerScan asks the backend to run a discovery scan over the given address
// range, e.g. "192.168.1.0/24". The scan populates results asynchronously;
// callers should follow a successful trigger with staggered snapshot
// refreshes (see feed.Manager.TriggerScan).
func (c *Client) TriggerScan(ctx context.Context, ipRange string) error {
	u := c.baseURL + scanPath + "?" + url.Values{"ip_range": {ipRange}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrScanRejected, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrScanRejected, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxSnapshotBytes))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: unexpected status %d", ErrScanRejected, resp.StatusCode)
	}

	c.logger.Info().Str("ip_range", ipRange).Msg("Scan triggered")

	return nil
}
