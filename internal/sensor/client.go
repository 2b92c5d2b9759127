// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrNoAddress = errors.New("sensor address not set")
	ErrBadStatus = errors.New("unexpected sensor status")
)

// maxBodyBytes bounds how much of a /data response is read.
const maxBodyBytes = 64 << 10

// Client talks to the sensor's HTTP endpoints.
type Client struct {
	http *http.Client
	now  func() time.Time
}

// NewClient returns a Client whose requests give up after timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
	}
}

// Fetch performs GET http://<addr>/data and decodes the body.
// Non-OK statuses and malformed bodies are returned as errors.
func (c *Client) Fetch(ctx context.Context, addr string) (Reading, error) {
	body, err := c.get(ctx, addr, "/data")
	if err != nil {
		return Reading{}, err
	}
	return Decode(body, c.now())
}

// Calibrate asks the sensor to re-establish its reference angles.
// The response body is ignored.
func (c *Client) Calibrate(ctx context.Context, addr string) error {
	_, err := c.get(ctx, addr, "/calibrate")
	return err
}

func (c *Client) get(ctx context.Context, addr, path string) ([]byte, error) {
	if addr == "" {
		return nil, ErrNoAddress
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, fmt.Errorf("%w: GET %s returned %d", ErrBadStatus, path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", path, err)
	}
	return body, nil
}
