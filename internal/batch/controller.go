// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package batch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/posture_monitor/internal/sensor"
)

const DefaultThreshold = 20

// writeTimeout bounds a single batch write.
const writeTimeout = 10 * time.Second

// Writer persists a closed batch in one transaction.
type Writer interface {
	InsertBatch(ctx context.Context, userID *int64, rs []sensor.Reading) error
}

// Identity supplies the user that owns new rows (nil when logged out).
type Identity interface {
	UserID() *int64
}

// Reason records what closed a batch.
type Reason string

const (
	ReasonThreshold Reason = "threshold"
	ReasonLifecycle Reason = "lifecycle"
	ReasonShutdown  Reason = "shutdown"
	ReasonManual    Reason = "manual"
)

// Stats counts flush activity since the controller was created.
type Stats struct {
	Flushes      int `json:"flushes"`
	RowsWritten  int `json:"rowsWritten"`
	FailedRows   int `json:"failedRows"`
	Pending      int `json:"pending"`
	LastFlushLen int `json:"lastFlushLen"`
}

// Controller buffers readings and writes them in batches.
//
// A flush swaps the pending slice for an empty one under the lock and
// only then writes the snapshot, so readings offered during a write land
// in the next batch. Writes are serialized in the order batches were
// closed. The write ignores cancellation of the caller's context, since
// the snapshot has already left the buffer. A failed write drops it.
type Controller struct {
	threshold int
	writer    Writer
	identity  Identity

	mu      sync.Mutex
	pending []sensor.Reading
	stats   Stats

	writeMu sync.Mutex
}

func NewController(writer Writer, identity Identity, threshold int) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{
		threshold: threshold,
		writer:    writer,
		identity:  identity,
	}
}

// Offer buffers r when the classifier is ready and the sensor connected,
// and flushes once the batch holds threshold readings. It reports whether
// r was buffered.
func (c *Controller) Offer(ctx context.Context, r sensor.Reading, ready, connected bool) (bool, error) {
	if !ready || !connected || r.Calibrating {
		return false, nil
	}

	c.mu.Lock()
	c.pending = append(c.pending, r)
	full := len(c.pending) >= c.threshold
	c.mu.Unlock()

	if full {
		return true, c.Flush(ctx, ReasonThreshold)
	}
	return true, nil
}

// Flush writes everything buffered so far. Flushing an empty batch does
// not touch the writer.
func (c *Controller) Flush(ctx context.Context, reason Reason) error {
	// Take the write lock before the swap so batches reach the store in
	// the order they were closed.
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	snapshot := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	var userID *int64
	if c.identity != nil {
		userID = c.identity.UserID()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	err := c.writer.InsertBatch(wctx, userID, snapshot)
	cancel()

	c.mu.Lock()
	c.stats.Flushes++
	c.stats.LastFlushLen = len(snapshot)
	if err != nil {
		c.stats.FailedRows += len(snapshot)
	} else {
		c.stats.RowsWritten += len(snapshot)
	}
	c.mu.Unlock()

	if err != nil {
		log.Printf("flush: dropped %d readings (%s): %v", len(snapshot), reason, err)
		return fmt.Errorf("flush %d readings: %w", len(snapshot), err)
	}
	log.Printf("flush: wrote %d readings (%s)", len(snapshot), reason)
	return nil
}

// OnAppState flushes when the hosting app leaves the foreground.
func (c *Controller) OnAppState(ctx context.Context, s AppState) error {
	if !s.Suspending() {
		return nil
	}
	return c.Flush(ctx, ReasonLifecycle)
}

// Pending is the number of buffered readings.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = len(c.pending)
	return s
}
