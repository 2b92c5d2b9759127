// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensor

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultPollTimeout  = 3 * time.Second

	// failureWarnThreshold is the consecutive-failure count past which
	// the poller logs that the sensor is not answering.
	failureWarnThreshold = 5
)

// Update is emitted after every completed poll. Reading is nil when the
// poll failed.
type Update struct {
	Reading   *Reading
	Connected bool
}

// Poller fetches the latest reading on a fixed interval.
//
// At most one request is in flight: a tick that finds the previous poll
// still running is dropped. Failures only flip Connected to false; the
// next tick is the retry.
type Poller struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration

	mu        sync.RWMutex
	addr      string
	latest    *Reading
	connected bool
	failures  int

	fetching atomic.Bool
	inflight sync.WaitGroup
	updates  chan Update
}

func NewPoller(client *Client, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Poller{
		client:   client,
		interval: interval,
		timeout:  timeout,
		updates:  make(chan Update, 16),
	}
}

// SetAddress changes the sensor address used from the next tick on.
func (p *Poller) SetAddress(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addr != addr {
		log.Printf("poller: sensor address set to %q", addr)
	}
	p.addr = addr
}

func (p *Poller) Address() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.addr
}

// Latest returns the most recent successfully decoded reading.
func (p *Poller) Latest() (Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Reading{}, false
	}
	return *p.latest, true
}

func (p *Poller) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Failures is the number of consecutive failed polls.
func (p *Poller) Failures() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.failures
}

// Updates delivers one Update per completed poll, in completion order.
// The channel is closed when Run returns.
func (p *Poller) Updates() <-chan Update {
	return p.updates
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	defer close(p.updates)
	defer p.inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick starts a poll unless one is already running or no address is
// configured. It reports whether a poll was started.
func (p *Poller) tick(ctx context.Context) bool {
	addr := p.Address()
	if addr == "" {
		return false
	}
	if !p.fetching.CompareAndSwap(false, true) {
		return false
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.fetching.Store(false)
		p.poll(ctx, addr)
	}()
	return true
}

func (p *Poller) poll(ctx context.Context, addr string) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	r, err := p.client.Fetch(reqCtx, addr)
	if ctx.Err() != nil {
		return
	}

	var u Update
	p.mu.Lock()
	if err != nil {
		p.connected = false
		p.failures++
		if p.failures > failureWarnThreshold {
			log.Printf("poller: sensor at %s not responding (%d consecutive failures): %v", addr, p.failures, err)
		}
	} else {
		p.connected = true
		p.failures = 0
		p.latest = &r
		u.Reading = &r
	}
	u.Connected = p.connected
	p.mu.Unlock()

	select {
	case p.updates <- u:
	case <-ctx.Done():
	}
}
