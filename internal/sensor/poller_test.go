// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func nextUpdate(t *testing.T, p *Poller) Update {
	t.Helper()
	select {
	case u := <-p.Updates():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll update")
		return Update{}
	}
}

func TestPoller_SuccessfulPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data", r.URL.Path)
		w.Write([]byte(`{"pitch":12.5,"roll":-3,"refPitch":10,"refRoll":0,"malaPostura":1,"calibrating":0}`))
	}))
	defer srv.Close()

	p := NewPoller(NewClient(time.Second), time.Hour, time.Second)
	p.SetAddress(addrOf(srv))

	require.True(t, p.tick(context.Background()))
	u := nextUpdate(t, p)

	require.NotNil(t, u.Reading)
	assert.True(t, u.Connected)
	assert.Equal(t, 12.5, u.Reading.Pitch)
	assert.True(t, p.Connected())

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, *u.Reading, latest)
}

func TestPoller_FailureMarksDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoller(NewClient(time.Second), time.Hour, time.Second)
	p.SetAddress(addrOf(srv))

	require.True(t, p.tick(context.Background()))
	u := nextUpdate(t, p)

	assert.Nil(t, u.Reading)
	assert.False(t, u.Connected)
	assert.Equal(t, 1, p.Failures())
	_, ok := p.Latest()
	assert.False(t, ok)
}

func TestPoller_MalformedBodyIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pitch":1}`))
	}))
	defer srv.Close()

	p := NewPoller(NewClient(time.Second), time.Hour, time.Second)
	p.SetAddress(addrOf(srv))

	require.True(t, p.tick(context.Background()))
	u := nextUpdate(t, p)
	assert.False(t, u.Connected)
	assert.Nil(t, u.Reading)
}

func TestPoller_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewPoller(NewClient(time.Second), time.Hour, 50*time.Millisecond)
	p.SetAddress(addrOf(srv))

	require.True(t, p.tick(context.Background()))
	u := nextUpdate(t, p)
	assert.False(t, u.Connected)
}

func TestPoller_SkipsTickWhileFetching(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write([]byte(`{"pitch":0,"roll":0,"refPitch":0,"refRoll":0,"malaPostura":0}`))
	}))
	defer srv.Close()

	p := NewPoller(NewClient(time.Second), time.Hour, time.Second)
	p.SetAddress(addrOf(srv))

	ctx := context.Background()
	require.True(t, p.tick(ctx))
	assert.False(t, p.tick(ctx), "second tick must be dropped while a poll is in flight")
	assert.False(t, p.tick(ctx))

	close(release)
	u := nextUpdate(t, p)
	assert.True(t, u.Connected)
	assert.Equal(t, int32(1), hits.Load())

	require.Eventually(t, func() bool { return !p.fetching.Load() }, time.Second, 5*time.Millisecond)
	assert.True(t, p.tick(ctx))
	nextUpdate(t, p)
}

func TestPoller_NoAddressDoesNothing(t *testing.T) {
	p := NewPoller(NewClient(time.Second), time.Hour, time.Second)
	assert.False(t, p.tick(context.Background()))
}

func TestPoller_RunClosesUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"calibrating":1}`))
	}))
	defer srv.Close()

	p := NewPoller(NewClient(time.Second), 10*time.Millisecond, time.Second)
	p.SetAddress(addrOf(srv))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	u := nextUpdate(t, p)
	require.NotNil(t, u.Reading)
	assert.True(t, u.Reading.Calibrating)

	cancel()
	<-done
	for range p.Updates() {
	}
}

func TestClient_Calibrate(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
	}))
	defer srv.Close()

	c := NewClient(time.Second)
	require.NoError(t, c.Calibrate(context.Background(), addrOf(srv)))
	assert.Equal(t, "/calibrate", path.Load())

	assert.ErrorIs(t, c.Calibrate(context.Background(), ""), ErrNoAddress)
}

func TestClient_FetchBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewClient(time.Second).Fetch(context.Background(), addrOf(srv))
	assert.ErrorIs(t, err, ErrBadStatus)
}
