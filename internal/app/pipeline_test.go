// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/posture_monitor/internal/alert"
	"github.com/relabs-tech/posture_monitor/internal/auth"
	"github.com/relabs-tech/posture_monitor/internal/batch"
	"github.com/relabs-tech/posture_monitor/internal/posture"
	"github.com/relabs-tech/posture_monitor/internal/sensor"
	"github.com/relabs-tech/posture_monitor/internal/storage"
)

type fakeSource struct {
	mu      sync.Mutex
	addr    string
	latest  *sensor.Reading
	updates chan sensor.Update
}

func newFakeSource() *fakeSource {
	return &fakeSource{updates: make(chan sensor.Update, 64)}
}

func (f *fakeSource) Run(ctx context.Context) error {
	<-ctx.Done()
	close(f.updates)
	return nil
}

func (f *fakeSource) Updates() <-chan sensor.Update { return f.updates }

func (f *fakeSource) SetAddress(addr string) {
	f.mu.Lock()
	f.addr = addr
	f.mu.Unlock()
}

func (f *fakeSource) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

func (f *fakeSource) Latest() (sensor.Reading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return sensor.Reading{}, false
	}
	return *f.latest, true
}

func (f *fakeSource) setLatest(r sensor.Reading) {
	f.mu.Lock()
	f.latest = &r
	f.mu.Unlock()
}

// update records r as the latest reading and builds the matching update.
func (f *fakeSource) update(r sensor.Reading) sensor.Update {
	f.setLatest(r)
	return sensor.Update{Reading: &r, Connected: true}
}

type recordingBroadcaster struct {
	msgs chan any
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{msgs: make(chan any, 256)}
}

func (b *recordingBroadcaster) Broadcast(v any) { b.msgs <- v }

func (b *recordingBroadcaster) next(t *testing.T) LiveState {
	t.Helper()
	select {
	case v := <-b.msgs:
		live, ok := v.(LiveState)
		require.True(t, ok, "unexpected message %T", v)
		return live
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast")
		return LiveState{}
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	readings int
	statuses []bool
}

func (p *recordingPublisher) PublishReading(sensor.Reading, posture.Assessment) {
	p.mu.Lock()
	p.readings++
	p.mu.Unlock()
}

func (p *recordingPublisher) PublishStatus(connected bool) {
	p.mu.Lock()
	p.statuses = append(p.statuses, connected)
	p.mu.Unlock()
}

func newTestStore(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "posture.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func validReading(ts time.Time, bad int) sensor.Reading {
	return sensor.Reading{
		Pitch:       10,
		Roll:        -2,
		RefPitch:    1,
		RefRoll:     0,
		MalaPostura: bad,
		Timestamp:   sensor.FormatTimestamp(ts),
	}
}

func calibratingReading(ts time.Time) sensor.Reading {
	return sensor.Reading{Calibrating: true, Timestamp: sensor.FormatTimestamp(ts)}
}

type pipelineFixture struct {
	src     *fakeSource
	store   *storage.SQLiteRepository
	session *auth.Session
	batch   *batch.Controller
	monitor *alert.Monitor
	pub     *recordingPublisher
	bcast   *recordingBroadcaster
	p       *Pipeline
}

func newPipelineFixture(t *testing.T, threshold int) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		src:     newFakeSource(),
		store:   newTestStore(t),
		session: &auth.Session{},
		monitor: alert.NewMonitor(alert.Options{}),
		pub:     &recordingPublisher{},
		bcast:   newRecordingBroadcaster(),
	}
	f.batch = batch.NewController(f.store, f.session, threshold)
	f.p = NewPipeline(PipelineConfig{
		Source:        f.src,
		Store:         f.store,
		Batch:         f.batch,
		Session:       f.session,
		Monitor:       f.monitor,
		Publisher:     f.pub,
		Broadcaster:   f.bcast,
		ConfigRefresh: time.Hour,
		Location:      time.UTC,
	})
	return f
}

func (f *pipelineFixture) records(t *testing.T) []storage.Record {
	t.Helper()
	recs, err := f.store.QueryRange(context.Background(), f.session.UserID(), storage.All())
	require.NoError(t, err)
	return recs
}

func TestPipeline_BuffersOnlyAfterCalibration(t *testing.T) {
	f := newPipelineFixture(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	base := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	f.src.updates <- f.src.update(calibratingReading(base))
	live := f.bcast.next(t)
	assert.Equal(t, "calibrating", live.Outcome)
	assert.False(t, live.Ready)
	assert.Nil(t, live.Assessment)

	for i := 1; i <= 4; i++ {
		f.src.updates <- f.src.update(validReading(base.Add(time.Duration(i)*time.Second), i%2))
		live = f.bcast.next(t)
		assert.True(t, live.Ready)
		require.NotNil(t, live.Assessment)
		assert.InDelta(t, 11.0, live.Assessment.Deviation, 1e-9)
	}

	// threshold reached after the third valid reading
	assert.Len(t, f.records(t), 3)
	assert.Equal(t, 1, f.batch.Pending())

	cancel()
	require.NoError(t, <-done)

	recs := f.records(t)
	require.Len(t, recs, 4)
	assert.Equal(t, sensor.FormatTimestamp(base.Add(4*time.Second)), recs[3].Fecha)
}

func TestPipeline_DrainsQueuedUpdatesAfterCancel(t *testing.T) {
	f := newPipelineFixture(t, 20)
	base := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 22; i++ {
		f.src.updates <- f.src.update(validReading(base.Add(time.Duration(i)*time.Second), 0))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.p.Run(ctx))

	assert.Len(t, f.records(t), 22)
	st := f.batch.Stats()
	assert.Equal(t, 22, st.RowsWritten)
	assert.Zero(t, st.FailedRows)
	assert.Zero(t, st.Pending)
}

func TestPipeline_DisconnectedUpdatesAreNotBuffered(t *testing.T) {
	f := newPipelineFixture(t, 20)
	ctx := context.Background()
	base := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	f.p.handle(ctx, f.src.update(validReading(base, 0)))
	f.p.handle(ctx, sensor.Update{Connected: false})
	f.p.handle(ctx, f.src.update(validReading(base.Add(time.Second), 0)))
	assert.Equal(t, 2, f.batch.Pending())

	live, ok := f.p.Live()
	require.True(t, ok)
	assert.True(t, live.Connected)

	// status goes out on the first update and on every change
	assert.Equal(t, []bool{true, false, true}, f.pub.statuses)
	assert.Equal(t, 2, f.pub.readings)
}

func TestPipeline_LiveBeforeFirstReading(t *testing.T) {
	f := newPipelineFixture(t, 20)
	_, ok := f.p.Live()
	assert.False(t, ok)

	f.p.handle(context.Background(), sensor.Update{Connected: false})
	live, ok := f.p.Live()
	assert.False(t, ok)
	assert.False(t, live.Connected)
}

func TestPipeline_RefreshConfig(t *testing.T) {
	f := newPipelineFixture(t, 20)
	ctx := context.Background()

	f.p.RefreshConfig(ctx)
	assert.Empty(t, f.src.Address())
	assert.Equal(t, alert.DefaultFeedback, f.monitor.Feedback())

	require.NoError(t, f.store.SetConfig(ctx, storage.KeySensorIP, "192.168.4.1"))
	require.NoError(t, f.store.SetConfig(ctx, storage.KeyFeedbackType, `["sound"]`))
	f.p.RefreshConfig(ctx)

	assert.Equal(t, "192.168.4.1", f.src.Address())
	assert.Equal(t, alert.Feedback{Sound: true}, f.monitor.Feedback())

	// an unparseable selection keeps the previous one
	require.NoError(t, f.store.SetConfig(ctx, storage.KeyFeedbackType, `sound`))
	f.p.RefreshConfig(ctx)
	assert.Equal(t, alert.Feedback{Sound: true}, f.monitor.Feedback())
}

func TestPipeline_RegisterNow(t *testing.T) {
	f := newPipelineFixture(t, 20)
	ctx := context.Background()
	ts := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	stored, err := f.p.RegisterNow(ctx)
	require.NoError(t, err)
	assert.False(t, stored, "no reading yet")

	f.src.setLatest(calibratingReading(ts))
	stored, err = f.p.RegisterNow(ctx)
	require.NoError(t, err)
	assert.False(t, stored, "calibrating reading")

	id, err := f.store.CreateUser(ctx, &storage.User{Email: "ana@example.com", Password: "h", Salt: "s"})
	require.NoError(t, err)
	f.session.Login(id)

	f.src.setLatest(validReading(ts, 1))
	stored, err = f.p.RegisterNow(ctx)
	require.NoError(t, err)
	assert.True(t, stored)

	recs := f.records(t)
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].UserID)
	assert.Equal(t, id, *recs[0].UserID)
	assert.Zero(t, f.batch.Pending())
}

func TestPipeline_EndToEndWithSimulatedSensor(t *testing.T) {
	sim := NewSimulator(&fixedSource{pose: posture.Pose{Pitch: 5, Roll: 1}}, 30*time.Millisecond)
	ts := httptest.NewServer(sim.Handler())
	defer ts.Close()

	store := newTestStore(t)
	session := &auth.Session{}
	client := sensor.NewClient(time.Second)
	ctrl := batch.NewController(store, session, 3)
	p := NewPipeline(PipelineConfig{
		Source:        sensor.NewPoller(client, 10*time.Millisecond, time.Second),
		Calibrator:    client,
		Store:         store,
		Batch:         ctrl,
		Session:       session,
		ConfigRefresh: time.Hour,
		InitialAddr:   strings.TrimPrefix(ts.URL, "http://"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		return ctrl.Stats().RowsWritten >= 3
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	recs, err := store.QueryRange(context.Background(), nil, storage.All())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recs), 3)
	for _, r := range recs {
		assert.Equal(t, 5.0, r.Pitch)
		assert.Equal(t, 5.0, r.RefPitch)
		assert.Zero(t, r.MalaPostura)
	}
}
