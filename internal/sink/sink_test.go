package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/teleinfo/internal/protocol"
	"github.com/danmuck/teleinfo/internal/protocol/frame"
	"github.com/danmuck/teleinfo/internal/testutil/testlog"
)

type fakeBackend struct {
	unreachable int
	databases   map[string]bool
	created     []string
	selected    string
	batches     [][]Point
	writeErr    error
	closed      bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{databases: map[string]bool{}}
}

func (f *fakeBackend) DatabaseExists(_ context.Context, name string) (bool, error) {
	if f.unreachable > 0 {
		f.unreachable--
		return false, errors.New("connection refused")
	}
	return f.databases[name], nil
}

func (f *fakeBackend) CreateDatabase(_ context.Context, name string) error {
	f.databases[name] = true
	f.created = append(f.created, name)
	return nil
}

func (f *fakeBackend) SelectDatabase(_ context.Context, name string) error {
	f.selected = name
	return nil
}

func (f *fakeBackend) WriteBatch(_ context.Context, points []Point) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.batches = append(f.batches, points)
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

type fakeMirror struct {
	published int
	err       error
}

func (m *fakeMirror) Publish(context.Context, *frame.Frame, time.Time) error {
	m.published++
	return m.err
}

func (m *fakeMirror) Close() error { return nil }

func newTestSink(t *testing.T, backend Backend, cfg Config, mirrors ...Mirror) (*Sink, *[]time.Duration) {
	t.Helper()
	s, err := New(backend, cfg, mirrors...)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return s, &sleeps
}

func testFrame() *frame.Frame {
	f := frame.New()
	f.Set("PAPP", protocol.IntValue(1289))
	f.Set("IINST", protocol.IntValue(5))
	f.Set("PTEC", protocol.TextValue("HP.."))
	return f
}

func TestConnectCreatesMissingDatabase(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	s, sleeps := newTestSink(t, backend, DefaultConfig())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(backend.created) != 1 || backend.created[0] != "teleinfo" {
		t.Fatalf("unexpected created databases: %v", backend.created)
	}
	if backend.selected != "teleinfo" {
		t.Fatalf("database not selected: %q", backend.selected)
	}
	if s.State() != StateReady {
		t.Fatalf("unexpected state: %s", s.State())
	}
	if len(*sleeps) != 0 {
		t.Fatalf("unexpected retries: %v", *sleeps)
	}
}

func TestConnectExistingDatabaseIsNotCreated(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	backend.databases["teleinfo"] = true
	s, _ := newTestSink(t, backend, DefaultConfig())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(backend.created) != 0 {
		t.Fatalf("existing database recreated: %v", backend.created)
	}
}

func TestConnectRetriesOnFixedInterval(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	backend.unreachable = 3
	s, sleeps := newTestSink(t, backend, DefaultConfig())

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(*sleeps) != 3 {
		t.Fatalf("expected 3 retries, got %v", *sleeps)
	}
	for _, d := range *sleeps {
		if d != 5*time.Second {
			t.Fatalf("expected fixed 5s interval, got %v", *sleeps)
		}
	}
}

func TestConnectStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	backend.unreachable = 1 << 30
	s, _ := newTestSink(t, backend, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Connect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Fatalf("unexpected state: %s", s.State())
	}
}

func TestWriteBuildsOnePointPerLabel(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	mirror := &fakeMirror{}
	s, _ := newTestSink(t, backend, DefaultConfig(), mirror)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	at := time.Date(2024, 3, 9, 17, 42, 7, 0, time.UTC)
	if err := s.Write(context.Background(), testFrame(), at); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(backend.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(backend.batches))
	}
	batch := backend.batches[0]
	if len(batch) != 3 {
		t.Fatalf("expected 3 points, got %d", len(batch))
	}
	want := map[string]any{"PAPP": int64(1289), "IINST": int64(5), "PTEC": "HP.."}
	for _, p := range batch {
		if p.Value != want[p.Measurement] {
			t.Fatalf("point %s value=%#v want=%#v", p.Measurement, p.Value, want[p.Measurement])
		}
		if p.Tags["host"] != "raspberry" || p.Tags["region"] != "linky" {
			t.Fatalf("unexpected tags: %v", p.Tags)
		}
		if !p.Time.Equal(at) || p.Time.Location() != time.UTC {
			t.Fatalf("unexpected time: %v", p.Time)
		}
	}
	if mirror.published != 1 {
		t.Fatalf("mirror not published")
	}
}

func TestWriteBeforeConnect(t *testing.T) {
	testlog.Start(t)
	s, _ := newTestSink(t, newFakeBackend(), DefaultConfig())
	if err := s.Write(context.Background(), testFrame(), time.Now()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestWriteFailurePropagatesWithoutRetry(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	mirror := &fakeMirror{err: errors.New("broker down")}
	s, _ := newTestSink(t, backend, DefaultConfig(), mirror)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	backend.writeErr = errors.New("timeout")
	if err := s.Write(context.Background(), testFrame(), time.Now()); err == nil {
		t.Fatalf("expected write error")
	}
	if s.State() != StateReady {
		t.Fatalf("state must stay ready without reconnect, got %s", s.State())
	}
	if mirror.published != 1 {
		t.Fatalf("mirror publish count=%d", mirror.published)
	}
}

func TestWriteFailureReconnects(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	cfg := DefaultConfig()
	cfg.ReconnectOnFailure = true
	s, sleeps := newTestSink(t, backend, cfg)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	backend.writeErr = errors.New("timeout")
	if err := s.Write(context.Background(), testFrame(), time.Now()); err == nil {
		t.Fatalf("expected write error")
	}
	if s.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", s.State())
	}

	backend.writeErr = nil
	backend.unreachable = 1
	if err := s.Write(context.Background(), testFrame(), time.Now()); err != nil {
		t.Fatalf("write after reconnect: %v", err)
	}
	if s.State() != StateReady || len(*sleeps) != 1 || len(backend.batches) != 1 {
		t.Fatalf("unexpected reconnect: state=%s sleeps=%v batches=%d", s.State(), *sleeps, len(backend.batches))
	}
}

func TestCloseReleasesBackend(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	s, _ := newTestSink(t, backend, DefaultConfig())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !backend.closed {
		t.Fatalf("backend not closed")
	}
}

func TestNewValidates(t *testing.T) {
	testlog.Start(t)
	if _, err := New(nil, DefaultConfig()); !errors.Is(err, ErrBackendRequired) {
		t.Fatalf("expected ErrBackendRequired, got %v", err)
	}
	cfg := DefaultConfig()
	cfg.Database = " "
	if _, err := New(newFakeBackend(), cfg); !errors.Is(err, ErrDatabaseRequired) {
		t.Fatalf("expected ErrDatabaseRequired, got %v", err)
	}
}

func TestConnectCustomRetryInterval(t *testing.T) {
	testlog.Start(t)
	backend := newFakeBackend()
	backend.unreachable = 4
	cfg := DefaultConfig()
	cfg.RetryInterval = 250 * time.Millisecond
	s, sleeps := newTestSink(t, backend, cfg)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(*sleeps) != 4 {
		t.Fatalf("expected 4 waits, got %v", *sleeps)
	}
	for i, d := range *sleeps {
		if d != 250*time.Millisecond {
			t.Fatalf("wait%d got=%v", i, d)
		}
	}

	cfg.RetryInterval = 0
	backend.unreachable = 1
	s, sleeps = newTestSink(t, backend, cfg)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != DefaultRetryInterval {
		t.Fatalf("expected default interval, got %v", *sleeps)
	}
}

func TestMirrorMessageEncoding(t *testing.T) {
	testlog.Start(t)
	at := time.Date(2024, 3, 9, 17, 42, 7, 0, time.UTC)
	payload, err := encodeMirrorMessage(testFrame(), at)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got struct {
		Time   string         `json:"time"`
		Values map[string]any `json:"values"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Time != "2024-03-09T17:42:07Z" || got.Values["PAPP"] != float64(1289) || got.Values["PTEC"] != "HP.." {
		t.Fatalf("unexpected payload: %s", payload)
	}
}

func TestInfluxConversion(t *testing.T) {
	testlog.Start(t)
	at := time.Date(2024, 3, 9, 17, 42, 7, 0, time.UTC)
	points := toInfluxPoints(BuildPoints(testFrame(), at, Tags{Host: "h", Region: "r"}))
	if len(points) != 3 {
		t.Fatalf("unexpected point count: %d", len(points))
	}
	if points[0].Name() != "PAPP" || !points[0].Time().Equal(at) {
		t.Fatalf("unexpected first point: %s %v", points[0].Name(), points[0].Time())
	}
	fields := points[0].FieldList()
	if len(fields) != 1 || fields[0].Key != "value" || fields[0].Value != int64(1289) {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	if _, err := NewInfluxBackend(InfluxConfig{URL: "http://localhost:8086"}); !errors.Is(err, ErrOrgRequired) {
		t.Fatalf("expected ErrOrgRequired, got %v", err)
	}
}
