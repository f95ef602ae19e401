package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/kvrouter/core/metrics"
)

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  []string
	attempts  map[string][]bool
	demoted   []string
	dropped   map[string]string
	pipelines []bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{attempts: map[string][]bool{}, dropped: map[string]string{}}
}

func (m *recordingMetrics) RequestDuration(int) metrics.Timer { return metrics.NopTimer() }
func (m *recordingMetrics) RequestCompleted(_ int, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}
func (m *recordingMetrics) ConnectAttempt(endpoint string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[endpoint] = append(m.attempts[endpoint], success)
}
func (m *recordingMetrics) InstanceDisconnected(endpoint string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[endpoint] = reason
}
func (m *recordingMetrics) InstanceDemoted(_ int, endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.demoted = append(m.demoted, endpoint)
}
func (m *recordingMetrics) ConnectedInstances(int, int) {}
func (m *recordingMetrics) PipelineGroup(_ int, _ int, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines = append(m.pipelines, success)
}

func connected(r *Router) [][]bool {
	out := [][]bool{}
	for _, rs := range r.Status() {
		row := make([]bool, len(rs.Instances))
		for i, inst := range rs.Instances {
			row[i] = inst.Connected
		}
		out = append(out, row)
	}
	return out
}

func TestRouter_Connect_DialsOnlyPriorityInstance(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	topo := Topo([]int{1001, 1002}, []int{2001, 2002, 2003})
	d := CreateMemoryDriver(t, topo)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})

	require.Equal(t, 2, r.NumRegions())
	require.Equal(t, [][]bool{{true, false}, {true, false, false}}, connected(r))
	require.Equal(t, 1, d.Backend(topo[0][0]).Dials())
	require.Equal(t, 0, d.Backend(topo[0][1]).Dials())
	require.Equal(t, 0, d.Backend(topo[1][2]).Dials())
}

func TestRouter_Connect_ToleratesFailedDials(t *testing.T) {
	topo := Topo([]int{1001, 1002}, []int{2001})
	d := CreateMemoryDriver(t, topo)
	for _, region := range topo {
		for _, e := range region {
			d.Backend(e).SetReachable(false)
		}
	}

	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})
	require.Equal(t, [][]bool{{false, false}, {false}}, connected(r))

	_, err := r.Request(t.Context(), Command{"get", "abc"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrNoInstance)
	require.ErrorIs(t, err, ErrBackendUnreachable)

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 0, ce.Region)
	require.Equal(t, [][]bool{{false, false}, {false}}, connected(r))
}

func TestRouter_Connect_InvalidOptions(t *testing.T) {
	d := NewMemoryDriver()

	_, err := Connect(t.Context(), RouterOptions{Topology: Topo([]int{1})})
	require.ErrorIs(t, err, ErrNoDriver)

	_, err = Connect(t.Context(), RouterOptions{Driver: d})
	require.ErrorIs(t, err, ErrInvalidTopology)

	_, err = Connect(t.Context(), RouterOptions{Driver: d, Topology: Topology{{}}})
	require.ErrorIs(t, err, ErrInvalidTopology)

	_, err = Connect(t.Context(), RouterOptions{Driver: d, Topology: Topology{{{Host: "h", Port: 70000}}}})
	require.ErrorIs(t, err, ErrInvalidTopology)
}

func TestRouter_Request_SetOnOwningRegion(t *testing.T) {
	topo := Topology{
		{{Host: "h1", Port: 1}},
		{{Host: "h2", Port: 2}},
	}
	d := CreateMemoryDriver(t, topo)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})

	require.Equal(t, 0, r.ShardOf("abc"))

	reply, err := r.Request(t.Context(), Command{"set", "abc", "v1"})
	require.NoError(t, err)
	require.Equal(t, Reply{Status: StatusOK, Values: []string{"ok"}}, reply)

	v, ok := d.Backend(topo[0][0]).Value("abc")
	require.True(t, ok)
	require.Equal(t, "v1", v)
	_, ok = d.Backend(topo[1][0]).Value("abc")
	require.False(t, ok)
}

func TestRouter_FailoverAndPromotion(t *testing.T) {
	var (
		clock = NewManualClock()
		topo  = Topo([]int{1, 2})
		d     = CreateMemoryDriver(t, topo)
		a     = d.Backend(topo[0][0])
		b     = d.Backend(topo[0][1])
		m     = newRecordingMetrics()
	)
	a.SetReachable(false)

	r := CreateTestRouter(t, RouterOptions{
		Topology: topo,
		Driver:   d,
		Clock:    clock.Now,
		Backoff:  time.Minute,
		Metrics:  m,
	})

	reply, err := r.RequestAt(t.Context(), 0, Command{"set", "k", "v"})
	require.NoError(t, err)
	require.True(t, reply.IsOK())
	require.Equal(t, [][]bool{{false, true}}, connected(r))
	require.Len(t, b.Requests(), 1)

	// A is back but its backoff window is still open.
	a.SetReachable(true)
	clock.Advance(30 * time.Second)
	ep, err := r.InstanceOf(t.Context(), 0)
	require.NoError(t, err)
	require.Equal(t, topo[0][1], ep)
	require.Equal(t, 1, a.Dials())

	clock.Advance(30 * time.Second)
	ep, err = r.InstanceOf(t.Context(), 0)
	require.NoError(t, err)
	require.Equal(t, topo[0][0], ep)
	require.Equal(t, 2, a.Dials())
	require.Equal(t, [][]bool{{true, false}}, connected(r))

	require.Equal(t, []string{topo[0][1].String()}, m.demoted)
	require.Equal(t, ReasonDemoted, m.dropped[topo[0][1].String()])
	require.Equal(t, []bool{false, true}, m.attempts[topo[0][0].String()])
}

func TestRouter_DemotedInstanceKeepsItsBackoff(t *testing.T) {
	var (
		topo  = Topo([]int{1, 2})
		d     = CreateMemoryDriver(t, topo)
		a, b  = d.Backend(topo[0][0]), d.Backend(topo[0][1])
		clock = NewManualClock()
	)
	a.SetReachable(false)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d, Clock: clock.Now, Backoff: time.Minute})

	clock.Advance(30 * time.Second)
	_, err := r.RequestAt(t.Context(), 0, Command{"set", "k", "v"})
	require.NoError(t, err)
	require.Equal(t, 1, b.Dials())

	a.SetReachable(true)
	clock.Advance(30 * time.Second)
	ep, err := r.InstanceOf(t.Context(), 0)
	require.NoError(t, err)
	require.Equal(t, topo[0][0], ep)
	require.Equal(t, [][]bool{{true, false}}, connected(r))

	// B was dialled 30s ago: demotion did not reopen its window.
	a.FailRequests(1)
	_, err = r.RequestAt(t.Context(), 0, Command{"get", "k"})
	require.ErrorIs(t, err, ErrNoInstance)
	require.Equal(t, 1, b.Dials())

	clock.Advance(30 * time.Second)
	reply, err := r.RequestAt(t.Context(), 0, Command{"get", "k"})
	require.NoError(t, err)
	require.Equal(t, OK("v"), reply)
	require.Equal(t, 2, b.Dials())
}

func TestRouter_ServerErrorRetriesOnNextInstance(t *testing.T) {
	topo := Topo([]int{1, 2})
	d := CreateMemoryDriver(t, topo)
	a, b := d.Backend(topo[0][0]), d.Backend(topo[0][1])
	m := newRecordingMetrics()

	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d, Metrics: m})
	a.FailRequests(1)

	reply, err := r.RequestAt(t.Context(), 0, Command{"set", "k", "v"})
	require.NoError(t, err)
	require.Equal(t, OK("ok"), reply)

	_, ok := b.Value("k")
	require.True(t, ok)
	_, ok = a.Value("k")
	require.False(t, ok)
	require.Equal(t, [][]bool{{false, true}}, connected(r))
	require.Equal(t, ReasonServerError, m.dropped[topo[0][0].String()])
	require.Equal(t, []string{OutcomeOK}, m.outcomes)
}

func TestRouter_ServerErrorAfterBackoffMovesToNextInstance(t *testing.T) {
	var (
		topo  = Topo([]int{1, 2})
		d     = CreateMemoryDriver(t, topo)
		a, b  = d.Backend(topo[0][0]), d.Backend(topo[0][1])
		clock = NewManualClock()
	)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d, Clock: clock.Now, Backoff: time.Minute})

	// A has been up longer than the backoff window, so it would be
	// eligible for a redial right after faulting.
	clock.Advance(2 * time.Minute)
	a.FailRequests(2)

	reply, err := r.RequestAt(t.Context(), 0, Command{"set", "k", "v"})
	require.NoError(t, err)
	require.Equal(t, OK("ok"), reply)
	require.Equal(t, 1, a.Dials())
	require.Equal(t, 1, b.Dials())
	require.Len(t, b.Requests(), 1)
	require.Equal(t, [][]bool{{false, true}}, connected(r))

	v, ok := b.Value("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestRouter_InstanceOfReturnsContextErrors(t *testing.T) {
	var (
		topo  = Topo([]int{1})
		d     = CreateMemoryDriver(t, topo)
		clock = NewManualClock()
	)
	d.Backend(topo[0][0]).SetReachable(false)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d, Clock: clock.Now, Backoff: time.Minute})

	d.Backend(topo[0][0]).SetReachable(true)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := r.InstanceOf(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	var connErr *ConnectionError
	require.False(t, errors.As(err, &connErr))

	ep, err := r.InstanceOf(t.Context(), 0)
	require.NoError(t, err)
	require.Equal(t, topo[0][0], ep)
}

func TestRouter_ServerErrorAttemptsBoundedByInstances(t *testing.T) {
	topo := Topo([]int{1})
	d := CreateMemoryDriver(t, topo)
	a := d.Backend(topo[0][0])

	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})
	a.FailRequests(5)

	_, err := r.RequestAt(t.Context(), 0, Command{"get", "k"})
	require.ErrorIs(t, err, ErrNoInstance)
	require.ErrorIs(t, err, ErrInjectedFault)

	var se *ServerError
	require.ErrorAs(t, err, &se)
	require.Equal(t, topo[0][0], se.Endpoint)
	require.Equal(t, 1, a.Dials())
}

func TestRouter_ApplicationErrorIsReturnedAsIs(t *testing.T) {
	topo := Topo([]int{1, 2})
	d := CreateMemoryDriver(t, topo)
	m := newRecordingMetrics()
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d, Metrics: m})

	reply, err := r.RequestAt(t.Context(), 0, Command{"get", "missing"})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, reply.Status)
	require.Equal(t, []string{"not_found"}, reply.Values)
	require.True(t, IsNotFound(reply.Err()))

	require.Equal(t, [][]bool{{true, false}}, connected(r))
	require.Equal(t, 1, d.Backend(topo[0][0]).Dials())
	require.Equal(t, []string{OutcomeApplicationError}, m.outcomes)
}

func TestRouter_AllInstancesDown(t *testing.T) {
	topo := Topo([]int{1, 2})
	d := CreateMemoryDriver(t, topo)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})

	d.Backend(topo[0][0]).SetReachable(false)
	d.Backend(topo[0][1]).SetReachable(false)

	_, err := r.RequestAt(t.Context(), 0, Command{"set", "k", "v"})
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, [][]bool{{false, false}}, connected(r))
}

func TestRouter_BackoffGatesReconnect(t *testing.T) {
	clock := NewManualClock()
	topo := Topo([]int{1})
	d := CreateMemoryDriver(t, topo)
	a := d.Backend(topo[0][0])
	a.SetReachable(false)

	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d, Clock: clock.Now, Backoff: time.Minute})
	require.Equal(t, 1, a.Dials())

	_, err := r.RequestAt(t.Context(), 0, Command{"get", "k"})
	require.ErrorIs(t, err, ErrNoInstance)
	require.Equal(t, 1, a.Dials())

	a.SetReachable(true)
	clock.Advance(59 * time.Second)
	_, err = r.RequestAt(t.Context(), 0, Command{"get", "k"})
	require.ErrorIs(t, err, ErrNoInstance)
	require.Equal(t, 1, a.Dials())

	clock.Advance(time.Second)
	reply, err := r.RequestAt(t.Context(), 0, Command{"set", "k", "v"})
	require.NoError(t, err)
	require.True(t, reply.IsOK())
	require.Equal(t, 2, a.Dials())
	require.Equal(t, clock.Now(), r.Status()[0].Instances[0].LastAttempt)
}

func TestRouter_CacheHitKeepsLastAttempt(t *testing.T) {
	clock := NewManualClock()
	start := clock.Now()
	topo := Topo([]int{1})
	d := CreateMemoryDriver(t, topo)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d, Clock: clock.Now})

	clock.Advance(10 * time.Minute)
	_, err := r.RequestAt(t.Context(), 0, Command{"set", "k", "v"})
	require.NoError(t, err)

	st := r.Status()[0].Instances[0]
	assert.True(t, st.Connected)
	assert.Equal(t, start, st.LastAttempt)
	assert.Equal(t, 1, d.Backend(topo[0][0]).Dials())
}

func TestRouter_RequestKeyAndRequestAgree(t *testing.T) {
	topo := Topo([]int{1}, []int{2}, []int{3})
	d := CreateMemoryDriver(t, topo)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})

	_, err := r.RequestKey(t.Context(), "user:42", Command{"set", "user:42", "x"})
	require.NoError(t, err)

	reply, err := r.Request(t.Context(), Command{"get", "user:42"})
	require.NoError(t, err)
	require.Equal(t, OK("x"), reply)

	reply, err = r.RequestAt(t.Context(), r.ShardOf("user:42"), Command{"get", "user:42"})
	require.NoError(t, err)
	require.Equal(t, OK("x"), reply)
}

func TestRouter_InvalidCalls(t *testing.T) {
	topo := Topo([]int{1}, []int{2})
	d := CreateMemoryDriver(t, topo)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})

	_, err := r.RequestAt(t.Context(), 2, Command{"get", "k"})
	require.ErrorIs(t, err, ErrRegionOutOfRange)
	_, err = r.RequestAt(t.Context(), -1, Command{"get", "k"})
	require.ErrorIs(t, err, ErrRegionOutOfRange)
	_, err = r.InstanceOf(t.Context(), 9)
	require.ErrorIs(t, err, ErrRegionOutOfRange)

	_, err = r.Request(t.Context(), Command{"ping"})
	require.ErrorIs(t, err, ErrMissingShardKey)
}

func TestRouter_Close(t *testing.T) {
	topo := Topo([]int{1})
	d := CreateMemoryDriver(t, topo)
	r := CreateTestRouter(t, RouterOptions{Topology: topo, Driver: d})

	require.NoError(t, r.Close())
	require.Equal(t, [][]bool{{false}}, connected(r))

	_, err := r.Request(t.Context(), Command{"get", "k"})
	require.True(t, errors.Is(err, ErrRouterClosed))
}
