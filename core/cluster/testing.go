package cluster

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// CreateMemoryDriver returns a MemoryDriver with a reachable backend for
// every endpoint of topology.
func CreateMemoryDriver(t *testing.T, topology Topology) *MemoryDriver {
	t.Helper()
	d := NewMemoryDriver()
	d.AddTopology(topology)
	return d
}

// CreateTestRouter connects a Router and closes it when the test ends.
// Clock and Backoff are filled with a manual clock and one minute when unset.
func CreateTestRouter(t *testing.T, opts RouterOptions) *Router {
	if opts.Clock == nil {
		opts.Clock = NewManualClock().Now
	}
	if opts.Backoff == 0 {
		opts.Backoff = time.Minute
	}
	if opts.Name == "" {
		opts.Name = "test"
	}
	r, err := Connect(t.Context(), opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, r.Close())
	})
	return r
}

// Topo builds a topology of single-host regions, one port per instance.
func Topo(regions ...[]int) Topology {
	t := make(Topology, len(regions))
	for i, ports := range regions {
		for _, p := range ports {
			t[i] = append(t[i], Endpoint{Host: "localhost", Port: p})
		}
	}
	return t
}
