package cluster

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint addresses a single backend instance.
type Endpoint struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidTopology)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range for host %s", ErrInvalidTopology, e.Port, e.Host)
	}
	return nil
}

// ParseEndpoint parses "host:port".
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidTopology, portStr)
	}
	e := Endpoint{Host: host, Port: port}
	return e, e.Validate()
}

// Topology lists regions in shard order. Each region lists its instances in
// failover priority order, highest priority first.
type Topology [][]Endpoint

func (t Topology) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: no regions", ErrInvalidTopology)
	}
	for i, region := range t {
		if len(region) == 0 {
			return fmt.Errorf("%w: region %d has no instances", ErrInvalidTopology, i)
		}
		for _, e := range region {
			if err := e.Validate(); err != nil {
				return fmt.Errorf("region %d: %w", i, err)
			}
		}
	}
	return nil
}

// NumRegions returns the number of regions.
func (t Topology) NumRegions() int { return len(t) }
