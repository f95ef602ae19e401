package cluster

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Routing errors
	ErrNoInstance       = errors.New("no reachable instance in region")
	ErrRegionOutOfRange = errors.New("region out of range")
	ErrMissingShardKey  = errors.New("command has no shard key")

	// Setup errors
	ErrInvalidTopology = errors.New("invalid topology")
	ErrNoDriver        = errors.New("driver is required")
	ErrRouterClosed    = errors.New("router closed")
)

// ConnectionError is returned when no instance of a region could serve a
// call. Err is ErrNoInstance or the last dial error seen during the scan.
type ConnectionError struct {
	Region int
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cluster: region %d: connection error: %v", e.Region, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNoInstance) hold for every ConnectionError.
func (e *ConnectionError) Is(target error) bool { return target == ErrNoInstance }

// ServerError wraps a fault a driver reported for a connected instance.
type ServerError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("cluster: instance %s: server error: %v", e.Endpoint, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }

// ApplicationError is a failed reply turned into an error. It is never
// retried by the router.
type ApplicationError struct {
	Values []string
}

func (e *ApplicationError) Error() string {
	if len(e.Values) == 0 {
		return "cluster: application error"
	}
	return "cluster: application error: " + strings.Join(e.Values, " ")
}

// IsNotFound reports whether err is an application error whose first value
// is "not_found".
func IsNotFound(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae) && len(ae.Values) > 0 && ae.Values[0] == "not_found"
}
