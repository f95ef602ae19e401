// Package metrics holds the instrument abstractions the router reports
// through. Implementations live in adapters.
package metrics

// Timer measures one operation. Call ObserveDuration once it completes:
//
//	defer m.RequestDuration(region).ObserveDuration()
type Timer interface {
	ObserveDuration()
}
