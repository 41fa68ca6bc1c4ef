package collector

import "context"

// Collector is the interface that every telemetry source implements.
type Collector interface {
	// Name returns the source name (e.g., "dmon", "pmon", "query").
	Name() string
	// Start spawns the source and begins producing messages.
	Start(ctx context.Context) error
	// WaitForSync waits until the source has produced its first record,
	// finished its first cycle, or terminated.
	WaitForSync(ctx context.Context) error
	// Stop stops the source and kills any subprocess it owns.
	Stop()
}
