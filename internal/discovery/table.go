// Package discovery implements the shared service table used by the
// cross-process routing backend: a key/value map of service name to process
// address plus a publish/subscribe channel of changes.
//
// Two implementations satisfy Table: Memory, for single-process deployments
// and tests, and Client, which talks to the discovery hub (see Server).
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Channel is the name of the update channel every Watch subscribes to.
const Channel = "services"

// ErrConflict reports an attempt to advertise a service name that another
// process address already owns.
var ErrConflict = errors.New("discovery: service already advertised by another address")

var errInvalidRecord = errors.New("discovery: invalid record")

// Record advertises that Service is reachable at Addr. Removed marks a
// withdrawal in a Watch stream.
type Record struct {
	Service string
	Addr    string
	Removed bool
}

// Validate checks required fields.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Service) == "" {
		return fmt.Errorf("%w: service is required", errInvalidRecord)
	}
	if strings.TrimSpace(r.Addr) == "" {
		return fmt.Errorf("%w: addr is required", errInvalidRecord)
	}
	return nil
}

// Table is the shared discovery table.
type Table interface {
	// Publish stores rec and notifies watchers. Re-publishing the same
	// (service, addr) pair is a no-op; a different addr fails with ErrConflict.
	Publish(ctx context.Context, rec Record) error
	// Remove withdraws service when it is still owned by addr.
	Remove(ctx context.Context, service, addr string) error
	// List returns every advertised record.
	List(ctx context.Context) ([]Record, error)
	// Watch streams changes on Channel until ctx ends; the channel is closed
	// when the subscription stops for any reason.
	Watch(ctx context.Context) (<-chan Record, error)
}
