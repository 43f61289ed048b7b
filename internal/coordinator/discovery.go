package coordinator

import (
	"context"
	"fmt"
)

// discoverySession runs advertising and discovery together under one
// service id. Guarded by the Coordinator lock.
type discoverySession struct {
	transport   Transport
	name        string
	serviceID   string
	advertising bool
	discovering bool
}

func (d *discoverySession) start(ctx context.Context) error {
	if d.active() {
		return ErrAlreadyPairing
	}

	if err := d.transport.StartAdvertising(ctx, d.name, d.serviceID); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}
	d.advertising = true

	if err := d.transport.StartDiscovery(ctx, d.serviceID); err != nil {
		d.stop()
		return fmt.Errorf("start discovery: %w", err)
	}
	d.discovering = true
	return nil
}

// stop is safe to call in any state.
func (d *discoverySession) stop() {
	if d.advertising {
		d.transport.StopAdvertising()
		d.advertising = false
	}
	if d.discovering {
		d.transport.StopDiscovery()
		d.discovering = false
	}
}

func (d *discoverySession) active() bool {
	return d.advertising || d.discovering
}
