package app

import (
	"sync"

	"github.com/1ureka/ctlmux/internal/protocol"
)

// registry maintains the id → virtual HID device table on the device side.
type registry struct {
	mu      sync.Mutex
	devices map[uint16]protocol.UhidCreate
}

// newRegistry creates an empty registry.
func newRegistry() *registry {
	return &registry{
		devices: make(map[uint16]protocol.UhidCreate),
	}
}

// create stores dev under its id. It reports whether an existing device with
// the same id was replaced.
func (r *registry) create(dev protocol.UhidCreate) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.devices[dev.ID]
	r.devices[dev.ID] = dev
	return existed
}

// destroy removes id and reports whether it was registered.
func (r *registry) destroy(id uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	return ok
}

// lookup returns the device registered under id.
func (r *registry) lookup(id uint16) (protocol.UhidCreate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[id]
	return dev, ok
}

// count returns the number of registered devices.
func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
