// Package router implements the Packet Router: an in-process fabric that
// moves generated RoCEv2 packets between RDMA engines by destination IP.
// It is the only component that plays the role of a wire — the Ethernet
// datapath in internal/nicdev never touches it.
package router

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rosslwheeler/smart-nic-sub000/internal/obs"
	"github.com/rosslwheeler/smart-nic-sub000/internal/rocev2"
)

// Driver is anything the router can hand an inbound RoCEv2 packet to.
// *rocev2.RdmaEngine satisfies this directly.
type Driver interface {
	ProcessIncomingPacket(data []byte) []rocev2.OutgoingPacket
}

// RouterStats counts fabric activity.
type RouterStats struct {
	Delivered    uint64
	Undeliverable uint64
	Bounced      uint64
}

// Router is a destination-IP-keyed in-process fabric. Registered drivers
// forward packets directly to each other through Deliver/DeliverAll; there is
// no queueing, latency, or loss model — there is no PHY link to model.
type Router struct {
	mu      sync.Mutex
	drivers map[[4]byte]Driver
	logger  *zap.Logger
	stats   RouterStats
}

// New constructs an empty fabric.
func New(logger *zap.Logger) *Router {
	return &Router{drivers: make(map[[4]byte]Driver), logger: obs.OrNop(logger)}
}

// RegisterDriver binds ip to d. Registering the same IP twice replaces the
// previous binding.
func (r *Router) RegisterDriver(ip [4]byte, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[ip] = d
}

// UnregisterDriver removes ip's binding, if any.
func (r *Router) UnregisterDriver(ip [4]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drivers, ip)
}

// Deliver hands pkt.Data to the driver registered at pkt.DestIP, recursively
// delivering whatever that driver bounces back (ACKs, NAKs, READ responses)
// until the fabric goes quiet. depth bounds runaway ping-pong loops.
func (r *Router) Deliver(pkt rocev2.OutgoingPacket) error {
	return r.deliver(pkt, 0)
}

const maxBounceDepth = 64

func (r *Router) deliver(pkt rocev2.OutgoingPacket, depth int) error {
	if depth > maxBounceDepth {
		return fmt.Errorf("router: bounce depth exceeded delivering to %v", pkt.DestIP)
	}
	r.mu.Lock()
	d, ok := r.drivers[pkt.DestIP]
	r.mu.Unlock()
	if !ok {
		r.stats.Undeliverable++
		return fmt.Errorf("router: no driver registered for %v", pkt.DestIP)
	}
	r.stats.Delivered++
	bounced := d.ProcessIncomingPacket(pkt.Data)
	for _, b := range bounced {
		r.stats.Bounced++
		if err := r.deliver(b, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// DeliverAll delivers every packet in pkts in order, stopping at the first
// delivery error.
func (r *Router) DeliverAll(pkts []rocev2.OutgoingPacket) error {
	for _, pkt := range pkts {
		if err := r.Deliver(pkt); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of fabric counters.
func (r *Router) Stats() RouterStats { return r.stats }
