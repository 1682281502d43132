package router

import (
	"testing"

	"github.com/rosslwheeler/smart-nic-sub000/internal/rocev2"
)

type fakeDriver struct {
	received [][]byte
	bounce   []rocev2.OutgoingPacket
}

func (f *fakeDriver) ProcessIncomingPacket(data []byte) []rocev2.OutgoingPacket {
	f.received = append(f.received, data)
	out := f.bounce
	f.bounce = nil
	return out
}

func TestDeliverRoutesToRegisteredDriver(t *testing.T) {
	r := New(nil)
	dst := [4]byte{10, 0, 0, 2}
	drv := &fakeDriver{}
	r.RegisterDriver(dst, drv)

	err := r.Deliver(rocev2.OutgoingPacket{DestIP: dst, Data: []byte("hello")})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(drv.received) != 1 || string(drv.received[0]) != "hello" {
		t.Fatalf("driver received = %v", drv.received)
	}
	if r.Stats().Delivered != 1 {
		t.Fatalf("Delivered = %d, want 1", r.Stats().Delivered)
	}
}

func TestDeliverToUnregisteredIPFails(t *testing.T) {
	r := New(nil)
	err := r.Deliver(rocev2.OutgoingPacket{DestIP: [4]byte{1, 1, 1, 1}, Data: []byte("x")})
	if err == nil {
		t.Fatalf("expected an error for an undeliverable packet")
	}
	if r.Stats().Undeliverable != 1 {
		t.Fatalf("Undeliverable = %d, want 1", r.Stats().Undeliverable)
	}
}

func TestDeliverBouncesBackThroughTheFabric(t *testing.T) {
	r := New(nil)
	aliceIP := [4]byte{10, 0, 0, 1}
	bobIP := [4]byte{10, 0, 0, 2}

	alice := &fakeDriver{}
	bob := &fakeDriver{bounce: []rocev2.OutgoingPacket{{DestIP: aliceIP, Data: []byte("ack")}}}
	r.RegisterDriver(aliceIP, alice)
	r.RegisterDriver(bobIP, bob)

	if err := r.Deliver(rocev2.OutgoingPacket{DestIP: bobIP, Data: []byte("send")}); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(bob.received) != 1 || string(bob.received[0]) != "send" {
		t.Fatalf("bob received = %v", bob.received)
	}
	if len(alice.received) != 1 || string(alice.received[0]) != "ack" {
		t.Fatalf("alice should have received the bounced ack, got %v", alice.received)
	}
	if r.Stats().Bounced != 1 {
		t.Fatalf("Bounced = %d, want 1", r.Stats().Bounced)
	}
}

func TestDeliverAllStopsAtFirstError(t *testing.T) {
	r := New(nil)
	good := [4]byte{10, 0, 0, 1}
	r.RegisterDriver(good, &fakeDriver{})

	pkts := []rocev2.OutgoingPacket{
		{DestIP: good, Data: []byte("ok")},
		{DestIP: [4]byte{9, 9, 9, 9}, Data: []byte("missing")},
	}
	if err := r.DeliverAll(pkts); err == nil {
		t.Fatalf("expected an error from the undeliverable second packet")
	}
}

func TestUnregisterDriverMakesItUndeliverable(t *testing.T) {
	r := New(nil)
	ip := [4]byte{10, 0, 0, 5}
	r.RegisterDriver(ip, &fakeDriver{})
	r.UnregisterDriver(ip)

	if err := r.Deliver(rocev2.OutgoingPacket{DestIP: ip, Data: []byte("x")}); err == nil {
		t.Fatalf("expected delivery to fail after unregistering")
	}
}
