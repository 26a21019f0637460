package capture

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	safelink "github.com/Nagarohit29/Safelink"
)

// fakeSource is a PacketSource backed by an in-memory channel, letting
// tests drive the Engine without a real pcap handle.
type fakeSource struct {
	ch     chan gopacket.Packet
	closed bool
}

func newFakeSource(depth int) *fakeSource { return &fakeSource{ch: make(chan gopacket.Packet, depth)} }

func (f *fakeSource) Packets() <-chan gopacket.Packet { return f.ch }
func (f *fakeSource) Close()                          { f.closed = true }

func arpPacket(t *testing.T, op layers.ARPOperation, senIP, tarIP string) gopacket.Packet {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE},
		DstMAC:       net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         uint16(op),
		SourceHwAddress:   []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE},
		SourceProtAddress: net.ParseIP(senIP).To4(),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.ParseIP(tarIP).To4(),
	}

	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		t.Fatalf("serialize arp packet: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestEngine_PublishesFramesInOrder(t *testing.T) {
	src := newFakeSource(4)
	src.ch <- arpPacket(t, layers.ARPRequest, "192.168.1.10", "192.168.1.1")
	src.ch <- arpPacket(t, layers.ARPReply, "192.168.1.1", "192.168.1.10")
	close(src.ch)

	var got []safelink.Frame
	e := NewEngine("eth0", src, 4, func(f safelink.Frame) { got = append(got, f) }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Run(ctx)

	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !got[0].IsRequest() || !got[1].IsReply() {
		t.Fatalf("frames out of order or wrong opcode: %+v", got)
	}
	if got[0].SenderIP.String() != "192.168.1.10" {
		t.Errorf("SenderIP = %v, want 192.168.1.10", got[0].SenderIP)
	}
	if !src.closed {
		t.Errorf("Run() should close the PacketSource on exit")
	}
}

func TestEngine_DropsOldestWhenFull(t *testing.T) {
	src := newFakeSource(8)
	for i := 0; i < 5; i++ {
		src.ch <- arpPacket(t, layers.ARPRequest, "192.168.1.10", "192.168.1.1")
	}
	close(src.ch)

	var drops int
	e := NewEngine("eth0", src, 2, nil, func() { drops++ })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e.Run(ctx)

	if drops != 3 {
		t.Errorf("drops = %d, want 3 (5 produced - 2 capacity)", drops)
	}
	if e.DroppedCount() != 3 {
		t.Errorf("DroppedCount() = %d, want 3", e.DroppedCount())
	}

	remaining := 0
	for range e.Frames() {
		remaining++
	}
	if remaining != 2 {
		t.Errorf("remaining frames = %d, want 2", remaining)
	}
}
