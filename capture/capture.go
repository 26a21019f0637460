// Package capture implements the capture engine: a per-interface
// ARP frame producer with a bounded, drop-oldest outbound buffer.
//
// The Engine's Frames() channel is the sole producer contract the
// dispatcher depends on; when a downstream consumer falls behind, the
// oldest queued frame is dropped rather than blocking the capture loop
// or growing memory without bound.
package capture

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	safelink "github.com/Nagarohit29/Safelink"
	"github.com/Nagarohit29/Safelink/misc"
)

// PacketSource abstracts the subset of *pcap.Handle/*gopacket.PacketSource
// the engine depends on, so tests can substitute a fake without opening a
// real capture device.
type PacketSource interface {
	Packets() <-chan gopacket.Packet
	Close()
}

type pcapSource struct {
	handle *pcap.Handle
	src    *gopacket.PacketSource
}

func (p *pcapSource) Packets() <-chan gopacket.Packet { return p.src.Packets() }
func (p *pcapSource) Close()                          { p.handle.Close() }

// OpenLive opens a live capture on ifaceName filtered to ARP traffic.
func OpenLive(ifaceName string) (PacketSource, error) {
	handle, err := pcap.OpenLive(ifaceName, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", safelink.ErrCaptureUnavailable, ifaceName, err)
	}
	if err := handle.SetBPFFilter("arp"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("%w: %s: bpf filter: %v", safelink.ErrCaptureUnavailable, ifaceName, err)
	}
	return &pcapSource{handle: handle, src: gopacket.NewPacketSource(handle, layers.LayerTypeEthernet)}, nil
}

// Engine is a single interface's frame producer. It reads raw packets
// from a PacketSource, extracts the ARP layer, and republishes Frames on
// a bounded channel. When the channel is full it drops the oldest queued
// frame rather than blocking the capture loop.
type Engine struct {
	ifaceName   string
	src         PacketSource
	out         chan safelink.Frame
	dropCounter *misc.DropCounter
	onFrame     func(safelink.Frame)
	onDrop      func()
}

// NewEngine constructs an Engine with an outbound buffer of depth
// queueDepth. onFrame/onDrop, if non-nil, are invoked synchronously for
// every accepted/dropped frame — the Interface Registry's counters hang
// off these hooks.
func NewEngine(ifaceName string, src PacketSource, queueDepth int, onFrame func(safelink.Frame), onDrop func()) *Engine {
	return &Engine{
		ifaceName:   ifaceName,
		src:         src,
		out:         make(chan safelink.Frame, queueDepth),
		dropCounter: &misc.DropCounter{},
		onFrame:     onFrame,
		onDrop:      onDrop,
	}
}

// Frames returns the channel of produced frames, in per-interface
// arrival order.
func (e *Engine) Frames() <-chan safelink.Frame { return e.out }

// DroppedCount returns the number of frames dropped due to a full
// outbound buffer.
func (e *Engine) DroppedCount() uint64 { return e.dropCounter.Value() }

// Run pumps packets from the PacketSource into the outbound buffer until
// ctx is canceled or the source is exhausted. It owns closing both the
// PacketSource and the outbound channel.
func (e *Engine) Run(ctx context.Context) {
	defer e.src.Close()
	defer close(e.out)

	in := e.src.Packets()
	for {
		select {
		case <-ctx.Done():
			return
		case packet, ok := <-in:
			if !ok {
				return
			}
			arpL := getArpLayer(packet)
			if arpL == nil {
				continue
			}
			frame := frameFromArpLayer(packet, arpL, e.ifaceName)
			e.publish(frame)
		}
	}
}

// publish enqueues frame, dropping the oldest queued frame first if the
// buffer is full.
func (e *Engine) publish(frame safelink.Frame) {
	for {
		select {
		case e.out <- frame:
			if e.onFrame != nil {
				e.onFrame(frame)
			}
			return
		default:
		}

		select {
		case <-e.out:
			e.dropCounter.Inc()
			if e.onDrop != nil {
				e.onDrop()
			}
		default:
			// another goroutine drained it between the full-check and
			// now; retry the send.
		}
	}
}

func getArpLayer(packet gopacket.Packet) *layers.ARP {
	if l := packet.Layer(layers.LayerTypeARP); l != nil {
		return l.(*layers.ARP)
	}
	return nil
}

func frameFromArpLayer(packet gopacket.Packet, arp *layers.ARP, ifaceID string) safelink.Frame {
	now := time.Now()
	f := safelink.Frame{
		SrcMAC:      net.HardwareAddr(arp.SourceHwAddress),
		DstMAC:      net.HardwareAddr(arp.DstHwAddress),
		SenderIP:    net.IP(arp.SourceProtAddress),
		TargetIP:    net.IP(arp.DstProtAddress),
		Opcode:      safelink.Opcode(arp.Operation),
		CapturedAt:  now,
		InterfaceID: ifaceID,
	}
	if md := packet.Metadata(); md != nil {
		f.Monotonic = md.Timestamp.UnixNano()
	} else {
		f.Monotonic = now.UnixNano()
	}
	return f
}
