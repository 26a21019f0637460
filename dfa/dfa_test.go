package dfa

import (
	"net"
	"testing"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

// TestFilter_ARPSpoofingConflict: two replies claiming 192.168.1.1
// from two different source MACs should raise exactly one
// DFA conflict alert.
func TestFilter_ARPSpoofingConflict(t *testing.T) {
	f := New(5, 5*time.Second)
	now := time.Now()

	first := safelink.Frame{
		Opcode:   safelink.OpReply,
		SenderIP: net.ParseIP("192.168.1.1"),
		TargetIP: net.ParseIP("192.168.1.50"),
		SrcMAC:   mustMAC("AA:BB:CC:11:22:33"),
	}
	second := safelink.Frame{
		Opcode:   safelink.OpReply,
		SenderIP: net.ParseIP("192.168.1.1"),
		TargetIP: net.ParseIP("192.168.1.50"),
		SrcMAC:   mustMAC("BA:DD:C0:FF:EE:00"),
	}

	if alerts := f.Evaluate(first, now); len(alerts) != 0 {
		t.Fatalf("first sighting should not alert, got %+v", alerts)
	}

	alerts := f.Evaluate(second, now)
	var conflicts []safelink.Alert
	for _, a := range alerts {
		if a.Detail["prev_mac"] != nil {
			conflicts = append(conflicts, a)
		}
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly one conflict alert, got %d: %+v", len(conflicts), conflicts)
	}
	a := conflicts[0]
	wantReason := "IP-MAC conflict: 192.168.1.1 previous aa:bb:cc:11:22:33 now ba:dd:c0:ff:ee:00"
	if a.Reason != wantReason {
		t.Errorf("Reason = %q, want %q", a.Reason, wantReason)
	}
	if a.Module != safelink.ModuleDFA {
		t.Errorf("Module = %v, want DFA", a.Module)
	}
	if *a.SrcIP != "192.168.1.1" {
		t.Errorf("SrcIP = %v, want 192.168.1.1", *a.SrcIP)
	}
	if *a.SrcMAC != "ba:dd:c0:ff:ee:00" {
		t.Errorf("SrcMAC = %v, want ba:dd:c0:ff:ee:00", *a.SrcMAC)
	}
}

func TestFilter_BindingConflict(t *testing.T) {
	tests := []struct {
		name      string
		frames    []safelink.Frame
		wantAlert bool
	}{
		{
			name: "same mac twice raises nothing",
			frames: []safelink.Frame{
				{SenderIP: net.ParseIP("192.168.1.5"), SrcMAC: mustMAC("aa:aa:aa:aa:aa:aa")},
				{SenderIP: net.ParseIP("192.168.1.5"), SrcMAC: mustMAC("aa:aa:aa:aa:aa:aa")},
			},
			wantAlert: false,
		},
		{
			name: "mac change after first binding raises conflict",
			frames: []safelink.Frame{
				{SenderIP: net.ParseIP("192.168.1.5"), SrcMAC: mustMAC("aa:aa:aa:aa:aa:aa")},
				{SenderIP: net.ParseIP("192.168.1.5"), SrcMAC: mustMAC("bb:bb:bb:bb:bb:bb")},
			},
			wantAlert: true,
		},
		{
			name: "first sighting never raises",
			frames: []safelink.Frame{
				{SenderIP: net.ParseIP("192.168.1.6"), SrcMAC: mustMAC("cc:cc:cc:cc:cc:cc")},
			},
			wantAlert: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(5, 5*time.Second)
			now := time.Now()
			var gotConflict bool
			for _, frame := range tt.frames {
				for _, a := range f.Evaluate(frame, now) {
					if a.Module == safelink.ModuleDFA && a.Detail["prev_mac"] != nil {
						gotConflict = true
					}
				}
			}
			if gotConflict != tt.wantAlert {
				t.Errorf("conflict alert = %v, want %v", gotConflict, tt.wantAlert)
			}
		})
	}
}

// TestFilter_GratuitousFlood: 10 frames within 3s from the same source
// MAC with threshold 5 over a 5s window should raise at least one DFA
// alert whose detail count is in [6,10].
func TestFilter_GratuitousFlood(t *testing.T) {
	f := New(5, 5*time.Second)
	mac := mustMAC("de:ad:be:ef:ca:fe")
	senIP := net.ParseIP("192.168.1.66")

	base := time.Now()
	var floodAlerts []safelink.Alert
	for i := 0; i < 10; i++ {
		frame := safelink.Frame{
			SenderIP: senIP,
			TargetIP: senIP,
			SrcMAC:   mac,
			Opcode:   safelink.OpReply,
		}
		now := base.Add(time.Duration(i) * 300 * time.Millisecond) // 10 frames across ~2.7s
		for _, a := range f.Evaluate(frame, now) {
			if a.Module == safelink.ModuleDFA && a.Detail["mac"] == mac.String() {
				floodAlerts = append(floodAlerts, a)
			}
		}
	}

	if len(floodAlerts) == 0 {
		t.Fatalf("expected at least one gratuitous flood alert")
	}
	for _, a := range floodAlerts {
		count, _ := a.Detail["count"].(int)
		if count < 6 || count > 10 {
			t.Errorf("flood alert count = %d, want in [6,10]", count)
		}
	}
}

func TestFilter_GratuitousWindowPrunesOldEntries(t *testing.T) {
	f := New(5, 1*time.Second)
	mac := mustMAC("11:22:33:44:55:66")
	base := time.Now()

	for i := 0; i < 6; i++ {
		f.Evaluate(safelink.Frame{SrcMAC: mac}, base)
	}

	// advance past the window; the deque should have been pruned to empty
	// before this frame is appended, so no flood fires.
	alerts := f.Evaluate(safelink.Frame{SrcMAC: mac}, base.Add(2*time.Second))
	for _, a := range alerts {
		if a.Detail != nil {
			if _, ok := a.Detail["count"]; ok {
				t.Errorf("expected pruned window to reset flood count, got alert %+v", a)
			}
		}
	}
}
