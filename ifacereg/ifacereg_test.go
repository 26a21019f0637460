package ifacereg

import (
	"testing"
	"time"
)

func TestRegistry_Add(t *testing.T) {
	tests := []struct {
		name      string
		ifaceName string
		ifaceAddr string
		wantErr   bool
	}{
		{name: "nonexistent interface errors", ifaceName: "does-not-exist-0", wantErr: true},
		{name: "nonexistent interface with addr errors", ifaceName: "does-not-exist-1", ifaceAddr: "10.0.0.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			_, err := r.Add(tt.ifaceName, tt.ifaceAddr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Add() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_AddIdempotent(t *testing.T) {
	r := New()
	r.entries["lo0"] = &Entry{Name: "lo0", Added: time.Now()}

	e, err := r.Add("lo0", "")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if e != r.entries["lo0"] {
		t.Fatalf("Add() on already-registered interface should return the existing entry")
	}
}

func TestRegistry_RemoveAndList(t *testing.T) {
	r := New()
	r.entries["eth0"] = &Entry{Name: "eth0"}
	r.entries["eth1"] = &Entry{Name: "eth1"}

	if got := len(r.List()); got != 2 {
		t.Fatalf("List() len = %d, want 2", got)
	}

	r.Remove("eth0")
	if got := len(r.List()); got != 1 {
		t.Fatalf("after Remove, List() len = %d, want 1", got)
	}
	if r.Get("eth0") != nil {
		t.Fatalf("Get() for removed interface should be nil")
	}
}

func TestEntry_Counters(t *testing.T) {
	e := &Entry{Name: "eth0"}
	now := time.Now()

	e.RecordFrame(now)
	e.RecordFrame(now.Add(time.Second))
	e.RecordDrop()

	c := e.Counters()
	if c.FramesSeen != 2 {
		t.Errorf("FramesSeen = %d, want 2", c.FramesSeen)
	}
	if c.FramesDropped != 1 {
		t.Errorf("FramesDropped = %d, want 1", c.FramesDropped)
	}
	if !c.LastFrameAt.Equal(now.Add(time.Second)) {
		t.Errorf("LastFrameAt = %v, want %v", c.LastFrameAt, now.Add(time.Second))
	}
}
