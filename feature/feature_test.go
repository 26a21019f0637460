package feature

import (
	"net"
	"testing"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
)

func TestChecksum_SortInvariant(t *testing.T) {
	tests := []struct {
		name string
		a    []string
		b    []string
		same bool
	}{
		{name: "same set different order", a: []string{"x", "y", "z"}, b: []string{"z", "x", "y"}, same: true},
		{name: "different sets", a: []string{"x", "y"}, b: []string{"x", "z"}, same: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.a) == Checksum(tt.b); got != tt.same {
				t.Errorf("checksum equality = %v, want %v", got, tt.same)
			}
		})
	}
}

// TestRegistry_SchemaRoundTrip: for any registered schema,
// Get(Register(S)).Checksum == sha256(sort(S.features))[:16].
func TestRegistry_SchemaRoundTrip(t *testing.T) {
	r := NewRegistry()
	features := []string{"b_feature", "a_feature", "c_feature"}
	registered := r.Register("1.0.0", "test", "", features, nil, time.Now())

	got, ok := r.Get("1.0.0")
	if !ok {
		t.Fatalf("Get() after Register() should find the schema")
	}
	if got.Checksum != registered.Checksum {
		t.Errorf("Checksum mismatch between Register() and Get(): %q != %q", got.Checksum, registered.Checksum)
	}
	if want := Checksum(features); got.Checksum != want {
		t.Errorf("Checksum = %q, want %q", got.Checksum, want)
	}
}

func TestExtract_ZeroFillsMissingSignals(t *testing.T) {
	frame := safelink.Frame{
		SenderIP: net.ParseIP("192.168.1.10"),
		SrcMAC:   net.HardwareAddr{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33},
	}
	at := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC) // Monday

	v := Extract(frame, Context{}, at)

	if len(v) != len(StandardFeatures) {
		t.Fatalf("vector length = %d, want %d", len(v), len(StandardFeatures))
	}
	if v[0] != 192 || v[1] != 168 || v[2] != 1 || v[3] != 10 {
		t.Errorf("sender ip octets = %v, want [192 168 1 10]", v[0:4])
	}
	if v[4] != 0xAA || v[9] != 0x33 {
		t.Errorf("sender mac bytes not encoded correctly: %v", v[4:10])
	}
	if v[10] != 0 {
		t.Errorf("module_indicator = %v, want 0 (DFA/non-ANN)", v[10])
	}
	if v[11] != 14 {
		t.Errorf("hour_of_day = %v, want 14", v[11])
	}
	// unset signals (gratuitous/probe/inter_arrival/rate/vendor conf) stay 0
	for i := 13; i < len(v); i++ {
		if v[i] != 0 {
			t.Errorf("v[%d] = %v, want 0 for unset context signal", i, v[i])
		}
	}
}

func TestExtractFromAlert_ReconstructsFromDetail(t *testing.T) {
	srcIP := "192.168.1.1"
	srcMAC := "aa:bb:cc:11:22:33"
	alert := safelink.Alert{
		Timestamp: time.Now(),
		Module:    safelink.ModuleDFA,
		SrcIP:     &srcIP,
		SrcMAC:    &srcMAC,
		Detail:    map[string]any{"is_gratuitous": true},
	}

	v := ExtractFromAlert(alert)
	if len(v) != len(StandardFeatures) {
		t.Fatalf("vector length = %d, want %d", len(v), len(StandardFeatures))
	}
	if v[0] != 192 || v[3] != 1 {
		t.Errorf("sender ip octets not reconstructed: %v", v[0:4])
	}
	if v[13] != 1.0 {
		t.Errorf("is_gratuitous from Detail not honored, got %v", v[13])
	}
	if v[10] != 0 {
		t.Errorf("module_indicator for DFA alert = %v, want 0", v[10])
	}
}
