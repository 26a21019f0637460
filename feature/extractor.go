package feature

import (
	"net"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
)

// StandardVersion is the schema version every live frame and every
// learner-replayed alert is encoded against. There is exactly one
// encoding path, Extract, honored by both the live pipeline and the
// learner, so a vector's meaning never depends on which half produced
// it.
const StandardVersion = "1.0.0"

// StandardFeatures is the ordered feature list for StandardVersion:
// 4 sender-IP octets, 6 sender-MAC bytes, a module indicator, hour-of-day,
// day-of-week, plus the live-only enrichment signals (gratuitous/probe/
// inter-arrival/rate/vendor anomaly confidence). Fields unavailable in a
// given extraction context are zero-filled.
var StandardFeatures = buildStandardFeatures()

func buildStandardFeatures() []string {
	f := []string{
		"sender_ip_octet_0", "sender_ip_octet_1", "sender_ip_octet_2", "sender_ip_octet_3",
		"sender_mac_byte_0", "sender_mac_byte_1", "sender_mac_byte_2",
		"sender_mac_byte_3", "sender_mac_byte_4", "sender_mac_byte_5",
		"module_indicator",
		"hour_of_day",
		"day_of_week",
		"is_gratuitous",
		"is_probe",
		"inter_arrival_ms",
		"packet_rate",
		"vendor_anomaly_confidence",
	}
	return f
}

// StandardFeatureTypes classifies each StandardFeatures entry.
func StandardFeatureTypes() map[string]FieldType {
	types := make(map[string]FieldType, len(StandardFeatures))
	for _, name := range StandardFeatures {
		switch name {
		case "sender_mac_byte_0", "sender_mac_byte_1", "sender_mac_byte_2",
			"sender_mac_byte_3", "sender_mac_byte_4", "sender_mac_byte_5",
			"hour_of_day", "day_of_week":
			types[name] = TypeInt
		case "is_gratuitous", "is_probe":
			types[name] = TypeBool
		default:
			types[name] = TypeFloat
		}
	}
	return types
}

// Context carries the live-pipeline enrichment signals available only
// when extracting from a just-captured Frame, not from a replayed Alert.
type Context struct {
	IsGratuitous            bool
	IsProbe                 bool
	InterArrival            time.Duration
	PacketRate              float64
	VendorAnomalyConfidence float64
	ModuleIsANN             bool // module indicator: 1.0 if ANN, 0.0 if DFA/other
}

// Extract builds a StandardVersion-shaped fixed-width vector from a
// Frame and its available enrichment Context. Any Context field left at
// its zero value degrades gracefully to "missing = 0", the same
// contract the learner's alert-replay path relies on.
func Extract(frame safelink.Frame, ctx Context, at time.Time) []float64 {
	v := make([]float64, len(StandardFeatures))

	if ip4 := to4(frame.SenderIP); ip4 != nil {
		v[0], v[1], v[2], v[3] = float64(ip4[0]), float64(ip4[1]), float64(ip4[2]), float64(ip4[3])
	}
	if mac := frame.SrcMAC; len(mac) == 6 {
		for i := 0; i < 6; i++ {
			v[4+i] = float64(mac[i])
		}
	}
	if ctx.ModuleIsANN {
		v[10] = 1.0
	}
	v[11] = float64(at.Hour())
	v[12] = float64(int(at.Weekday()))
	if ctx.IsGratuitous {
		v[13] = 1.0
	}
	if ctx.IsProbe {
		v[14] = 1.0
	}
	v[15] = float64(ctx.InterArrival.Milliseconds())
	v[16] = ctx.PacketRate
	v[17] = ctx.VendorAnomalyConfidence

	return v
}

// ExtractFromAlert reconstructs a best-effort Frame from an Alert's
// structured detail bag and re-derives a StandardVersion vector for
// learner-driven auto-labeling. This is the "alert-replay" path: frames
// themselves are never persisted (out of scope), so only the fields the
// analyzer chain recorded into Detail are available; everything else is
// zero, same degrade-gracefully contract as live Context gaps.
func ExtractFromAlert(alert safelink.Alert) []float64 {
	var frame safelink.Frame
	if alert.SrcIP != nil {
		frame.SenderIP = net.ParseIP(*alert.SrcIP)
	}
	if alert.SrcMAC != nil {
		if mac, err := net.ParseMAC(*alert.SrcMAC); err == nil {
			frame.SrcMAC = mac
		}
	}

	ctx := Context{ModuleIsANN: alert.Module == safelink.ModuleANN}
	if g, ok := alert.Detail["is_gratuitous"].(bool); ok {
		ctx.IsGratuitous = g
	}
	if p, ok := alert.Detail["is_probe"].(bool); ok {
		ctx.IsProbe = p
	}

	return Extract(frame, ctx, alert.Timestamp)
}

func to4(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	return ip.To4()
}
