package arpanalyze

import (
	"net"
	"testing"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", s, err)
	}
	return mac
}

func frame(t *testing.T, senderIP, targetIP string, op safelink.Opcode, dstMAC string) safelink.Frame {
	return safelink.Frame{
		SrcMAC:   mustMAC(t, "aa:bb:cc:11:22:33"),
		DstMAC:   mustMAC(t, dstMAC),
		SenderIP: net.ParseIP(senderIP),
		TargetIP: net.ParseIP(targetIP),
		Opcode:   op,
	}
}

func TestAnalyzer_DetectsGratuitous(t *testing.T) {
	a := New(16, time.Minute)
	now := time.Now()

	f := frame(t, "192.168.1.1", "192.168.1.1", safelink.OpReply, "ff:ff:ff:ff:ff:ff")
	info, score := a.Analyze(f, now)

	if !info.IsGratuitous {
		t.Errorf("expected IsGratuitous = true for sender == target")
	}
	if score < weightGratuitous {
		t.Errorf("score = %v, want at least weightGratuitous (%v)", score, weightGratuitous)
	}
}

func TestAnalyzer_DetectsProbe(t *testing.T) {
	a := New(16, time.Minute)
	f := frame(t, "0.0.0.0", "192.168.1.5", safelink.OpRequest, "ff:ff:ff:ff:ff:ff")
	info, _ := a.Analyze(f, time.Now())
	if !info.IsProbe {
		t.Errorf("expected IsProbe = true for sender IP 0.0.0.0 request")
	}
}

// TestAnalyzer_BurstCrossesPacketRateThreshold: a sustained burst well
// above 10 packets/sec must contribute weightPacketRate, and because
// the rate is computed over the whole bounded window, a single longer
// pause after the burst must not erase it the way a reciprocal of only
// the latest gap would.
func TestAnalyzer_BurstCrossesPacketRateThreshold(t *testing.T) {
	a := New(1000, time.Minute)
	base := time.Now()

	var score float64
	for i := 0; i < 20; i++ {
		f := frame(t, "10.0.0.40", "10.0.0.1", safelink.OpRequest, "ff:ff:ff:ff:ff:ff")
		_, score = a.Analyze(f, base.Add(time.Duration(i)*50*time.Millisecond))
	}
	if got := a.SenderRate("10.0.0.40"); got <= packetRateThreshold {
		t.Fatalf("SenderRate after 20 frames at 50ms = %v, want > %v", got, packetRateThreshold)
	}
	// 50ms gaps trip both the rate weight and the tight inter-arrival
	// weight
	if want := weightPacketRate + weightInterArrival; score < want {
		t.Errorf("burst score = %v, want at least %v", score, want)
	}

	// one 300ms pause after the burst: the windowed rate is still ~16/s,
	// while the latest-gap reciprocal alone would read ~3.3/s
	f := frame(t, "10.0.0.40", "10.0.0.1", safelink.OpRequest, "ff:ff:ff:ff:ff:ff")
	_, score = a.Analyze(f, base.Add(19*50*time.Millisecond+300*time.Millisecond))

	if got := a.SenderRate("10.0.0.40"); got <= packetRateThreshold {
		t.Fatalf("SenderRate after pause = %v, want the window to keep it > %v", got, packetRateThreshold)
	}
	if score < weightPacketRate || score >= weightPacketRate+weightInterArrival {
		t.Errorf("post-pause score = %v, want exactly the rate weight %v (300ms gap is not a tight inter-arrival)",
			score, weightPacketRate)
	}
}

func TestAnalyzer_SenderRateUnknownSender(t *testing.T) {
	a := New(16, time.Minute)
	if got := a.SenderRate("203.0.113.9"); got != 0 {
		t.Errorf("SenderRate for unknown sender = %v, want 0", got)
	}
}

func TestAnalyzer_MatchesReplyToPendingRequest(t *testing.T) {
	a := New(16, time.Minute)
	now := time.Now()

	req := frame(t, "192.168.1.10", "192.168.1.1", safelink.OpRequest, "ff:ff:ff:ff:ff:ff")
	a.Analyze(req, now)

	reply := frame(t, "192.168.1.1", "192.168.1.10", safelink.OpReply, "aa:bb:cc:11:22:33")
	info, _ := a.Analyze(reply, now.Add(10*time.Millisecond))

	if !info.MatchedRequest {
		t.Errorf("expected reply to match the pending request")
	}
	if info.UnsolicitedReply {
		t.Errorf("matched reply must not be flagged unsolicited")
	}
}

func TestAnalyzer_UnsolicitedReplyIncrementsCounter(t *testing.T) {
	a := New(16, time.Minute)
	reply := frame(t, "192.168.1.1", "192.168.1.10", safelink.OpReply, "aa:bb:cc:11:22:33")

	info, score := a.Analyze(reply, time.Now())

	if !info.UnsolicitedReply {
		t.Errorf("expected UnsolicitedReply = true with no prior request")
	}
	if a.UnsolicitedRepliesCount() != 1 {
		t.Errorf("UnsolicitedRepliesCount() = %d, want 1", a.UnsolicitedRepliesCount())
	}
	if score < weightUnsolicited {
		t.Errorf("score = %v, want at least weightUnsolicited (%v)", score, weightUnsolicited)
	}
}

func TestAnalyzer_ScoreClampedToOne(t *testing.T) {
	a := New(16, time.Minute)
	now := time.Now()

	// sender == target (gratuitous, 0.4) AND a bare reply with no
	// pending request (unsolicited, 0.5), repeated 10ms after the first
	// sighting (tight inter-arrival, 0.2; rate 100/s, 0.3), sums past 1.0.
	f := frame(t, "192.168.1.1", "192.168.1.1", safelink.OpReply, "ff:ff:ff:ff:ff:ff")
	a.Analyze(f, now)
	_, score := a.Analyze(f, now.Add(10*time.Millisecond))

	if score > 1.0 {
		t.Errorf("score = %v, want clamped to <= 1.0", score)
	}
}

func TestAnalyzer_SweepPendingDropsStaleEntries(t *testing.T) {
	a := New(16, time.Millisecond)
	now := time.Now()

	req := frame(t, "192.168.1.10", "192.168.1.1", safelink.OpRequest, "ff:ff:ff:ff:ff:ff")
	a.Analyze(req, now)

	a.SweepPending(now.Add(time.Hour))

	reply := frame(t, "192.168.1.1", "192.168.1.10", safelink.OpReply, "aa:bb:cc:11:22:33")
	info, _ := a.Analyze(reply, now.Add(time.Hour+time.Millisecond))

	if info.MatchedRequest {
		t.Errorf("expected swept-away request to no longer match")
	}
	if !info.UnsolicitedReply {
		t.Errorf("expected reply after sweep to be unsolicited")
	}
}

func TestAnalyzer_SenderStatsTracksInterArrival(t *testing.T) {
	a := New(4, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		f := frame(t, "192.168.1.20", "192.168.1.1", safelink.OpRequest, "ff:ff:ff:ff:ff:ff")
		a.Analyze(f, now.Add(time.Duration(i)*50*time.Millisecond))
	}

	min, max, mean, _, ok := a.SenderStats("192.168.1.20")
	if !ok {
		t.Fatalf("expected sender stats to exist")
	}
	if min <= 0 || max <= 0 || mean <= 0 {
		t.Errorf("min=%v max=%v mean=%v, want all > 0 after repeated observations", min, max, mean)
	}
}

func TestAnalyzer_SenderStatsUnknownSender(t *testing.T) {
	a := New(4, time.Minute)
	if _, _, _, _, ok := a.SenderStats("10.0.0.1"); ok {
		t.Errorf("expected ok = false for a sender never observed")
	}
}
