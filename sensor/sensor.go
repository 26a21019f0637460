// Package sensor implements the sniffer supervisor: the lifecycle owner
// that brings up the interface registry, capture engines, and the
// dispatcher's worker pool, wires the per-frame analyzer chain (DFA
// filter, ARP analyzer, MAC vendor checker, feature extractor,
// classifier) into the dispatcher's handler, and reports a status
// snapshot.
//
// Every dependency is constructed by the caller and injected; the
// supervisor owns start/stop but no package-level state exists.
package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
	"github.com/Nagarohit29/Safelink/alertstore"
	"github.com/Nagarohit29/Safelink/arpanalyze"
	"github.com/Nagarohit29/Safelink/capture"
	"github.com/Nagarohit29/Safelink/classifier"
	"github.com/Nagarohit29/Safelink/config"
	"github.com/Nagarohit29/Safelink/dfa"
	"github.com/Nagarohit29/Safelink/dispatch"
	"github.com/Nagarohit29/Safelink/feature"
	"github.com/Nagarohit29/Safelink/ifacereg"
	"github.com/Nagarohit29/Safelink/macvendor"
	"github.com/Nagarohit29/Safelink/metrics"
	"github.com/Nagarohit29/Safelink/misc"
	mrand "github.com/Nagarohit29/Safelink/misc/rand"
	"github.com/Nagarohit29/Safelink/threatintel"
	"go.uber.org/zap"
)

// arpAnomalyAlertThreshold is the ARP analyzer score a frame must clear
// to raise an ARP_ANOMALY alert. The comparison is strict: a single
// weight landing precisely on the threshold (a lone unsolicited reply,
// 0.5) does not alone justify an alert, but combined with any second
// contributing signal (high packet rate, a tight inter-arrival) it
// does. Replies that merely contradict an existing IP-MAC binding are
// the DFA filter's to flag, not this score's.
const arpAnomalyAlertThreshold = 0.5

// vendorAnomalyAlertThreshold is likewise strict so a single weak
// signal (an unknown destination vendor alone, 0.1) never alerts by
// itself.
const vendorAnomalyAlertThreshold = 0.4

// Deps bundles the already-constructed analyzer-chain components the
// Supervisor wires into its per-frame handler. ThreatIntel is optional:
// a nil Store simply skips indicator consultation.
type Deps struct {
	DFA         *dfa.Filter
	Analyzer    *arpanalyze.Analyzer
	Vendor      *macvendor.Checker
	Classifier  *classifier.Classifier
	Alerts      *alertstore.Store
	ThreatIntel *threatintel.Store
	Metrics     *metrics.Metrics
}

// CaptureOpener abstracts capture.OpenLive so tests can substitute a
// fake packet source instead of opening a real capture device.
type CaptureOpener func(ifaceName string) (capture.PacketSource, error)

// Status is the shape returned by GET /sniffer/status.
type Status struct {
	SensorID   string    `json:"sensor_id"`
	Running    bool      `json:"running"`
	Interfaces []string  `json:"interfaces"`
	StartedAt  time.Time `json:"started_at"`
	UptimeS    float64   `json:"uptime_s"`
}

// sensorIDLength is the length of a generated SensorID. A sensor id
// only needs to be readable in logs/metrics, not collision-checked
// against an external system.
const sensorIDLength = 12

// storeFailThreshold is the run of consecutive alert-insert failures
// after which the per-frame warning escalates to an error-level record.
const storeFailThreshold = 10

// Supervisor is the sniffer lifecycle owner.
type Supervisor struct {
	cfg  config.Config
	deps Deps
	log  *zap.Logger
	open CaptureOpener

	ifaces *ifacereg.Registry

	// consecutive alert-store insert failures; past the threshold the
	// per-frame warning escalates to one error-level record so a dead
	// database surfaces in monitoring without a log line per frame.
	storeFails *misc.FailCounter

	mu         sync.Mutex
	running    bool
	interfaces []string
	startedAt  time.Time
	cancel     context.CancelFunc
	runCtx     context.Context
	dispatcher *dispatch.Dispatcher
	engines    map[string]*capture.Engine
	wg         sync.WaitGroup
}

// New constructs a Supervisor. open defaults to capture.OpenLive when
// nil (tests should pass a fake opener instead of touching real NICs).
func New(cfg config.Config, deps Deps, log *zap.Logger, open CaptureOpener) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if open == nil {
		open = capture.OpenLive
	}
	if cfg.SensorID == "" {
		id, err := mrand.String(int64(sensorIDLength))
		if err != nil {
			log.Warn("sensor: failed to generate sensor id", zap.Error(err))
		} else {
			cfg.SensorID = id
		}
	}
	return &Supervisor{
		cfg:        cfg,
		deps:       deps,
		log:        log,
		open:       open,
		ifaces:     ifacereg.New(),
		storeFails: misc.NewFailCounter(storeFailThreshold),
	}
}

// Start brings up a capture engine per named interface plus the
// dispatcher and its worker pool. An interface that fails to open is
// logged as capture-unavailable and skipped; the others continue. Start
// on an already-running Supervisor fails with ErrSnifferAlreadyRunning
// and makes no state changes.
func (s *Supervisor) Start(ctx context.Context, interfaceNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return safelink.ErrSnifferAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)

	d := dispatch.New(s.cfg.DispatchStrategy, s.cfg.WorkerCount, s.cfg.LaneQueueDepth, s.cfg.ShutdownGrace, s.handleFrame)
	d.Start(runCtx)

	engines := make(map[string]*capture.Engine, len(interfaceNames))
	var started []string
	for _, name := range interfaceNames {
		entry, err := s.ifaces.Add(name, "")
		if err != nil {
			s.log.Warn("sensor: interface registry lookup failed", zap.String("interface", name), zap.Error(err))
		}

		src, err := s.open(name)
		if err != nil {
			s.log.Error("sensor: capture unavailable, skipping interface",
				zap.String("interface", name), zap.Error(err))
			continue
		}

		onFrame := func(safelink.Frame) {}
		onDrop := func() {}
		if entry != nil {
			onFrame = func(f safelink.Frame) { entry.RecordFrame(f.CapturedAt) }
			onDrop = func() { entry.RecordDrop() }
		}
		if s.deps.Metrics != nil {
			prevFrame, prevDrop := onFrame, onDrop
			onFrame = func(f safelink.Frame) {
				prevFrame(f)
				s.deps.Metrics.CaptureFramesTotal.WithLabelValues(name).Inc()
			}
			onDrop = func() {
				prevDrop()
				s.deps.Metrics.CaptureDropsTotal.WithLabelValues(name).Inc()
			}
		}

		eng := capture.NewEngine(name, src, s.cfg.CaptureQueueDepth, onFrame, onDrop)
		engines[name] = eng
		started = append(started, name)

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			eng.Run(runCtx)
		}()
		go func() {
			defer s.wg.Done()
			s.pump(runCtx, eng, d)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepPendingRequests(runCtx)
	}()

	s.dispatcher = d
	s.engines = engines
	s.interfaces = started
	s.cancel = cancel
	s.runCtx = runCtx
	s.running = true
	s.startedAt = time.Now()

	return nil
}

// pump forwards frames from one Capture Engine into the Dispatcher until
// the engine's channel closes (ctx canceled) or ctx itself is done.
func (s *Supervisor) pump(ctx context.Context, eng *capture.Engine, d *dispatch.Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-eng.Frames():
			if !ok {
				return
			}
			d.Dispatch(f)
		}
	}
}

// sweepPendingRequests runs the ARP analyzer's periodic maintenance
// task, expiring stale pending-request entries.
func (s *Supervisor) sweepPendingRequests(ctx context.Context) {
	if s.deps.Analyzer == nil {
		return
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.deps.Analyzer.SweepPending(now)
		}
	}
}

// Stop requests shutdown of every Capture Engine and worker lane and
// joins them within the dispatcher's shutdown grace window. Stop on a
// Supervisor that is not running fails with ErrSnifferNotRunning.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return safelink.ErrSnifferNotRunning
	}
	cancel := s.cancel
	d := s.dispatcher
	s.running = false
	s.mu.Unlock()

	cancel()
	d.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace + time.Second):
		s.log.Warn("sensor: shutdown grace window exceeded, abandoning remaining goroutines")
	}
	return nil
}

// Status reports the current lifecycle snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{SensorID: s.cfg.SensorID, Running: s.running, Interfaces: append([]string(nil), s.interfaces...)}
	if s.running {
		st.StartedAt = s.startedAt
		st.UptimeS = time.Since(s.startedAt).Seconds()
	}
	return st
}

// LaneLoads reports the dispatcher's per-lane processed-frame counters
// for metrics scraping. Returns nil when the sniffer isn't running.
func (s *Supervisor) LaneLoads() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.LaneLoads()
}

// DispatchDroppedCount reports the dispatcher's cumulative dropped-frame
// counter. Returns 0 when not running.
func (s *Supervisor) DispatchDroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher == nil {
		return 0
	}
	return s.dispatcher.DroppedCount()
}

// handleFrame is the analyzer chain: DFA filter -> ARP analyzer -> MAC
// vendor checker -> feature extractor -> classifier. It is
// first-match-wins: the DFA check runs first and, if it alerts, the
// frame is done; otherwise the ARP analyzer runs and, if it alerts, the
// frame is done; and so on down the chain. Every later analyzer still
// runs whenever an earlier one doesn't alert, so a clean frame gets the
// full chain's worth of detection coverage; only an already-alerted
// frame short-circuits, and one frame's outcome never stops processing
// of the next frame.
func (s *Supervisor) handleFrame(f safelink.Frame) {
	now := time.Now()
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	s.consultThreatIntel(ctx, f)

	dfaAlerts := s.deps.DFA.Evaluate(f, now)
	for _, a := range dfaAlerts {
		s.emit(ctx, a)
	}
	if len(dfaAlerts) > 0 {
		return
	}

	info, score := s.deps.Analyzer.Analyze(f, now)
	if score > arpAnomalyAlertThreshold {
		s.emit(ctx, arpAnomalyAlert(f, info, score, now))
		return
	}

	vendorAnomaly := s.deps.Vendor.DetectAnomalies(f.SrcMAC, f.DstMAC)
	if vendorAnomaly.Confidence > vendorAnomalyAlertThreshold {
		s.emit(ctx, vendorAnomalyAlert(f, vendorAnomaly, now))
		return
	}

	rate := s.deps.Analyzer.SenderRate(f.SenderIP.String())
	vec := feature.Extract(f, feature.Context{
		IsGratuitous:            info.IsGratuitous,
		IsProbe:                 info.IsProbe,
		InterArrival:            info.InterArrival,
		PacketRate:              rate,
		VendorAnomalyConfidence: vendorAnomaly.Confidence,
	}, now)

	label, prob := s.deps.Classifier.Predict(vec)
	if label {
		s.emit(ctx, annAlert(f, prob, now))
	}
}

// consultThreatIntel looks up the frame's sender IP and source MAC
// against the threat-intel store. A match bumps hit_count/last_hit
// inside Lookup's own transaction and is logged as a warning. No alert
// is raised from a threat-intel hit, and no analyzer score or alert
// confidence takes it into account.
func (s *Supervisor) consultThreatIntel(ctx context.Context, f safelink.Frame) {
	if s.deps.ThreatIntel == nil {
		return
	}
	if ip := f.SenderIP; ip != nil {
		if ind, hit, err := s.deps.ThreatIntel.Lookup(ctx, ip.String()); err == nil && hit {
			s.log.Warn("sensor: sender ip matched threat indicator",
				zap.String("ip", ip.String()), zap.String("severity", ind.Severity))
		}
	}
	if mac := f.SrcMAC; mac != nil {
		if ind, hit, err := s.deps.ThreatIntel.Lookup(ctx, mac.String()); err == nil && hit {
			s.log.Warn("sensor: sender mac matched threat indicator",
				zap.String("mac", mac.String()), zap.String("severity", ind.Severity))
		}
	}
}

func (s *Supervisor) emit(ctx context.Context, a safelink.Alert) {
	if _, err := s.deps.Alerts.Insert(ctx, a); err != nil {
		s.storeFails.Inc()
		if s.storeFails.Exceeded() {
			s.log.Error("sensor: alert store failing persistently, dropping alerts",
				zap.Error(err), zap.Int("consecutive_failures", s.storeFails.Count()))
			s.storeFails.Reset()
		} else {
			s.log.Warn("sensor: alert insert failed", zap.Error(err), zap.String("module", string(a.Module)))
		}
		return
	}
	s.storeFails.Reset()
	if s.deps.Metrics != nil {
		s.deps.Metrics.AlertsTotal.WithLabelValues(string(a.Module)).Inc()
	}
}

func arpAnomalyAlert(f safelink.Frame, info safelink.PacketInfo, score float64, now time.Time) safelink.Alert {
	ip := f.SenderIP.String()
	mac := f.SrcMAC.String()
	reason := "ARP anomaly score above threshold"
	if info.UnsolicitedReply {
		reason = fmt.Sprintf("Unsolicited ARP reply from %s", ip)
	}
	return safelink.Alert{
		Timestamp: now,
		Module:    safelink.ModuleARPAnomaly,
		Reason:    reason,
		SrcIP:     &ip,
		SrcMAC:    &mac,
		Detail: map[string]any{
			"score":             score,
			"is_gratuitous":     info.IsGratuitous,
			"is_probe":          info.IsProbe,
			"unsolicited_reply": info.UnsolicitedReply,
			"inter_arrival_ms":  info.InterArrival.Milliseconds(),
		},
	}
}

func vendorAnomalyAlert(f safelink.Frame, a macvendor.Anomaly, now time.Time) safelink.Alert {
	mac := f.SrcMAC.String()
	var ip *string
	if f.SenderIP != nil {
		s := f.SenderIP.String()
		ip = &s
	}
	return safelink.Alert{
		Timestamp: now,
		Module:    safelink.ModuleVendorAnomaly,
		Reason:    fmt.Sprintf("MAC vendor anomaly: %v", a.Reasons),
		SrcIP:     ip,
		SrcMAC:    &mac,
		Detail: map[string]any{
			"confidence": a.Confidence,
			"src_vendor": a.SrcVendor,
			"dst_vendor": a.DstVendor,
			"reasons":    a.Reasons,
		},
	}
}

func annAlert(f safelink.Frame, prob float64, now time.Time) safelink.Alert {
	mac := f.SrcMAC.String()
	var ip *string
	if f.SenderIP != nil {
		s := f.SenderIP.String()
		ip = &s
	}
	return safelink.Alert{
		Timestamp: now,
		Module:    safelink.ModuleANN,
		Reason:    fmt.Sprintf("Classifier flagged frame as malicious (confidence %.2f)", prob),
		SrcIP:     ip,
		SrcMAC:    &mac,
		Detail: map[string]any{
			"confidence": prob,
			"source":     string(safelink.ModuleANN),
		},
	}
}
