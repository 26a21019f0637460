// Package safelink holds the domain types shared across the sensor's
// capture, analyzer, storage, and learning packages. Persistence
// records live in alertstore/threatintel; these are the in-memory
// domain shapes that flow through the pipeline, kept separate from any
// database schema.
package safelink

import (
	"net"
	"time"
)

// Opcode is an ARP operation code.
type Opcode uint16

const (
	OpRequest Opcode = 1
	OpReply   Opcode = 2
)

// Frame is a transient representation of a captured ARP frame, tagged
// with its ingress interface and a monotonic capture timestamp.
type Frame struct {
	SrcMAC      net.HardwareAddr
	DstMAC      net.HardwareAddr
	SenderIP    net.IP
	TargetIP    net.IP
	Opcode      Opcode
	CapturedAt  time.Time // wall clock
	Monotonic   int64     // nanoseconds, strictly increasing per interface
	InterfaceID string
}

func (f Frame) IsRequest() bool { return f.Opcode == OpRequest }
func (f Frame) IsReply() bool   { return f.Opcode == OpReply }

// PacketInfo enriches a Frame with the features the ARP analyzer derives
// from it.
type PacketInfo struct {
	Frame            Frame
	IsGratuitous     bool
	IsProbe          bool
	InterArrival     time.Duration
	UnsolicitedReply bool
	MatchedRequest   bool
}

// ModuleTag identifies which analyzer raised an Alert.
type ModuleTag string

const (
	ModuleDFA            ModuleTag = "DFA"
	ModuleARPAnomaly     ModuleTag = "ARP_ANOMALY"
	ModuleVendorAnomaly  ModuleTag = "VENDOR_ANOMALY"
	ModuleANN            ModuleTag = "ANN"
)

// Alert is an immutable, durable detection record. Once emitted, no
// field is ever mutated in place — archival copies the fields into an
// ArchivedAlert instead.
type Alert struct {
	ID        int64
	Timestamp time.Time
	Module    ModuleTag
	Reason    string
	SrcIP     *string
	SrcMAC    *string
	Detail    map[string]any
}

// ArchiveReason records why an Alert was moved to the archive table.
type ArchiveReason string

const (
	ArchiveManual      ArchiveReason = "manual"
	ArchiveCSVExport   ArchiveReason = "csv_export"
	ArchiveAutoRotation ArchiveReason = "auto_rotation"
	ArchiveSizeLimit   ArchiveReason = "size_limit"
)

// ArchivedAlert mirrors Alert with provenance about when/why it was
// archived.
type ArchivedAlert struct {
	ID            int64
	OriginalID    int64
	Timestamp     time.Time
	Module        ModuleTag
	Reason        string
	SrcIP         *string
	SrcMAC        *string
	Detail        map[string]any
	ArchivedAt    time.Time
	ArchiveReason ArchiveReason
}

// IndicatorType enumerates the kinds of threat indicators the threat-intel store keeps.
type IndicatorType string

const (
	IndicatorIP     IndicatorType = "ip"
	IndicatorMAC    IndicatorType = "mac"
	IndicatorDomain IndicatorType = "domain"
	IndicatorHash   IndicatorType = "hash"
	IndicatorURL    IndicatorType = "url"
)

// ThreatIndicator is a durable local indicator record.
type ThreatIndicator struct {
	ID         int64
	Type       IndicatorType
	Value      string
	Severity   string
	Confidence float64 // [0,1]
	Source     string
	Description string
	Tags       []string
	FirstSeen  time.Time
	LastSeen   time.Time
	ExpiresAt  *time.Time
	IsActive   bool
	FalsePositive bool
	HitCount   int64
	LastHit    *time.Time
}

// Expired reports whether the indicator's TTL has elapsed as of now.
func (t ThreatIndicator) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// NewAlertEvent is the event published to the broadcast hub after the
// alert store commits an Alert.
type NewAlertEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Module    ModuleTag `json:"module"`
	Reason    string    `json:"reason"`
	SrcIP     *string   `json:"src_ip"`
	SrcMAC    *string   `json:"src_mac"`
}
