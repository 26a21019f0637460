// Package macvendor implements the MAC vendor checker: OUI to
// vendor name lookup plus locally-administered/broadcast/multicast
// heuristics, memoized per full MAC address with an LRU cache.
//
// The per-MAC memoization cache is bounded (hashicorp/golang-lru/v2)
// so an attacker cycling through random MACs cannot grow it without
// limit.
package macvendor

import (
	"net"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	contribUnknownSrcOUI  = 0.3
	contribUnknownDstOUI  = 0.1
	contribBroadcastOrMulti = 0.4
	contribLocallyAdmin   = 0.2

	defaultCacheSize = 4096
)

// Checker performs OUI vendor lookups with an LRU memoization cache.
type Checker struct {
	cache *lru.Cache[string, string] // full MAC -> vendor ("" = unknown)
}

func New() *Checker {
	c, _ := lru.New[string, string](defaultCacheSize)
	return &Checker{cache: c}
}

// Normalize strips separators and re-inserts colons every two hex
// digits, uppercased, so "aa-bb-cc-dd-ee-ff", "aabb.ccdd.eeff", and
// "AA:BB:CC:DD:EE:FF" all key identically.
func Normalize(mac string) string {
	cleaned := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
	if len(cleaned) != 12 {
		return strings.ToUpper(mac)
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(cleaned[i : i+2])
	}
	return b.String()
}

// OUI extracts the first three octets of mac in "XX:XX:XX" form.
func OUI(mac string) string {
	norm := Normalize(mac)
	parts := strings.Split(norm, ":")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[:3], ":")
}

// Lookup returns the vendor for mac, or "" if unknown. Results are
// memoized per full normalized MAC.
func (c *Checker) Lookup(mac string) string {
	norm := Normalize(mac)
	if v, ok := c.cache.Get(norm); ok {
		return v
	}
	vendor := ouiDatabase[OUI(norm)]
	c.cache.Add(norm, vendor)
	return vendor
}

// IsKnown reports whether mac has a known OUI vendor.
func (c *Checker) IsKnown(mac string) bool { return c.Lookup(mac) != "" }

// Anomaly is the result of DetectAnomalies: a human reason plus a
// confidence score in [0,1].
type Anomaly struct {
	Reasons    []string
	SrcVendor  string
	DstVendor  string
	Confidence float64
}

// HasAnomaly reports whether any heuristic fired.
func (a Anomaly) HasAnomaly() bool { return len(a.Reasons) > 0 }

// DetectAnomalies runs the vendor-anomaly heuristics against a
// source/destination MAC pair.
func (c *Checker) DetectAnomalies(srcMAC, dstMAC net.HardwareAddr) Anomaly {
	var a Anomaly
	srcStr := srcMAC.String()

	a.SrcVendor = c.Lookup(srcStr)
	a.DstVendor = c.Lookup(dstMAC.String())

	if a.SrcVendor == "" {
		a.Reasons = append(a.Reasons, "unknown source MAC vendor (OUI "+OUI(srcStr)+")")
		a.Confidence += contribUnknownSrcOUI
	}
	if a.DstVendor == "" {
		a.Reasons = append(a.Reasons, "unknown destination MAC vendor")
		a.Confidence += contribUnknownDstOUI
	}
	if isBroadcastOrMulticast(srcMAC) {
		a.Reasons = append(a.Reasons, "source MAC is broadcast/multicast")
		a.Confidence += contribBroadcastOrMulti
	}
	if isLocallyAdministered(srcMAC) {
		a.Reasons = append(a.Reasons, "source MAC is locally administered")
		a.Confidence += contribLocallyAdmin
	}

	if a.Confidence > 1.0 {
		a.Confidence = 1.0
	}
	return a
}

func isBroadcastOrMulticast(mac net.HardwareAddr) bool {
	if len(mac) == 0 {
		return false
	}
	if len(mac) == 6 {
		allFF := true
		for _, b := range mac {
			if b != 0xFF {
				allFF = false
				break
			}
		}
		if allFF {
			return true
		}
	}
	return mac[0]&0x01 != 0
}

// isLocallyAdministered checks bit 1 (0x02) of the first octet.
func isLocallyAdministered(mac net.HardwareAddr) bool {
	if len(mac) == 0 {
		return false
	}
	return mac[0]&0x02 != 0
}
