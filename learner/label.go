package learner

import safelink "github.com/Nagarohit29/Safelink"

// AutoLabel derives a weak supervision label from a stored Alert: DFA
// alerts (conflict and flood alike) are always attacks; classifier
// alerts are labeled by their recorded confidence, attack at or above
// 0.95 and benign at or below 0.30, skipped in between. ok is false when the alert should be skipped
// rather than folded into the training batch. The confidence is read
// from the structured Detail bag, never parsed out of the prose reason.
func AutoLabel(a safelink.Alert) (label float64, ok bool) {
	switch a.Module {
	case safelink.ModuleDFA:
		return 1, true
	case safelink.ModuleANN:
		conf, present := a.Detail["confidence"].(float64)
		if !present {
			return 0, false
		}
		switch {
		case conf >= 0.95:
			return 1, true
		case conf <= 0.30:
			return 0, true
		default:
			return 0, false
		}
	default:
		return 0, false
	}
}
