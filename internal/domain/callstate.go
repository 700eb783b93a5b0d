package domain

// Phase is the coarse state of the call state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCalling
	PhaseReceiving
	PhaseConnected
)

func (p Phase) String() string {
	names := []string{"Idle", "Calling", "Receiving", "Connected"}
	if int(p) < len(names) {
		return names[p]
	}
	return "Unknown"
}

// CallState is the snapshot of a single call owned by the call controller.
// At most one of IsCalling, IsReceivingCall and IsConnected is true.
type CallState struct {
	IsConnected     bool     `json:"is_connected"`
	IsCalling       bool     `json:"is_calling"`
	IsMuted         bool     `json:"is_muted"`
	IsReceivingCall bool     `json:"is_receiving_call"`
	IncomingCallID  Identity `json:"incoming_call_id,omitempty"`
}

func (s CallState) Phase() Phase {
	switch {
	case s.IsConnected:
		return PhaseConnected
	case s.IsCalling:
		return PhaseCalling
	case s.IsReceivingCall:
		return PhaseReceiving
	default:
		return PhaseIdle
	}
}

// Consistent reports whether the exclusivity invariant holds.
func (s CallState) Consistent() bool {
	n := 0
	for _, b := range []bool{s.IsCalling, s.IsReceivingCall, s.IsConnected} {
		if b {
			n++
		}
	}
	return n <= 1
}
