package beacon

// SignalBand is a coarse description of received signal strength
type SignalBand int

const (
	SignalUnknown SignalBand = iota
	SignalVeryWeak
	SignalWeak
	SignalModerate
	SignalStrong
	SignalExtremelyStrong
)

func (b SignalBand) String() string {
	switch b {
	case SignalExtremelyStrong:
		return "Extremely strong"
	case SignalStrong:
		return "Strong"
	case SignalModerate:
		return "Moderate"
	case SignalWeak:
		return "Weak"
	case SignalVeryWeak:
		return "Very weak"
	default:
		return "Unknown"
	}
}

// bandThresholds are checked strongest first, first match wins
var bandThresholds = []struct {
	min  int
	band SignalBand
}{
	{-50, SignalExtremelyStrong},
	{-65, SignalStrong},
	{-75, SignalModerate},
	{-85, SignalWeak},
}

// ClassifyRSSI maps an RSSI in dBm to a signal band. A nil RSSI is SignalUnknown.
func ClassifyRSSI(rssi *int) SignalBand {
	if rssi == nil {
		return SignalUnknown
	}
	for _, t := range bandThresholds {
		if *rssi >= t.min {
			return t.band
		}
	}
	return SignalVeryWeak
}
