package beacon

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRSSI(t *testing.T) {
	tests := []struct {
		rssi int
		want SignalBand
	}{
		{0, SignalExtremelyStrong},
		{-30, SignalExtremelyStrong},
		{-50, SignalExtremelyStrong},
		{-51, SignalStrong},
		{-65, SignalStrong},
		{-66, SignalModerate},
		{-75, SignalModerate},
		{-76, SignalWeak},
		{-85, SignalWeak},
		{-86, SignalVeryWeak},
		{-120, SignalVeryWeak},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.rssi), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRSSI(intPtr(tt.rssi)))
		})
	}

	assert.Equal(t, SignalUnknown, ClassifyRSSI(nil))
}

func TestSignalBandString(t *testing.T) {
	assert.Equal(t, "Extremely strong", ClassifyRSSI(intPtr(-50)).String())
	assert.Equal(t, "Strong", ClassifyRSSI(intPtr(-51)).String())
	assert.Equal(t, "Weak", ClassifyRSSI(intPtr(-85)).String())
	assert.Equal(t, "Very weak", ClassifyRSSI(intPtr(-86)).String())
	assert.Equal(t, "Unknown", SignalUnknown.String())
}

func TestPowerStateText(t *testing.T) {
	raw, err := PoweredOff.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "poweredOff", string(raw))
	assert.Equal(t, "Not supported", Unsupported.Label())
	assert.Equal(t, "unknown", PowerUnknown.String())
}

func TestNotice(t *testing.T) {
	assert.Equal(t, "", Notice(nil))
	assert.Equal(t, "A scan is already running", Notice(ErrScanInProgress))
	assert.Equal(t, "Scan error: busy", Notice(fmt.Errorf("wrapped: %w", &CommandError{Op: "start scan", Err: errors.New("busy")})))
	assert.Equal(t, "boom", Notice(errors.New("boom")))

	pe := &PreconditionError{Kind: ErrAdapterOff, Notice: "turn it on"}
	assert.Equal(t, "turn it on", Notice(pe))
	assert.Equal(t, ErrAdapterOff.Error(), pe.Error())
}
