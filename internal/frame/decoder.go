// Package frame decodes notification frames pushed by the pulse-oximeter
// wearable. The wearable streams fixed 20-byte payloads over its notify
// characteristic; heart-rate and SpO2 readings sit at fixed byte offsets.
package frame

// Length is the exact size of a notification frame. Frames of any other
// length are rejected without inspection.
const Length = 20

// Candidate offsets inside a frame. The layout is a property of the
// wearable's wire protocol and must not change.
var (
	heartRateOffsets = [4]int{3, 8, 13, 18}
	spo2Offsets      = [4]int{4, 9, 14, 19}
)

// Plausibility ranges for a single raw reading.
const (
	minHeartRateBPM = 30
	maxHeartRateBPM = 220
	minSpO2Percent  = 60
	maxSpO2Percent  = 100
)

// Sample is one validated vitals reading extracted from a single frame.
// It is replace-only: a newer sample supersedes an older one entirely.
type Sample struct {
	HeartRateBPM int
	SpO2Percent  int
}

// Decode extracts a vitals sample from a raw notification payload.
//
// Each channel is averaged (integer truncation) over its in-range
// candidates. A frame with zero in-range candidates on either channel is
// rejected; noisy frames are expected and dropping them is a data-quality
// gate, not an error. Decode is a pure function.
func Decode(data []byte) (Sample, bool) {
	if len(data) != Length {
		return Sample{}, false
	}

	hrSum, hrCount := 0, 0
	for _, off := range heartRateOffsets {
		v := int(data[off])
		if v >= minHeartRateBPM && v <= maxHeartRateBPM {
			hrSum += v
			hrCount++
		}
	}

	spSum, spCount := 0, 0
	for _, off := range spo2Offsets {
		v := int(data[off])
		if v >= minSpO2Percent && v <= maxSpO2Percent {
			spSum += v
			spCount++
		}
	}

	if hrCount == 0 || spCount == 0 {
		return Sample{}, false
	}

	return Sample{
		HeartRateBPM: hrSum / hrCount,
		SpO2Percent:  spSum / spCount,
	}, true
}
