package audio

import "time"

// VADConfig holds voice-activity thresholds.
type VADConfig struct {
	// Threshold is the normalized RMS level above which a frame is speech.
	Threshold float64
	// MinSpeech is how much speech must accumulate before the utterance
	// counts as started.
	MinSpeech time.Duration
	// Silence is the trailing silence that ends an utterance. Zero disables
	// auto-stop.
	Silence time.Duration
}

// VADResult describes one processed frame.
type VADResult struct {
	Speech bool
	// EndOfUtterance is set once trailing silence reaches the configured
	// window after speech began.
	EndOfUtterance bool
}

// VAD is an energy-based voice activity detector. Durations are counted in
// samples so results do not depend on how fast frames are delivered.
type VAD struct {
	threshold float64
	minSpeech int
	silence   int

	speechSamples  int
	silenceSamples int
	began          bool
}

// NewVAD returns a detector for audio at sampleRate (mono).
func NewVAD(cfg VADConfig, sampleRate int) *VAD {
	return &VAD{
		threshold: cfg.Threshold,
		minSpeech: durationToSamples(cfg.MinSpeech, sampleRate),
		silence:   durationToSamples(cfg.Silence, sampleRate),
	}
}

func durationToSamples(d time.Duration, rate int) int {
	return int(d * time.Duration(rate) / time.Second)
}

// Process classifies one frame.
func (v *VAD) Process(frame []int16) VADResult {
	speech := RMS(frame) > v.threshold
	res := VADResult{Speech: speech}

	if speech {
		v.speechSamples += len(frame)
		v.silenceSamples = 0
		if v.speechSamples >= v.minSpeech {
			v.began = true
		}
		return res
	}

	if !v.began {
		return res
	}
	v.silenceSamples += len(frame)
	if v.silence > 0 && v.silenceSamples >= v.silence {
		res.EndOfUtterance = true
	}
	return res
}

// Began reports whether enough speech has been heard to count as an utterance.
func (v *VAD) Began() bool {
	return v.began
}

// Reset clears all state.
func (v *VAD) Reset() {
	v.speechSamples = 0
	v.silenceSamples = 0
	v.began = false
}
