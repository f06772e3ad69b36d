package common

// FrameData is the per-tick clock snapshot broadcast by the Time-Keeper. It
// has exactly five scalar fields — the GPU frame uniform buffer is sized to
// match, so the shape must never grow or shrink.
type FrameData struct {
	Frame               uint32
	FrameNumerator      uint32
	FrameDenominator    uint32
	SecondsElapsed      float32
	WholeSecondsElapsed uint32
}

// NewFrameData derives SecondsElapsed and WholeSecondsElapsed from frame and
// the configured numerator/denominator: frame interval is
// numerator/denominator milliseconds.
func NewFrameData(frame, numerator, denominator uint32) FrameData {
	seconds := float32(frame) * float32(numerator) / (float32(denominator) * 1000.0)
	return FrameData{
		Frame:               frame,
		FrameNumerator:      numerator,
		FrameDenominator:    denominator,
		SecondsElapsed:      seconds,
		WholeSecondsElapsed: uint32(seconds),
	}
}
