package common

// LED is a single addressable pixel: three 8-bit channels. The zero value
// is (0, 0, 0).
type LED struct {
	R, G, B uint8
}

// DefaultLED is the zero LED, used to pad right-truncated chunks and to
// fill unresolvable targets.
var DefaultLED = LED{}

// clampInt clamps v into [0, 255] and returns it as a uint8.
func clampInt(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// clampFloatUnit clamps v into [0, 1], scales to [0, 255] and rounds.
func clampFloatUnit(v float32) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(v*255.0 + 0.5)
}

// LEDFromInts builds an LED from a 3-element slice of integer channel
// values, clamping each to [0, 255]. Shorter/longer slices are treated as
// missing-channel = 0 / extra values ignored.
func LEDFromInts(values []int) LED {
	var led LED
	if len(values) > 0 {
		led.R = clampInt(values[0])
	}
	if len(values) > 1 {
		led.G = clampInt(values[1])
	}
	if len(values) > 2 {
		led.B = clampInt(values[2])
	}
	return led
}

// LEDFromFloats builds an LED from a 3-element slice of float channel
// values in [0, 1], clamped then scaled to [0, 255]. This is the shape the
// GPU pipeline's read-back uses: the shader writes linear [0,1] values into
// a u32-typed result buffer that the host reinterprets as f32.
func LEDFromFloats(values []float32) LED {
	var led LED
	if len(values) > 0 {
		led.R = clampFloatUnit(values[0])
	}
	if len(values) > 1 {
		led.G = clampFloatUnit(values[1])
	}
	if len(values) > 2 {
		led.B = clampFloatUnit(values[2])
	}
	return led
}

// Bytes serializes the LED as three bytes, r, g, b.
func (l LED) Bytes() [3]byte {
	return [3]byte{l.R, l.G, l.B}
}
