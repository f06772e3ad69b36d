package common

// LEDFrame is one fixture's slice of a frame's LED output, handed to a
// registered fixture sink by the Frame Resolver.
type LEDFrame struct {
	FixtureId FixtureId
	LEDs      []LED
}
