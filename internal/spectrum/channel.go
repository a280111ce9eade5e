package spectrum

import (
	"fmt"
	"slices"
)

// DefaultChannel selects the collector's global channel: no channel parameter is sent.
const DefaultChannel Channel = ""

// Channels lists the sensor channels a user can select.
var Channels = []Channel{"1", "2", "3", "4"}

// Channel identifies a sensor channel of the remote collector.
type Channel string

func (c Channel) String() string {
	if c == DefaultChannel {
		return "default"
	}
	return string(c)
}

// ParseChannel validates a user-supplied channel identifier.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if c == DefaultChannel || slices.Contains(Channels, c) {
		return c, nil
	}
	return "", fmt.Errorf("spectrum.Channel: unknown channel %q", s)
}
