package lancom

import "time"

// defaults mirror original_source's hardcoded constants, now exposed
// as overridable options per spec.md §9's "configuration belongs to
// the construction call" resolution.
const (
	defaultMulticastGroup = "224.0.0.1"
	defaultMulticastPort  = 7720
	defaultBeaconPeriod   = 1 * time.Second
	defaultLivenessWindow = 3 * defaultBeaconPeriod
	defaultSweepPeriod    = 1 * time.Second
)

// config collects every Init-time tunable behind functional options, in
// the style of the teacher's node construction options.
type config struct {
	multicastGroup string
	multicastPort  int
	beaconPeriod   time.Duration
	livenessWindow time.Duration
	sweepPeriod    time.Duration
}

func defaultConfig() config {
	return config{
		multicastGroup: defaultMulticastGroup,
		multicastPort:  defaultMulticastPort,
		beaconPeriod:   defaultBeaconPeriod,
		livenessWindow: defaultLivenessWindow,
		sweepPeriod:    defaultSweepPeriod,
	}
}

// Option configures a Node at construction time.
type Option func(*config)

// WithMulticastGroup overrides the IPv4 multicast group nodes beacon
// on. All nodes that should discover each other must agree on it.
func WithMulticastGroup(group string) Option {
	return func(c *config) { c.multicastGroup = group }
}

// WithMulticastPort overrides the UDP port used for beaconing.
func WithMulticastPort(port int) Option {
	return func(c *config) { c.multicastPort = port }
}

// WithBeaconPeriod overrides how often this node announces itself.
func WithBeaconPeriod(period time.Duration) Option {
	return func(c *config) { c.beaconPeriod = period }
}

// WithLivenessWindow overrides how long a peer may go unseen before
// being evicted from the directory.
func WithLivenessWindow(window time.Duration) Option {
	return func(c *config) { c.livenessWindow = window }
}

// WithSweepPeriod overrides how often the directory is checked for
// stale peers.
func WithSweepPeriod(period time.Duration) Option {
	return func(c *config) { c.sweepPeriod = period }
}
