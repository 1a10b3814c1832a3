package adaptive

// Telemetry reports the host conditions the DecisionEngine guards on.
type Telemetry interface {
	// BatteryStatus reports whether the host runs on battery and the
	// charge percentage.
	BatteryStatus() (onBattery bool, pct int)

	// NetworkStatus reports congestion and the link rate in kbit/s.
	NetworkStatus() (congested bool, kbps float64)

	// AvailableRAMGB reports memory available to new work.
	AvailableRAMGB() float64
}

// StaticTelemetry reports fixed values. It is used in tests and when the
// environment is overridden from configuration.
type StaticTelemetry struct {
	OnBattery  bool    `yaml:"on_battery"`
	BatteryPct int     `yaml:"battery_pct"`
	Congested  bool    `yaml:"network_congested"`
	LinkKbps   float64 `yaml:"link_kbps"`
	RAMGB      float64 `yaml:"ram_gb"`
}

func (s StaticTelemetry) BatteryStatus() (bool, int) { return s.OnBattery, s.BatteryPct }

func (s StaticTelemetry) NetworkStatus() (bool, float64) { return s.Congested, s.LinkKbps }

func (s StaticTelemetry) AvailableRAMGB() float64 { return s.RAMGB }

// Values reported when the host cannot be probed: mains power, an idle
// network and enough memory for every codec.
const (
	unknownBatteryPct = 100
	unknownRAMGB      = 16
)

// SystemTelemetry probes the host. Readings that fail fall back to
// unconstrained values.
func SystemTelemetry() Telemetry {
	return newSystemTelemetry()
}
