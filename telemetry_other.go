//go:build !linux

package adaptive

type defaultTelemetry struct{}

func newSystemTelemetry() Telemetry { return defaultTelemetry{} }

func (defaultTelemetry) BatteryStatus() (bool, int) { return false, unknownBatteryPct }

func (defaultTelemetry) NetworkStatus() (bool, float64) { return false, 0 }

func (defaultTelemetry) AvailableRAMGB() float64 { return unknownRAMGB }
