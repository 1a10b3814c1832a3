//go:build linux

package adaptive

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// linuxTelemetry reads /proc and /sys. The roots are fields so tests can
// point them at synthetic trees.
type linuxTelemetry struct {
	procRoot string
	sysRoot  string
}

func newSystemTelemetry() Telemetry {
	return linuxTelemetry{procRoot: "/proc", sysRoot: "/sys"}
}

// BatteryStatus scans power supplies for a discharging battery.
func (t linuxTelemetry) BatteryStatus() (bool, int) {
	supplies, err := os.ReadDir(filepath.Join(t.sysRoot, "class/power_supply"))
	if err != nil {
		return false, unknownBatteryPct
	}
	for _, supply := range supplies {
		dir := filepath.Join(t.sysRoot, "class/power_supply", supply.Name())
		if readSysfs(filepath.Join(dir, "type")) != "Battery" {
			continue
		}
		pct, err := strconv.Atoi(readSysfs(filepath.Join(dir, "capacity")))
		if err != nil {
			pct = unknownBatteryPct
		}
		return readSysfs(filepath.Join(dir, "status")) == "Discharging", pct
	}
	return false, unknownBatteryPct
}

// NetworkStatus reports the fastest link that is up. Congestion is not
// observable from sysfs and is always false.
func (t linuxTelemetry) NetworkStatus() (bool, float64) {
	ifaces, err := os.ReadDir(filepath.Join(t.sysRoot, "class/net"))
	if err != nil {
		return false, 0
	}
	best := 0.0
	for _, iface := range ifaces {
		if iface.Name() == "lo" {
			continue
		}
		dir := filepath.Join(t.sysRoot, "class/net", iface.Name())
		if readSysfs(filepath.Join(dir, "operstate")) != "up" {
			continue
		}
		mbps, err := strconv.Atoi(readSysfs(filepath.Join(dir, "speed")))
		if err == nil && float64(mbps)*1000 > best {
			best = float64(mbps) * 1000
		}
	}
	return false, best
}

// AvailableRAMGB prefers MemAvailable from meminfo and falls back to
// sysinfo(2) free RAM.
func (t linuxTelemetry) AvailableRAMGB() float64 {
	if kb, ok := memAvailableKB(filepath.Join(t.procRoot, "meminfo")); ok {
		return float64(kb) / (1024 * 1024)
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return unknownRAMGB
	}
	return float64(uint64(info.Freeram)*uint64(info.Unit)) / (1 << 30)
}

func memAvailableKB(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.Atoi(fields[1])
		return kb, err == nil
	}
	return 0, false
}

func readSysfs(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
