package services

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/webmux/webmux/internal/models"
)

// StatsService reads host-level metrics for the stats endpoint and stats
// frames. On Linux it reads /proc directly; elsewhere the load and memory
// fields are zero.
type StatsService struct {
	procPath string
}

// NewStatsService creates a stats service reading from /proc.
func NewStatsService() *StatsService {
	return &StatsService{procPath: "/proc"}
}

// Collect gathers a snapshot of system stats. Individual probe failures
// leave their fields zeroed rather than failing the whole snapshot.
func (s *StatsService) Collect() models.SystemStats {
	hostname, _ := os.Hostname()

	stats := models.SystemStats{
		Hostname: hostname,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPU: models.CPUInfo{
			Cores: runtime.NumCPU(),
		},
	}

	if load, err := s.readLoadAvg(); err == nil {
		stats.CPU.LoadAvg = load
		if stats.CPU.Cores > 0 {
			stats.CPU.Usage = load[0] / float64(stats.CPU.Cores) * 100
		}
	}
	if model, err := s.readCPUModel(); err == nil {
		stats.CPU.Model = model
	}
	if mem, err := s.readMemInfo(); err == nil {
		stats.Memory = mem
	}
	if uptime, err := s.readUptime(); err == nil {
		stats.Uptime = uptime
	}
	return stats
}

func (s *StatsService) readLoadAvg() ([3]float64, error) {
	var load [3]float64
	data, err := os.ReadFile(s.procPath + "/loadavg")
	if err != nil {
		return load, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return load, fmt.Errorf("malformed loadavg: %q", string(data))
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return load, err
		}
		load[i] = v
	}
	return load, nil
}

func (s *StatsService) readCPUModel() (string, error) {
	f, err := os.Open(s.procPath + "/cpuinfo")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "model name") {
			if _, value, ok := strings.Cut(line, ":"); ok {
				return strings.TrimSpace(value), nil
			}
		}
	}
	return "", fmt.Errorf("model name not found")
}

func (s *StatsService) readMemInfo() (models.MemoryInfo, error) {
	var mem models.MemoryInfo
	f, err := os.Open(s.procPath + "/meminfo")
	if err != nil {
		return mem, err
	}
	defer f.Close()

	values := map[string]uint64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		values[key] = kb * 1024
	}

	mem.Total = values["MemTotal"]
	available := values["MemAvailable"]
	if available == 0 {
		available = values["MemFree"]
	}
	mem.Free = available
	if mem.Total >= available {
		mem.Used = mem.Total - available
	}
	if mem.Total > 0 {
		mem.Percent = fmt.Sprintf("%.1f", float64(mem.Used)/float64(mem.Total)*100)
	}
	return mem, nil
}

func (s *StatsService) readUptime() (uint64, error) {
	data, err := os.ReadFile(s.procPath + "/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("malformed uptime: %q", string(data))
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return uint64(seconds), nil
}
