package models

// SystemStats aggregates host-level information for the stats endpoint.
type SystemStats struct {
	CPU      CPUInfo    `json:"cpu"`
	Memory   MemoryInfo `json:"memory"`
	Uptime   uint64     `json:"uptime"`
	Hostname string     `json:"hostname"`
	Platform string     `json:"platform"`
	Arch     string     `json:"arch"`
}

// CPUInfo reports core count and load.
type CPUInfo struct {
	Cores   int        `json:"cores"`
	Model   string     `json:"model"`
	Usage   float64    `json:"usage"`
	LoadAvg [3]float64 `json:"loadAvg"`
}

// MemoryInfo reports memory usage in bytes.
type MemoryInfo struct {
	Total   uint64 `json:"total"`
	Used    uint64 `json:"used"`
	Free    uint64 `json:"free"`
	Percent string `json:"percent"`
}

// SessionStats mirrors the per-session counters kept by the session manager.
type SessionStats struct {
	TotalCaptures      uint64 `json:"totalCaptures"`
	TotalInputs        uint64 `json:"totalInputs"`
	BytesCaptured      uint64 `json:"bytesCaptured"`
	CaptureErrors      uint64 `json:"captureErrors"`
	InputErrors        uint64 `json:"inputErrors"`
	BackpressureEvents uint64 `json:"backpressureEvents"`
	BufferSize         int    `json:"bufferSize"`
	BufferOverruns     uint64 `json:"bufferOverruns"`
	CaptureAlive       bool   `json:"captureAlive"`
	Clients            int    `json:"clients"`
}
