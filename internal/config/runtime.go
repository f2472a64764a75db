package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Runtime controls chunking, parallelism and the overall time budget of a run.
// Zero values mean "not set" and are filled from the environment, then from
// defaults, by Resolve.
type Runtime struct {
	ChunkSize  int           `json:"chunkSize" yaml:"chunkSize"`
	Workers    int           `json:"workers" yaml:"workers"`
	Partitions int           `json:"partitions" yaml:"partitions"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

const (
	DefaultChunkSize = 10000

	// DefaultTimeout is sized for ~700k-row exports on modest hardware.
	DefaultTimeout = 15 * time.Minute
)

// Resolve fills unset knobs 12-factor style: explicit value → environment
// (RECON_CHUNK_SIZE, RECON_WORKERS, RECON_PARTITIONS, RECON_TIMEOUT) → default.
func (r Runtime) Resolve() Runtime {
	cpus := runtime.NumCPU()
	return Runtime{
		ChunkSize:  pickInt(r.ChunkSize, getenvInt("RECON_CHUNK_SIZE", DefaultChunkSize)),
		Workers:    pickInt(r.Workers, getenvInt("RECON_WORKERS", cpus)),
		Partitions: pickInt(r.Partitions, getenvInt("RECON_PARTITIONS", cpus)),
		Timeout:    pickDuration(r.Timeout, getenvDuration("RECON_TIMEOUT", DefaultTimeout)),
	}
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func pickDuration(a, b time.Duration) time.Duration {
	if a > 0 {
		return a
	}
	return b
}
