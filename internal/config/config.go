package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// RunConfig describes one benchmark run. The backend is fixed per binary;
// everything else comes from the environment.
type RunConfig struct {
	Ops         int           // number of operations (OPS)
	Resources   int           // number of endpoints (RESOURCES)
	PayloadSize int           // bytes per operation (PAYLOAD_SIZE)
	ReadRatio   int           // percent of ops that read (READ_RATIO)
	Workers     int           // blocking pool size, 0 = NumCPU (WORKERS)
	RingEntries uint32        // io_uring submission queue depth (RING_ENTRIES)
	OpTimeout   time.Duration // per-op deadline, 0 = none (OP_TIMEOUT_MS)
	ResultPath  string        // optional binary summary dump (RESULT_PATH)
}

func ParseRunConfigFromEnv() (*RunConfig, error) {
	ops, err := intFromEnv("OPS", 100)
	if err != nil {
		return nil, err
	}
	if ops <= 0 {
		return nil, fmt.Errorf("OPS must be positive, got %d", ops)
	}

	resources, err := intFromEnv("RESOURCES", 10)
	if err != nil {
		return nil, err
	}
	if resources <= 0 {
		return nil, fmt.Errorf("RESOURCES must be positive, got %d", resources)
	}

	payloadSize, err := intFromEnv("PAYLOAD_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	if payloadSize <= 0 {
		return nil, fmt.Errorf("PAYLOAD_SIZE must be positive, got %d", payloadSize)
	}

	readRatio, err := intFromEnv("READ_RATIO", 0)
	if err != nil {
		return nil, err
	}
	if readRatio < 0 || readRatio > 100 {
		return nil, fmt.Errorf("READ_RATIO must be 0..100, got %d", readRatio)
	}

	workers, err := intFromEnv("WORKERS", 0)
	if err != nil {
		return nil, err
	}
	if workers < 0 {
		return nil, fmt.Errorf("WORKERS must not be negative, got %d", workers)
	}

	ringEntries, err := intFromEnv("RING_ENTRIES", 256)
	if err != nil {
		return nil, err
	}
	if ringEntries <= 0 {
		return nil, fmt.Errorf("RING_ENTRIES must be positive, got %d", ringEntries)
	}

	timeoutMs, err := intFromEnv("OP_TIMEOUT_MS", 0)
	if err != nil {
		return nil, err
	}
	if timeoutMs < 0 {
		return nil, fmt.Errorf("OP_TIMEOUT_MS must not be negative, got %d", timeoutMs)
	}

	return &RunConfig{
		Ops:         ops,
		Resources:   resources,
		PayloadSize: payloadSize,
		ReadRatio:   readRatio,
		Workers:     workers,
		RingEntries: uint32(ringEntries),
		OpTimeout:   time.Duration(timeoutMs) * time.Millisecond,
		ResultPath:  os.Getenv("RESULT_PATH"),
	}, nil
}

func intFromEnv(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}
