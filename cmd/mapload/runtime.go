package main

import (
	"os"
	"strconv"

	"mapload/internal/config"
)

// applyEnvOverrides fills runtime tuning knobs the job file left at zero
// from the environment. Non-zero config values always win over env values,
// and env values win over the built-in defaults.
func applyEnvOverrides(job *config.Job) {
	job.BatchSize = pickInt(job.BatchSize, getenvInt("MAPLOAD_BATCH_SIZE", 0))
	job.Parallel.ChunkSize = pickInt(job.Parallel.ChunkSize, getenvInt("MAPLOAD_CHUNK_SIZE", 0))
	job.Parallel.MaxWorkers = pickInt(job.Parallel.MaxWorkers, getenvInt("MAPLOAD_MAX_WORKERS", 0))
	if job.Parallel.MinRows == 0 {
		job.Parallel.MinRows = int64(getenvInt("MAPLOAD_MIN_PARALLEL_ROWS", 0))
	}
}

// pickInt returns v when positive, otherwise fallback.
func pickInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// getenvInt reads an int from environment, returning def when unset/invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}
