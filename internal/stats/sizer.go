package stats

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// KeyBudget derives a tracked-key cap from available system memory
type KeyBudget struct {
	maxMemoryPercent float64
	perEntrySize     uint64
}

// NewKeyBudget returns a budget using up to 2% of available memory,
// assuming roughly 256 bytes per tracked key entry.
func NewKeyBudget() *KeyBudget {
	return &KeyBudget{
		maxMemoryPercent: 0.02,
		perEntrySize:     256,
	}
}

// MaxKeys calculates how many keys the recorder may track
func (b *KeyBudget) MaxKeys() (int, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}

	budget := uint64(float64(v.Available) * b.maxMemoryPercent)
	maxKeys := budget / b.perEntrySize

	// Keep the cap in a sane range
	if maxKeys > 1000000 {
		maxKeys = 1000000
	}
	if maxKeys < uint64(DefaultMaxKeys) {
		maxKeys = uint64(DefaultMaxKeys)
	}

	return int(maxKeys), nil
}

// LogMemoryUsage logs runtime memory statistics
func (b *KeyBudget) LogMemoryUsage(logger *logrus.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	logger.WithFields(logrus.Fields{
		"alloc_mb":       byteToMB(m.Alloc),
		"total_alloc_mb": byteToMB(m.TotalAlloc),
		"sys_mb":         byteToMB(m.Sys),
		"num_gc":         m.NumGC,
	}).Info("Memory stats")
}

func byteToMB(b uint64) uint64 {
	return b / 1024 / 1024
}
