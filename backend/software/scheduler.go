package software

import (
	"math"
	"time"
)

// Per-device statistics for the last rendered step.
type deviceStats struct {
	// Device speed estimate relative to a baseline cpu device.
	Speed float32

	// The number of rows rendered by the device and the time it took.
	Rows     uint32
	RowsTime time.Duration
}

// The row scheduler assumes that the volume of tracing work between two
// subsequent steps is approximately the same and splits the frame rows
// between devices using the throughput measured for the previous step.
type rowScheduler struct {
	assignment []uint32
}

// Split frameH rows between devices. The first call (or any call after the
// number of devices changes) distributes rows using the device speed
// estimates. Subsequent calls estimate the workload for device d as:
// w_d = (rows_d / time_d) / Σ(rows_i / time_i)
func (sch *rowScheduler) Schedule(devices []deviceStats, frameH uint32) []uint32 {
	if len(devices) == 0 {
		return nil
	}

	var total float64
	if len(sch.assignment) != len(devices) || !measured(devices) {
		sch.assignment = make([]uint32, len(devices))
		for _, dev := range devices {
			total += float64(speedOf(dev))
		}
		scaler := float64(frameH) / total
		for idx, dev := range devices {
			sch.assignment[idx] = uint32(math.Max(1.0, math.Floor(float64(speedOf(dev))*scaler)))
		}
		return sch.fit(frameH)
	}

	for _, dev := range devices {
		total += float64(dev.Rows) / float64(dev.RowsTime)
	}
	scaler := float64(frameH) / total
	for idx, dev := range devices {
		sch.assignment[idx] = uint32(math.Max(1.0, math.Floor(float64(dev.Rows)/float64(dev.RowsTime)*scaler)))
	}
	return sch.fit(frameH)
}

// Make sure the assigned rows add up to the frame height. Missing rows are
// appended to the first device; excess rows are trimmed from the last ones.
func (sch *rowScheduler) fit(frameH uint32) []uint32 {
	var scheduled uint32
	for _, rows := range sch.assignment {
		scheduled += rows
	}

	if scheduled < frameH {
		sch.assignment[0] += frameH - scheduled
		return sch.assignment
	}

	excess := scheduled - frameH
	for idx := len(sch.assignment) - 1; idx >= 0 && excess > 0; idx-- {
		trim := sch.assignment[idx]
		if trim > excess {
			trim = excess
		}
		sch.assignment[idx] -= trim
		excess -= trim
	}
	return sch.assignment
}

func measured(devices []deviceStats) bool {
	for _, dev := range devices {
		if dev.Rows == 0 || dev.RowsTime <= 0 {
			return false
		}
	}
	return true
}

func speedOf(dev deviceStats) float32 {
	if dev.Speed <= 0 {
		return 1
	}
	return dev.Speed
}
