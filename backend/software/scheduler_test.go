package software

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeedBasedSchedule(t *testing.T) {
	type spec struct {
		speed1   float32
		speed2   float32
		frameH   uint32
		expRows1 uint32
		expRows2 uint32
	}
	specs := []spec{
		{1, 2, 10, 4, 6},
		{2, 1, 10, 7, 3},
		{1, 1000, 10, 1, 9},
	}

	for index, s := range specs {
		sch := &rowScheduler{}
		assignment := sch.Schedule([]deviceStats{{Speed: s.speed1}, {Speed: s.speed2}}, s.frameH)

		assert.Equal(t, s.expRows1, assignment[0], "[spec %d] device 0 rows", index)
		assert.Equal(t, s.expRows2, assignment[1], "[spec %d] device 1 rows", index)
	}
}

func TestThroughputBasedSchedule(t *testing.T) {
	type spec struct {
		frameH   uint32
		rTime1   time.Duration
		rTime2   time.Duration
		expRows1 uint32
		expRows2 uint32
	}
	specs := []spec{
		// First call has no measurements and splits by speed
		{10, time.Duration(1), time.Duration(5), 5, 5},
		// Second call should use the render times to assign rows
		{10, time.Duration(1), time.Duration(5), 9, 1},
		// This time device 2 performed much better
		{10, time.Duration(5), time.Duration(1), 7, 3},
	}

	devices := []deviceStats{{Speed: 1}, {Speed: 1}}
	sch := &rowScheduler{}
	for index, s := range specs {
		devices[0].RowsTime = s.rTime1
		devices[1].RowsTime = s.rTime2

		assignment := sch.Schedule(devices, s.frameH)

		assert.Equal(t, s.expRows1, assignment[0], "[spec %d] device 0 rows", index)
		assert.Equal(t, s.expRows2, assignment[1], "[spec %d] device 1 rows", index)

		devices[0].Rows = assignment[0]
		devices[1].Rows = assignment[1]
	}
}

func TestScheduleNeverExceedsFrame(t *testing.T) {
	sch := &rowScheduler{}
	devices := make([]deviceStats, 4)
	assignment := sch.Schedule(devices, 2)

	var total uint32
	for _, rows := range assignment {
		total += rows
	}
	assert.Equal(t, uint32(2), total)
}
