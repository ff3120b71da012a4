package appctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerTickOrdersByDeadlineThenScheduleOrder(t *testing.T) {
	var order []int
	s := &Scheduler{}

	deadline := time.Unix(10, 0)
	s.Schedule(deadline, func(time.Time) { order = append(order, 1) })
	s.Schedule(deadline, func(time.Time) { order = append(order, 2) })
	s.Schedule(time.Unix(5, 0), func(time.Time) { order = append(order, 0) })

	s.Tick(time.Unix(10, 0))

	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, 0, s.Pending())
}

func TestSchedulerTickLeavesFutureCallbacksPending(t *testing.T) {
	s := &Scheduler{}
	s.Schedule(time.Unix(100, 0), func(time.Time) {})

	s.Tick(time.Unix(10, 0))
	assert.Equal(t, 1, s.Pending())
}
