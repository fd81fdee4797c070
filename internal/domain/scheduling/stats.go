package scheduling

import (
	"fmt"
	"math"

	"github.com/vetcare/vetcare/pkg/timerange"
)

// BaselineWeekMinutes is the reference working week used for coverage:
// Monday to Friday 08:00-18:00 plus Saturday 08:00-14:00.
const BaselineWeekMinutes = (5*10 + 6) * 60

// ComputeWeeklyStats aggregates the work slots of a weekly template. Ties for
// peak and least-busy hour go to the earliest hour; ties for the most
// available day go to the earliest day of the week.
func ComputeWeeklyStats(slots []*WeeklySlot) WeeklyStats {
	var (
		st         WeeklyStats
		hourCounts [24]int
		dayMinutes = make(map[Weekday]int)
	)

	for _, sl := range slots {
		if sl.IsBreak {
			continue
		}
		m, err := timerange.DurationMinutes(sl.StartTime, sl.EndTime)
		if err != nil {
			continue
		}
		st.TotalMinutes += m
		st.TotalSlots += m / 15
		hourCounts[sl.StartTime.Hour()]++
		dayMinutes[sl.DayOfWeek] += m
	}

	st.TotalHours = round1(float64(st.TotalMinutes) / 60)
	st.WeekCoverage = int(math.Round(float64(st.TotalMinutes) / BaselineWeekMinutes * 100))
	if len(dayMinutes) == 0 {
		return st
	}
	st.DailyAverage = round1(st.TotalHours / float64(len(dayMinutes)))

	peak, least := 0, 0
	for h := 1; h < 24; h++ {
		if hourCounts[h] > hourCounts[peak] {
			peak = h
		}
		if hourCounts[h] < hourCounts[least] {
			least = h
		}
	}
	st.PeakHours = hourBucket(peak, hourCounts[peak])
	st.LeastBusyHours = hourBucket(least, hourCounts[least])

	// Only days with a work slot compete, even when it is under a minute long.
	var best Weekday
	for _, d := range Weekdays {
		m, ok := dayMinutes[d]
		if ok && (best == "" || m > dayMinutes[best]) {
			best = d
		}
	}
	m := dayMinutes[best]
	st.MostAvailableDay = &DayAvailability{
		Day:     best,
		Name:    best.Title(),
		Hours:   round1(float64(m) / 60),
		Minutes: m % 60,
	}
	return st
}

func hourBucket(hour, count int) *HourBucket {
	return &HourBucket{
		Hour:      hour,
		EndHour:   hour + 1,
		SlotCount: count,
		Label:     fmt.Sprintf("%02d:00 - %02d:00", hour, hour+1),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
