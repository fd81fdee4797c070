package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/pkg/timerange"
)

// Reasons a range is not bookable.
const (
	reasonHoliday      = "holiday"
	reasonOutsideHours = "outside_working_hours"
	reasonBreak        = "overlaps_break"
	reasonBooked       = "already_booked"
)

// IsBookable reports whether [start, end) on date can be booked with vetID:
// the date is not a holiday, the range sits inside a work slot, it touches no
// break, and no blocking appointment overlaps it.
func (s *Service) IsBookable(ctx context.Context, vetID uuid.UUID, date time.Time, start, end timerange.Clock) (bool, error) {
	reason, err := s.bookability(ctx, vetID, date, start, end, nil)
	if err != nil {
		return false, err
	}
	return reason == "", nil
}

// bookability returns the first failed check, or "" if the range is bookable.
// exclude leaves one appointment out of the conflict check.
func (s *Service) bookability(ctx context.Context, vetID uuid.UUID, date time.Time, start, end timerange.Clock, exclude *uuid.UUID) (string, error) {
	if _, err := timerange.DurationMinutes(start, end); err != nil {
		return "", err
	}
	date = s.dateOf(date)

	inHoliday, err := s.IsDateInHoliday(ctx, vetID, date)
	if err != nil {
		return "", err
	}
	if inHoliday {
		return reasonHoliday, nil
	}

	day := WeekdayOf(date)
	slots, err := s.slots.ListByVet(ctx, vetID, &day)
	if err != nil {
		return "", fmt.Errorf("list weekly slots: %w", err)
	}
	if reason := templateCheck(slots, start, end); reason != "" {
		return reason, nil
	}

	conflict, err := s.appointments.HasConflict(ctx, vetID, date, start, end, exclude)
	if err != nil {
		return "", fmt.Errorf("check conflicts: %w", err)
	}
	if conflict {
		return reasonBooked, nil
	}
	return "", nil
}

// templateCheck tests a range against one day's template.
func templateCheck(slots []*WeeklySlot, start, end timerange.Clock) string {
	inWork := false
	for _, sl := range slots {
		if sl.IsBreak {
			if timerange.Overlaps(sl.StartTime, sl.EndTime, start, end) {
				return reasonBreak
			}
			continue
		}
		if timerange.Contains(sl.StartTime, sl.EndTime, start, end) {
			inWork = true
		}
	}
	if !inWork {
		return reasonOutsideHours
	}
	return ""
}

// FreeSlots cuts every work slot of the date's weekday into slotMinutes
// chunks and keeps the bookable ones, in chronological order. Requested
// appointments do not remove a chunk; they are counted in PendingRequests.
func (s *Service) FreeSlots(ctx context.Context, vetID uuid.UUID, date time.Time, slotMinutes int) ([]FreeSlot, error) {
	if slotMinutes == 0 {
		slotMinutes = DefaultSlotMinutes
	}
	if slotMinutes < 5 || slotMinutes > 240 {
		return nil, fmt.Errorf("%w: slot size must be between 5 and 240 minutes", ErrInvalidRange)
	}
	date = s.dateOf(date)
	free := []FreeSlot{}

	inHoliday, err := s.IsDateInHoliday(ctx, vetID, date)
	if err != nil {
		return nil, err
	}
	if inHoliday {
		return free, nil
	}

	day := WeekdayOf(date)
	slots, err := s.slots.ListByVet(ctx, vetID, &day)
	if err != nil {
		return nil, fmt.Errorf("list weekly slots: %w", err)
	}
	appts, _, err := s.appointments.List(ctx, LedgerFilter{VetID: vetID, Date: &date})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	var booked, pending []*Appointment
	for _, a := range appts {
		switch {
		case a.Status.Blocks():
			booked = append(booked, a)
		case a.Status == StatusRequested:
			pending = append(pending, a)
		}
	}

	size := timerange.Clock(slotMinutes * 60)
	seen := make(map[timerange.Clock]bool)
	for _, sl := range slots {
		if sl.IsBreak {
			continue
		}
		for st := sl.StartTime; st+size <= sl.EndTime; st += size {
			en := st + size
			if seen[st] || templateCheck(slots, st, en) != "" || overlapsAny(booked, st, en) {
				continue
			}
			seen[st] = true
			free = append(free, FreeSlot{
				Date:            date,
				DayOfWeek:       day,
				StartTime:       st,
				EndTime:         en,
				DurationMinutes: slotMinutes,
				PendingRequests: countOverlapping(pending, st, en),
			})
		}
	}

	sort.Slice(free, func(i, j int) bool { return free[i].StartTime < free[j].StartTime })
	return free, nil
}

func overlapsAny(appts []*Appointment, start, end timerange.Clock) bool {
	return countOverlapping(appts, start, end) > 0
}

func countOverlapping(appts []*Appointment, start, end timerange.Clock) int {
	n := 0
	for _, a := range appts {
		if timerange.Overlaps(a.StartTime, a.EndTime, start, end) {
			n++
		}
	}
	return n
}

// IsAvailableAt reports whether the vet's template has them working at a
// given time of a weekday: inside some work slot and in no break.
func (s *Service) IsAvailableAt(ctx context.Context, vetID uuid.UUID, day Weekday, at timerange.Clock) (bool, error) {
	if !day.Valid() {
		return false, fmt.Errorf("%w: invalid day_of_week %q", ErrInvalidInput, day)
	}
	slots, err := s.slots.ListByVet(ctx, vetID, &day)
	if err != nil {
		return false, fmt.Errorf("list weekly slots: %w", err)
	}
	working := false
	for _, sl := range slots {
		if sl.StartTime <= at && at < sl.EndTime {
			if sl.IsBreak {
				return false, nil
			}
			working = true
		}
	}
	return working, nil
}

// WeeklyStatistics summarises the vet's template for the week containing weekOf.
// Holidays and bookings are not taken into account.
func (s *Service) WeeklyStatistics(ctx context.Context, vetID uuid.UUID, weekOf time.Time) (*WeeklyStats, error) {
	slots, err := s.slots.ListByVet(ctx, vetID, nil)
	if err != nil {
		return nil, fmt.Errorf("list weekly slots: %w", err)
	}
	stats := ComputeWeeklyStats(slots)
	stats.WeekStart = timerange.WeekStart(s.dateOf(weekOf))
	stats.WeekEnd = stats.WeekStart.AddDate(0, 0, 6)
	return &stats, nil
}

// WeekOverview lays the template over the current week's dates.
func (s *Service) WeekOverview(ctx context.Context, vetID uuid.UUID) (*WeekOverview, error) {
	slots, err := s.slots.ListByVet(ctx, vetID, nil)
	if err != nil {
		return nil, fmt.Errorf("list weekly slots: %w", err)
	}

	start := timerange.WeekStart(s.Today())
	byDay := make(map[Weekday][]*WeeklySlot, len(Weekdays))
	for _, sl := range slots {
		byDay[sl.DayOfWeek] = append(byDay[sl.DayOfWeek], sl)
	}

	ov := &WeekOverview{WeekStart: start, WeekEnd: start.AddDate(0, 0, 6)}
	for i, d := range Weekdays {
		daySlots := byDay[d]
		if daySlots == nil {
			daySlots = []*WeeklySlot{}
		}
		sort.Slice(daySlots, func(a, b int) bool { return daySlots[a].StartTime < daySlots[b].StartTime })
		ov.Days = append(ov.Days, DaySchedule{DayOfWeek: d, Date: start.AddDate(0, 0, i), Slots: daySlots})
	}

	stats := ComputeWeeklyStats(slots)
	stats.WeekStart, stats.WeekEnd = ov.WeekStart, ov.WeekEnd
	ov.Stats = &stats
	return ov, nil
}
