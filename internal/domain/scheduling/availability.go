package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/pkg/timerange"
)

// -- Weekly template --

type WeeklySlotInput struct {
	DayOfWeek Weekday
	StartTime timerange.Clock
	EndTime   timerange.Clock
	IsBreak   bool
	Note      *string
}

func (s *Service) CreateWeeklySlot(ctx context.Context, actor Actor, in WeeklySlotInput) (*WeeklySlot, error) {
	if err := requireVet(actor); err != nil {
		return nil, err
	}
	if !in.DayOfWeek.Valid() {
		return nil, fmt.Errorf("%w: invalid day_of_week %q", ErrInvalidInput, in.DayOfWeek)
	}
	if _, err := timerange.DurationMinutes(in.StartTime, in.EndTime); err != nil {
		return nil, err
	}

	if s.cfg.StrictWeeklyOverlap {
		existing, err := s.slots.ListByVet(ctx, actor.VetID, &in.DayOfWeek)
		if err != nil {
			return nil, fmt.Errorf("list weekly slots: %w", err)
		}
		for _, e := range existing {
			if e.IsBreak == in.IsBreak && timerange.Overlaps(e.StartTime, e.EndTime, in.StartTime, in.EndTime) {
				return nil, fmt.Errorf("%w: overlaps existing %s slot %s-%s", ErrConflict, in.DayOfWeek, e.StartTime, e.EndTime)
			}
		}
	}

	slot := &WeeklySlot{
		VetID:     actor.VetID,
		DayOfWeek: in.DayOfWeek,
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		IsBreak:   in.IsBreak,
		Note:      in.Note,
	}
	if err := s.slots.Create(ctx, slot); err != nil {
		return nil, fmt.Errorf("create weekly slot: %w", err)
	}
	return slot, nil
}

func (s *Service) ListWeeklySlots(ctx context.Context, vetID uuid.UUID, day *Weekday) ([]*WeeklySlot, error) {
	return s.slots.ListByVet(ctx, vetID, day)
}

func (s *Service) DeleteWeeklySlot(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := requireVet(actor); err != nil {
		return err
	}
	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if slot.VetID != actor.VetID {
		return fmt.Errorf("%w: weekly slot belongs to another veterinarian", ErrForbidden)
	}
	return s.slots.Delete(ctx, id)
}

// -- Holidays --

type HolidayInput struct {
	StartDate time.Time
	EndDate   time.Time
	Reason    *string
}

func (s *Service) CreateHoliday(ctx context.Context, actor Actor, in HolidayInput) (*Holiday, error) {
	if err := requireVet(actor); err != nil {
		return nil, err
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return nil, fmt.Errorf("%w: start_date and end_date are required", ErrInvalidInput)
	}
	start, end := s.dateOf(in.StartDate), s.dateOf(in.EndDate)
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end_date is before start_date", ErrInvalidRange)
	}
	if start.Before(s.Today()) {
		return nil, fmt.Errorf("%w: holiday cannot start in the past", ErrInvalidRange)
	}

	h := &Holiday{VetID: actor.VetID, StartDate: start, EndDate: end, Reason: in.Reason}
	err := s.locker.WithLock(ctx, "vet:"+actor.VetID.String()+":holidays", func(ctx context.Context) error {
		existing, err := s.holidays.ListByVet(ctx, actor.VetID, &start, &end)
		if err != nil {
			return fmt.Errorf("list holidays: %w", err)
		}
		for _, e := range existing {
			if timerange.DatesIntersect(e.StartDate, e.EndDate, start, end) {
				return fmt.Errorf("%w: overlaps holiday %s to %s", ErrConflict,
					e.StartDate.Format(timerange.DateLayout), e.EndDate.Format(timerange.DateLayout))
			}
		}
		return s.holidays.Create(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) ListHolidays(ctx context.Context, vetID uuid.UUID, from, to *time.Time) ([]*Holiday, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidRange)
	}
	return s.holidays.ListByVet(ctx, vetID, from, to)
}

func (s *Service) DeleteHoliday(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := requireVet(actor); err != nil {
		return err
	}
	h, err := s.holidays.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if h.VetID != actor.VetID {
		return fmt.Errorf("%w: holiday belongs to another veterinarian", ErrForbidden)
	}
	return s.holidays.Delete(ctx, id)
}

// IsDateInHoliday reports whether the vet has a holiday covering date.
func (s *Service) IsDateInHoliday(ctx context.Context, vetID uuid.UUID, date time.Time) (bool, error) {
	d := s.dateOf(date)
	hs, err := s.holidays.ListByVet(ctx, vetID, &d, &d)
	if err != nil {
		return false, fmt.Errorf("list holidays: %w", err)
	}
	for _, h := range hs {
		if h.Covers(d) {
			return true, nil
		}
	}
	return false, nil
}

// -- Booking ledger --

// ListAppointments returns the vet's own ledger. Cancelled appointments are
// excluded unless the filter asks for them.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f LedgerFilter) ([]*Appointment, int, error) {
	if err := requireVet(actor); err != nil {
		return nil, 0, err
	}
	if f.VetID != actor.VetID {
		return nil, 0, fmt.Errorf("%w: ledger belongs to another veterinarian", ErrForbidden)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, fmt.Errorf("%w: to is before from", ErrInvalidRange)
	}
	return s.appointments.List(ctx, f)
}

// HasConflict reports whether another blocking appointment overlaps the range.
func (s *Service) HasConflict(ctx context.Context, vetID uuid.UUID, date time.Time, start, end timerange.Clock, exclude *uuid.UUID) (bool, error) {
	if _, err := timerange.DurationMinutes(start, end); err != nil {
		return false, err
	}
	return s.appointments.HasConflict(ctx, vetID, s.dateOf(date), start, end, exclude)
}
