package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetcare/vetcare/internal/platform/events"
)

// -- Weekly template --

func TestCreateWeeklySlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	slot, err := f.svc.CreateWeeklySlot(ctx, f.vet, WeeklySlotInput{
		DayOfWeek: Monday, StartTime: clock("09:00"), EndTime: clock("12:00"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, slot.ID)
	assert.Equal(t, f.vet.VetID, slot.VetID)

	list, err := f.svc.ListWeeklySlots(ctx, f.vet.VetID, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, clock("12:00"), list[0].EndTime)
}

func TestCreateWeeklySlot_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name  string
		actor Actor
		in    WeeklySlotInput
		want  error
	}{
		{"anonymous", Actor{}, WeeklySlotInput{DayOfWeek: Monday, StartTime: clock("09:00"), EndTime: clock("10:00")}, ErrUnauthenticated},
		{"client", f.client, WeeklySlotInput{DayOfWeek: Monday, StartTime: clock("09:00"), EndTime: clock("10:00")}, ErrForbidden},
		{"bad day", f.vet, WeeklySlotInput{DayOfWeek: "funday", StartTime: clock("09:00"), EndTime: clock("10:00")}, ErrInvalidInput},
		{"empty range", f.vet, WeeklySlotInput{DayOfWeek: Monday, StartTime: clock("10:00"), EndTime: clock("10:00")}, ErrInvalidRange},
		{"inverted range", f.vet, WeeklySlotInput{DayOfWeek: Monday, StartTime: clock("11:00"), EndTime: clock("10:00")}, ErrInvalidRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateWeeklySlot(ctx, tt.actor, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateWeeklySlot_Overlap(t *testing.T) {
	ctx := context.Background()
	in := WeeklySlotInput{DayOfWeek: Monday, StartTime: clock("10:00"), EndTime: clock("11:00")}

	t.Run("allowed by default", func(t *testing.T) {
		f := newFixture()
		f.addSlot(Monday, "09:00", "12:00", false)
		_, err := f.svc.CreateWeeklySlot(ctx, f.vet, in)
		assert.NoError(t, err)
	})

	t.Run("strict rejects same kind", func(t *testing.T) {
		f := newFixture(func(c *Config) { c.StrictWeeklyOverlap = true })
		f.addSlot(Monday, "09:00", "12:00", false)
		_, err := f.svc.CreateWeeklySlot(ctx, f.vet, in)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("strict allows break inside work", func(t *testing.T) {
		f := newFixture(func(c *Config) { c.StrictWeeklyOverlap = true })
		f.addSlot(Monday, "09:00", "12:00", false)
		brk := in
		brk.IsBreak = true
		_, err := f.svc.CreateWeeklySlot(ctx, f.vet, brk)
		assert.NoError(t, err)
	})

	t.Run("strict allows touching slots", func(t *testing.T) {
		f := newFixture(func(c *Config) { c.StrictWeeklyOverlap = true })
		f.addSlot(Monday, "09:00", "10:00", false)
		_, err := f.svc.CreateWeeklySlot(ctx, f.vet, in)
		assert.NoError(t, err)
	})
}

func TestDeleteWeeklySlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	slot := f.addSlot(Tuesday, "09:00", "10:00", false)

	assert.ErrorIs(t, f.svc.DeleteWeeklySlot(ctx, f.otherVet, slot.ID), ErrForbidden)
	require.NoError(t, f.svc.DeleteWeeklySlot(ctx, f.vet, slot.ID))
	assert.ErrorIs(t, f.svc.DeleteWeeklySlot(ctx, f.vet, slot.ID), ErrNotFound)

	list, err := f.svc.ListWeeklySlots(ctx, f.vet.VetID, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestIsAvailableAt(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	ctx := context.Background()

	tests := []struct {
		at   string
		want bool
	}{
		{"08:59", false},
		{"09:00", true},
		{"11:59", true},
		{"12:00", false},
		{"12:30", false},
		{"13:00", true},
		{"16:59", true},
		{"17:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.at, func(t *testing.T) {
			got, err := f.svc.IsAvailableAt(ctx, f.vet.VetID, Monday, clock(tt.at))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := f.svc.IsAvailableAt(ctx, f.vet.VetID, Tuesday, clock("10:00"))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestWeekOverview(t *testing.T) {
	f := newFixture()
	f.addSlot(Wednesday, "14:00", "16:00", false)
	f.addSlot(Wednesday, "09:00", "12:00", false)
	f.now = date("2026-03-05").Add(10 * time.Hour)

	ov, err := f.svc.WeekOverview(context.Background(), f.vet.VetID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", ov.WeekStart.Format("2006-01-02"))
	assert.Equal(t, "2026-03-08", ov.WeekEnd.Format("2006-01-02"))
	require.Len(t, ov.Days, 7)
	assert.Equal(t, Monday, ov.Days[0].DayOfWeek)
	assert.Empty(t, ov.Days[0].Slots)
	wed := ov.Days[2]
	assert.Equal(t, "2026-03-04", wed.Date.Format("2006-01-02"))
	require.Len(t, wed.Slots, 2)
	assert.Equal(t, clock("09:00"), wed.Slots[0].StartTime)
	require.NotNil(t, ov.Stats)
	assert.Equal(t, 5.0, ov.Stats.TotalHours)
}

// -- Holidays --

func TestCreateHoliday(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	h, err := f.svc.CreateHoliday(ctx, f.vet, HolidayInput{StartDate: date("2026-03-10"), EndDate: date("2026-03-12")})
	require.NoError(t, err)
	assert.Equal(t, f.vet.VetID, h.VetID)

	in, err := f.svc.IsDateInHoliday(ctx, f.vet.VetID, date("2026-03-12"))
	require.NoError(t, err)
	assert.True(t, in)
	in, err = f.svc.IsDateInHoliday(ctx, f.vet.VetID, date("2026-03-13"))
	require.NoError(t, err)
	assert.False(t, in)
}

func TestCreateHoliday_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.CreateHoliday(ctx, f.vet, HolidayInput{StartDate: date("2026-03-10"), EndDate: date("2026-03-12")})
	require.NoError(t, err)

	tests := []struct {
		name       string
		start, end string
		want       error
	}{
		{"in the past", "2026-03-01", "2026-03-03", ErrInvalidRange},
		{"end before start", "2026-03-20", "2026-03-19", ErrInvalidRange},
		{"overlaps existing", "2026-03-12", "2026-03-14", ErrConflict},
		{"inside existing", "2026-03-11", "2026-03-11", ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateHoliday(ctx, f.vet, HolidayInput{StartDate: date(tt.start), EndDate: date(tt.end)})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("today and adjacent", func(t *testing.T) {
		_, err := f.svc.CreateHoliday(ctx, f.vet, HolidayInput{StartDate: date("2026-03-02"), EndDate: date("2026-03-09")})
		assert.NoError(t, err)
	})

	t.Run("other vet unaffected", func(t *testing.T) {
		_, err := f.svc.CreateHoliday(ctx, f.otherVet, HolidayInput{StartDate: date("2026-03-10"), EndDate: date("2026-03-12")})
		assert.NoError(t, err)
	})
}

func TestDeleteHoliday(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	h, err := f.svc.CreateHoliday(ctx, f.vet, HolidayInput{StartDate: date("2026-04-01"), EndDate: date("2026-04-01")})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteHoliday(ctx, f.otherVet, h.ID), ErrForbidden)
	require.NoError(t, f.svc.DeleteHoliday(ctx, f.vet, h.ID))

	list, err := f.svc.ListHolidays(ctx, f.vet.VetID, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// -- Availability resolver --

func TestIsBookable(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	f.addAppointment("2026-03-09", "14:00", "14:30", StatusConfirmed)
	f.addAppointment("2026-03-09", "15:00", "15:30", StatusRequested)
	f.addAppointment("2026-03-09", "16:00", "16:30", StatusCancelled)
	ctx := context.Background()
	_, err := f.svc.CreateHoliday(ctx, f.vet, HolidayInput{StartDate: date("2026-03-16"), EndDate: date("2026-03-16")})
	require.NoError(t, err)

	tests := []struct {
		name       string
		day        string
		start, end string
		want       bool
	}{
		{"inside work", "2026-03-09", "11:00", "11:30", true},
		{"touches break start", "2026-03-09", "11:30", "12:00", true},
		{"overlaps break", "2026-03-09", "12:15", "12:45", false},
		{"spans break", "2026-03-09", "11:30", "13:30", false},
		{"before hours", "2026-03-09", "08:30", "09:30", false},
		{"after hours", "2026-03-09", "16:45", "17:15", false},
		{"confirmed conflict", "2026-03-09", "14:15", "14:45", false},
		{"adjacent to confirmed", "2026-03-09", "14:30", "15:00", true},
		{"requested does not block", "2026-03-09", "15:00", "15:30", true},
		{"cancelled does not block", "2026-03-09", "16:00", "16:30", true},
		{"no template that day", "2026-03-10", "10:00", "10:30", false},
		{"holiday", "2026-03-16", "10:00", "10:30", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.IsBookable(ctx, f.vet.VetID, date(tt.day), clock(tt.start), clock(tt.end))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = f.svc.IsBookable(ctx, f.vet.VetID, date("2026-03-09"), clock("11:00"), clock("10:00"))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestFreeSlots(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	f.addAppointment("2026-03-09", "09:30", "10:15", StatusConfirmed)
	ctx := context.Background()

	free, err := f.svc.FreeSlots(ctx, f.vet.VetID, date("2026-03-09"), 30)
	require.NoError(t, err)

	var starts []string
	for _, s := range free {
		starts = append(starts, s.StartTime.HHMM())
		assert.Equal(t, 30, s.DurationMinutes)
		assert.Equal(t, Monday, s.DayOfWeek)
		assert.False(t, s.StartTime < clock("13:00") && s.EndTime > clock("12:00"), "slot %s overlaps the break", s.StartTime)
		assert.False(t, s.StartTime < clock("10:15") && s.EndTime > clock("09:30"), "slot %s overlaps the booking", s.StartTime)
	}
	assert.Equal(t, []string{
		"09:00", "10:30", "11:00", "11:30",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00", "16:30",
	}, starts)
}

func TestFreeSlots_CountsPendingRequests(t *testing.T) {
	f := newFixture()
	f.addSlot(Monday, "09:00", "11:00", false)
	f.addAppointment("2026-03-09", "09:15", "09:45", StatusRequested)
	f.addAppointment("2026-03-09", "09:30", "10:00", StatusRequested)
	f.addAppointment("2026-03-09", "10:30", "11:00", StatusConfirmed)
	f.addAppointment("2026-03-09", "10:00", "10:30", StatusCancelled)

	free, err := f.svc.FreeSlots(context.Background(), f.vet.VetID, date("2026-03-09"), 30)
	require.NoError(t, err)

	pending := map[string]int{}
	for _, s := range free {
		pending[s.StartTime.HHMM()] = s.PendingRequests
	}
	assert.Equal(t, map[string]int{"09:00": 1, "09:30": 2, "10:00": 0}, pending)
}

func TestFreeSlots_DefaultsAndLimits(t *testing.T) {
	f := newFixture()
	f.addSlot(Monday, "09:00", "10:00", false)
	ctx := context.Background()

	free, err := f.svc.FreeSlots(ctx, f.vet.VetID, date("2026-03-09"), 0)
	require.NoError(t, err)
	assert.Len(t, free, 4)

	for _, size := range []int{4, 241, -15} {
		_, err := f.svc.FreeSlots(ctx, f.vet.VetID, date("2026-03-09"), size)
		assert.ErrorIs(t, err, ErrInvalidRange, "size %d", size)
	}
}

func TestFreeSlots_DedupesOverlappingWorkSlots(t *testing.T) {
	f := newFixture()
	f.addSlot(Monday, "09:00", "11:00", false)
	f.addSlot(Monday, "10:00", "12:00", false)

	free, err := f.svc.FreeSlots(context.Background(), f.vet.VetID, date("2026-03-09"), 60)
	require.NoError(t, err)
	require.Len(t, free, 3)
	assert.Equal(t, clock("09:00"), free[0].StartTime)
	assert.Equal(t, clock("10:00"), free[1].StartTime)
	assert.Equal(t, clock("11:00"), free[2].StartTime)
}

func TestFreeSlots_Holiday(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	ctx := context.Background()
	_, err := f.svc.CreateHoliday(ctx, f.vet, HolidayInput{StartDate: date("2026-03-09"), EndDate: date("2026-03-09")})
	require.NoError(t, err)

	free, err := f.svc.FreeSlots(ctx, f.vet.VetID, date("2026-03-09"), 15)
	require.NoError(t, err)
	assert.NotNil(t, free)
	assert.Empty(t, free)
}

// -- Appointment state machine --

func TestScheduleAppointment(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	ctx := context.Background()

	a, err := f.svc.ScheduleAppointment(ctx, f.vet, f.input("2026-03-09", "10:00", "10:30"))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, a.Status)
	assert.Equal(t, f.vet.VetID, a.VetID)

	evts := f.events.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.AppointmentConfirmed, evts[0].Type)
	assert.Equal(t, f.client.ClientID.String(), evts[0].Data["recipient"])
	assert.Equal(t, "10:00", evts[0].Data["start_time"])

	_, err = f.svc.ScheduleAppointment(ctx, f.vet, f.input("2026-03-09", "10:15", "10:45"))
	assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)
	_, err = f.svc.ScheduleAppointment(ctx, f.vet, f.input("2026-03-09", "12:00", "12:30"))
	assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)
	assert.Equal(t, []string{reasonBooked, reasonBreak}, f.observer.rejections)
}

func TestScheduleAppointment_VideoMeeting(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	in := f.input("2026-03-09", "10:00", "10:30")
	in.IsVideo = true

	a, err := f.svc.ScheduleAppointment(context.Background(), f.vet, in)
	require.NoError(t, err)
	require.NotNil(t, a.MeetingID)
	require.NotNil(t, a.MeetingURL)
	assert.Equal(t, "vetcare-"+a.ID.String(), *a.MeetingID)
	assert.Equal(t, "https://meet.example.com/vetcare-"+a.ID.String(), *a.MeetingURL)
}

func TestRequestAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	in := f.input("2026-03-10", "10:00", "10:30")
	in.ClientID = uuid.New()
	in.Type = ""

	a, err := f.svc.RequestAppointment(ctx, f.client, in)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, a.Status)
	assert.Equal(t, f.client.ClientID, a.ClientID, "client id comes from the actor")
	assert.Equal(t, "checkup", a.Type)
	assert.Empty(t, f.events.Events())

	_, err = f.svc.RequestAppointment(ctx, f.vet, in)
	assert.ErrorIs(t, err, ErrForbidden)

	bad := in
	bad.Type = "haircut"
	_, err = f.svc.RequestAppointment(ctx, f.client, bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad = in
	bad.PetID = uuid.Nil
	_, err = f.svc.RequestAppointment(ctx, f.client, bad)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAccept(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	ctx := context.Background()
	a := f.addAppointment("2026-03-09", "10:00", "10:30", StatusRequested)

	got, err := f.svc.Accept(ctx, f.vet, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, StatusConfirmed, f.appts.status(a.ID))
	assert.Equal(t, []string{"requested->confirmed"}, f.observer.transitions)

	_, err = f.svc.Accept(ctx, f.vet, a.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAccept_Rejections(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	ctx := context.Background()

	t.Run("other vet", func(t *testing.T) {
		a := f.addAppointment("2026-03-09", "10:00", "10:30", StatusRequested)
		_, err := f.svc.Accept(ctx, f.otherVet, a.ID)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := f.svc.Accept(ctx, f.vet, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("slot taken", func(t *testing.T) {
		f.addAppointment("2026-03-09", "14:00", "15:00", StatusConfirmed)
		a := f.addAppointment("2026-03-09", "14:30", "15:00", StatusRequested)
		_, err := f.svc.Accept(ctx, f.vet, a.ID)
		assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)
		assert.Equal(t, StatusRequested, f.appts.status(a.ID))
	})

	t.Run("outside template", func(t *testing.T) {
		a := f.addAppointment("2026-03-10", "10:00", "10:30", StatusRequested)
		_, err := f.svc.Accept(ctx, f.vet, a.ID)
		assert.ErrorIs(t, err, ErrSlotNoLongerAvailable)
	})

	t.Run("cancelled", func(t *testing.T) {
		a := f.addAppointment("2026-03-09", "11:00", "11:30", StatusCancelled)
		_, err := f.svc.Accept(ctx, f.vet, a.ID)
		assert.ErrorIs(t, err, ErrAlreadyTerminal)
	})
}

func TestAccept_ConcurrentOverlappingRequests(t *testing.T) {
	f := newFixture()
	f.mondayTemplate()
	ctx := context.Background()
	a := f.addAppointment("2026-03-09", "10:00", "10:30", StatusRequested)
	b := f.addAppointment("2026-03-09", "10:15", "10:45", StatusRequested)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Accept(ctx, f.vet, id)
		}(i, id)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotNoLongerAvailable):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	confirmed := 0
	for _, id := range []uuid.UUID{a.ID, b.ID} {
		if f.appts.status(id) == StatusConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
}

func TestDecline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-09", "10:00", "10:30", StatusRequested)
	reason := "fully booked"

	got, err := f.svc.Decline(ctx, f.vet, a.ID, &reason)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.CancellationReason)
	assert.Equal(t, reason, *got.CancellationReason)

	evts := f.events.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.AppointmentDeclined, evts[0].Type)
	assert.Equal(t, reason, evts[0].Data["reason"])

	_, err = f.svc.Decline(ctx, f.vet, a.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	confirmed := f.addAppointment("2026-03-09", "11:00", "11:30", StatusConfirmed)
	_, err = f.svc.Decline(ctx, f.vet, confirmed.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-09", "10:00", "10:30", StatusConfirmed)

	got, err := f.svc.Cancel(ctx, f.client, a.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	require.Len(t, f.events.Events(), 1)

	_, err = f.svc.Cancel(ctx, f.client, a.ID, nil)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, StatusCancelled, f.appts.status(a.ID))
	assert.Empty(t, f.events.Events())
	assert.Equal(t, []string{"confirmed->cancelled"}, f.observer.transitions)
}

func TestCancel_Access(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-09", "10:00", "10:30", StatusRequested)

	stranger := Actor{UserID: "someone", ClientID: uuid.New()}
	_, err := f.svc.Cancel(ctx, stranger, a.ID, nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Cancel(ctx, f.otherVet, a.ID, nil)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Cancel(ctx, Actor{}, a.ID, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.svc.Cancel(ctx, f.vet, a.ID, nil)
	assert.NoError(t, err)
}

func TestComplete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-02", "10:00", "10:30", StatusConfirmed)
	req := f.addAppointment("2026-03-02", "11:00", "11:30", StatusRequested)

	got, err := f.svc.Complete(ctx, f.vet, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	evts := f.events.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.AppointmentCompleted, evts[0].Type)

	_, err = f.svc.Complete(ctx, f.vet, a.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	_, err = f.svc.Complete(ctx, f.vet, req.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-02", "10:00", "10:30", StatusConfirmed)

	_, err := f.svc.Report(ctx, f.vet, a.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Report(ctx, f.vet, a.ID, "Weight 12kg.")
	require.NoError(t, err)
	got, err := f.svc.Report(ctx, f.vet, a.ID, "Vaccinated.")
	require.NoError(t, err)
	require.NotNil(t, got.Notes)
	assert.Equal(t, "Weight 12kg.\n\nVaccinated.", *got.Notes)
	assert.Equal(t, StatusConfirmed, got.Status)

	cancelled := f.addAppointment("2026-03-02", "11:00", "11:30", StatusCancelled)
	_, err = f.svc.Report(ctx, f.vet, cancelled.ID, "notes")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestCreateConsultation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-02", "10:00", "10:30", StatusConfirmed)
	treatment := "rest"

	c, got, err := f.svc.CreateConsultation(ctx, f.vet, a.ID, ConsultationInput{Diagnosis: "sprain", Treatment: &treatment})
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.AppointmentID)
	assert.Equal(t, "sprain", c.Diagnosis)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, StatusCompleted, f.appts.status(a.ID))

	_, _, err = f.svc.CreateConsultation(ctx, f.vet, a.ID, ConsultationInput{Diagnosis: "again"})
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = f.svc.CreateConsultation(ctx, f.vet, a.ID, ConsultationInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateConsultation_StoreFailureLeavesStatus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-02", "10:00", "10:30", StatusConfirmed)
	f.consults.failNext = errors.New("disk full")

	_, _, err := f.svc.CreateConsultation(ctx, f.vet, a.ID, ConsultationInput{Diagnosis: "sprain"})
	require.Error(t, err)
	assert.Equal(t, StatusConfirmed, f.appts.status(a.ID))
	assert.Empty(t, f.events.Events())
}

func TestGetAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-02", "10:00", "10:30", StatusConfirmed)

	got, err := f.svc.GetAppointment(ctx, f.client, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = f.svc.GetAppointment(ctx, f.otherVet, a.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetAppointment(ctx, f.vet, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAppointment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addAppointment("2026-03-02", "10:00", "10:30", StatusConfirmed)

	assert.ErrorIs(t, f.svc.Delete(ctx, f.client, a.ID), ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, f.vet, a.ID))
	_, err := f.svc.GetAppointment(ctx, f.vet, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAppointments(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addAppointment("2026-03-03", "10:00", "10:30", StatusConfirmed)
	f.addAppointment("2026-03-02", "11:00", "11:30", StatusRequested)
	f.addAppointment("2026-03-02", "09:00", "09:30", StatusCancelled)

	list, total, err := f.svc.ListAppointments(ctx, f.vet, LedgerFilter{VetID: f.vet.VetID, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, clock("11:00"), list[0].StartTime)

	_, total, err = f.svc.ListAppointments(ctx, f.vet, LedgerFilter{VetID: f.vet.VetID, IncludeCancelled: true})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, _, err = f.svc.ListAppointments(ctx, f.vet, LedgerFilter{VetID: f.otherVet.VetID})
	assert.ErrorIs(t, err, ErrForbidden)

	from, to := date("2026-03-05"), date("2026-03-01")
	_, _, err = f.svc.ListAppointments(ctx, f.vet, LedgerFilter{VetID: f.vet.VetID, From: &from, To: &to})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     error
	}{
		{StatusRequested, StatusConfirmed, nil},
		{StatusRequested, StatusCancelled, nil},
		{StatusRequested, StatusCompleted, ErrInvalidTransition},
		{StatusConfirmed, StatusCompleted, nil},
		{StatusConfirmed, StatusCancelled, nil},
		{StatusConfirmed, StatusRequested, ErrInvalidTransition},
		{StatusCompleted, StatusCancelled, ErrAlreadyTerminal},
		{StatusCancelled, StatusConfirmed, ErrAlreadyTerminal},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := checkTransition(tt.from, tt.to)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDayLockKey(t *testing.T) {
	id := uuid.MustParse("6f1c1a52-7d7e-4a43-9a51-3c1f3d1c2b10")
	assert.Equal(t, "vet:6f1c1a52-7d7e-4a43-9a51-3c1f3d1c2b10:date:2026-03-09", dayLockKey(id, date("2026-03-09")))
}
