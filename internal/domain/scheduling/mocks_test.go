package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/internal/platform/events"
	"github.com/vetcare/vetcare/internal/platform/lock"
	"github.com/vetcare/vetcare/pkg/timerange"
)

// -- In-memory repositories --

type memSlotRepo struct {
	mu    sync.Mutex
	slots map[uuid.UUID]WeeklySlot
}

func newMemSlotRepo() *memSlotRepo {
	return &memSlotRepo{slots: make(map[uuid.UUID]WeeklySlot)}
}

func (m *memSlotRepo) Create(_ context.Context, s *WeeklySlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	m.slots[s.ID] = *s
	return nil
}

func (m *memSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*WeeklySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: weekly slot", ErrNotFound)
	}
	return &s, nil
}

func (m *memSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[id]; !ok {
		return fmt.Errorf("%w: weekly slot", ErrNotFound)
	}
	delete(m.slots, id)
	return nil
}

func (m *memSlotRepo) ListByVet(_ context.Context, vetID uuid.UUID, day *Weekday) ([]*WeeklySlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*WeeklySlot{}
	for _, s := range m.slots {
		if s.VetID != vetID || (day != nil && s.DayOfWeek != *day) {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek.index() < out[j].DayOfWeek.index()
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

type memHolidayRepo struct {
	mu       sync.Mutex
	holidays map[uuid.UUID]Holiday
}

func newMemHolidayRepo() *memHolidayRepo {
	return &memHolidayRepo{holidays: make(map[uuid.UUID]Holiday)}
}

func (m *memHolidayRepo) Create(_ context.Context, h *Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.CreatedAt = time.Now()
	m.holidays[h.ID] = *h
	return nil
}

func (m *memHolidayRepo) GetByID(_ context.Context, id uuid.UUID) (*Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holidays[id]
	if !ok {
		return nil, fmt.Errorf("%w: holiday", ErrNotFound)
	}
	return &h, nil
}

func (m *memHolidayRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holidays[id]; !ok {
		return fmt.Errorf("%w: holiday", ErrNotFound)
	}
	delete(m.holidays, id)
	return nil
}

func (m *memHolidayRepo) ListByVet(_ context.Context, vetID uuid.UUID, from, to *time.Time) ([]*Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Holiday{}
	for _, h := range m.holidays {
		if h.VetID != vetID {
			continue
		}
		lo, hi := h.StartDate, h.EndDate
		if from != nil {
			lo = *from
		}
		if to != nil {
			hi = *to
		}
		if !timerange.DatesIntersect(h.StartDate, h.EndDate, lo, hi) {
			continue
		}
		h := h
		out = append(out, &h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

type memAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]Appointment
}

func newMemAppointmentRepo() *memAppointmentRepo {
	return &memAppointmentRepo{appts: make(map[uuid.UUID]Appointment)}
}

func (m *memAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.appts[a.ID] = *a
	return nil
}

func (m *memAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment", ErrNotFound)
	}
	return &a, nil
}

func (m *memAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return fmt.Errorf("%w: appointment", ErrNotFound)
	}
	delete(m.appts, id)
	return nil
}

func (m *memAppointmentRepo) UpdateNotes(_ context.Context, id uuid.UUID, notes string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return fmt.Errorf("%w: appointment", ErrNotFound)
	}
	a.Notes = &notes
	m.appts[id] = a
	return nil
}

func (m *memAppointmentRepo) TransitionStatus(_ context.Context, id uuid.UUID, from, to Status, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return fmt.Errorf("%w: appointment", ErrNotFound)
	}
	if a.Status != from {
		return fmt.Errorf("%w: appointment is no longer %s", ErrConflict, from)
	}
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	m.appts[id] = a
	return nil
}

func (m *memAppointmentRepo) List(_ context.Context, f LedgerFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Appointment{}
	for _, a := range m.appts {
		switch {
		case a.VetID != f.VetID:
			continue
		case f.BlockingOnly && !a.Status.Blocks():
			continue
		case !f.IncludeCancelled && a.Status == StatusCancelled:
			continue
		case f.Date != nil && !timerange.SameDate(a.Date, *f.Date):
			continue
		case f.From != nil && a.Date.Before(*f.From):
			continue
		case f.To != nil && a.Date.After(*f.To):
			continue
		}
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !timerange.SameDate(out[i].Date, out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			out = []*Appointment{}
		} else {
			out = out[f.Offset:]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *memAppointmentRepo) HasConflict(_ context.Context, vetID uuid.UUID, date time.Time, start, end timerange.Clock, exclude *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.VetID != vetID || !a.Status.Blocks() || !timerange.SameDate(a.Date, date) {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if timerange.Overlaps(a.StartTime, a.EndTime, start, end) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAppointmentRepo) status(id uuid.UUID) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appts[id].Status
}

type memConsultationRepo struct {
	mu       sync.Mutex
	byAppt   map[uuid.UUID]Consultation
	failNext error
}

func newMemConsultationRepo() *memConsultationRepo {
	return &memConsultationRepo{byAppt: make(map[uuid.UUID]Consultation)}
}

func (m *memConsultationRepo) Create(_ context.Context, c *Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if _, ok := m.byAppt[c.AppointmentID]; ok {
		return fmt.Errorf("%w: appointment already has a consultation", ErrConflict)
	}
	m.byAppt[c.AppointmentID] = *c
	return nil
}

func (m *memConsultationRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byAppt[appointmentID]
	if !ok {
		return nil, fmt.Errorf("%w: consultation", ErrNotFound)
	}
	return &c, nil
}

// -- Recording collaborators --

type countingObserver struct {
	mu          sync.Mutex
	transitions []string
	rejections  []string
}

func (o *countingObserver) TransitionApplied(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from+"->"+to)
}

func (o *countingObserver) BookingRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejections = append(o.rejections, reason)
}

// -- Fixture --

// testNow is Monday 2026-03-02 08:00 UTC.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	slots    *memSlotRepo
	holidays *memHolidayRepo
	appts    *memAppointmentRepo
	consults *memConsultationRepo
	events   *events.Recorder
	observer *countingObserver

	vet      Actor
	client   Actor
	otherVet Actor
	now      time.Time
}

func newFixture(cfgs ...func(*Config)) *fixture {
	f := &fixture{
		slots:    newMemSlotRepo(),
		holidays: newMemHolidayRepo(),
		appts:    newMemAppointmentRepo(),
		consults: newMemConsultationRepo(),
		events:   events.NewRecorder(64),
		observer: &countingObserver{},
		vet:      Actor{UserID: "vet-user", VetID: uuid.New()},
		client:   Actor{UserID: "client-user", ClientID: uuid.New()},
		otherVet: Actor{UserID: "other-vet", VetID: uuid.New()},
		now:      testNow,
	}
	cfg := Config{
		Location:       time.UTC,
		MeetingBaseURL: "https://meet.example.com/",
		Now:            func() time.Time { return f.now },
	}
	for _, fn := range cfgs {
		fn(&cfg)
	}
	f.svc = NewService(f.slots, f.holidays, f.appts, f.consults, lock.NewLocal(), cfg,
		WithPublisher(f.events), WithObserver(f.observer))
	return f
}

func clock(s string) timerange.Clock { return timerange.MustParseClock(s) }

func date(s string) time.Time {
	d, err := timerange.ParseDate(s, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

// addSlot stores a template slot for the fixture vet directly.
func (f *fixture) addSlot(day Weekday, start, end string, isBreak bool) *WeeklySlot {
	s := &WeeklySlot{VetID: f.vet.VetID, DayOfWeek: day, StartTime: clock(start), EndTime: clock(end), IsBreak: isBreak}
	_ = f.slots.Create(context.Background(), s)
	return s
}

// mondayTemplate is 09:00-17:00 with a 12:00-13:00 break.
func (f *fixture) mondayTemplate() {
	f.addSlot(Monday, "09:00", "17:00", false)
	f.addSlot(Monday, "12:00", "13:00", true)
}

func (f *fixture) addAppointment(d, start, end string, status Status) *Appointment {
	a := &Appointment{
		ID:        uuid.New(),
		VetID:     f.vet.VetID,
		ClientID:  f.client.ClientID,
		PetID:     uuid.New(),
		Date:      date(d),
		StartTime: clock(start),
		EndTime:   clock(end),
		Status:    status,
		Type:      "checkup",
	}
	_ = f.appts.Create(context.Background(), a)
	return a
}

func (f *fixture) input(d, start, end string) AppointmentInput {
	return AppointmentInput{
		VetID:     f.vet.VetID,
		ClientID:  f.client.ClientID,
		PetID:     uuid.New(),
		Date:      date(d),
		StartTime: clock(start),
		EndTime:   clock(end),
		Type:      "checkup",
		Reason:    "annual checkup",
	}
}
