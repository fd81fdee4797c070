package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/internal/platform/events"
	"github.com/vetcare/vetcare/internal/platform/lock"
	"github.com/vetcare/vetcare/pkg/timerange"
)

const (
	DefaultSlotMinutes            = 15
	DefaultMeetingGraceBefore     = 15 * time.Minute
	DefaultMeetingDefaultDuration = 30 * time.Minute
)

// Config holds the clinic-level scheduling settings.
type Config struct {
	// Location is the clinic timezone; dates and clock times are local to it.
	Location *time.Location
	// StrictWeeklyOverlap rejects a weekly slot that overlaps another slot of
	// the same kind on the same day.
	StrictWeeklyOverlap    bool
	MeetingBaseURL         string
	MeetingGraceBefore     time.Duration
	MeetingDefaultDuration time.Duration
	Now                    func() time.Time
}

// Observer receives booking outcomes, e.g. for metrics.
type Observer interface {
	TransitionApplied(from, to string)
	BookingRejected(reason string)
}

type nopObserver struct{}

func (nopObserver) TransitionApplied(string, string) {}
func (nopObserver) BookingRejected(string)           {}

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Service struct {
	slots         WeeklySlotRepository
	holidays      HolidayRepository
	appointments  AppointmentRepository
	consultations ConsultationRepository
	locker        lock.Locker
	tx            TxRunner
	events        events.Publisher
	observer      Observer
	cfg           Config
}

type Option func(*Service)

func WithTxRunner(tx TxRunner) Option          { return func(s *Service) { s.tx = tx } }
func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.events = p } }
func WithObserver(o Observer) Option           { return func(s *Service) { s.observer = o } }

func NewService(slots WeeklySlotRepository, holidays HolidayRepository, appts AppointmentRepository,
	consults ConsultationRepository, locker lock.Locker, cfg Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MeetingGraceBefore <= 0 {
		cfg.MeetingGraceBefore = DefaultMeetingGraceBefore
	}
	if cfg.MeetingDefaultDuration <= 0 {
		cfg.MeetingDefaultDuration = DefaultMeetingDefaultDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		slots:         slots,
		holidays:      holidays,
		appointments:  appts,
		consultations: consults,
		locker:        locker,
		tx:            directTx{},
		events:        events.Nop{},
		observer:      nopObserver{},
		cfg:           cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the clinic timezone.
func (s *Service) Location() *time.Location { return s.cfg.Location }

func (s *Service) now() time.Time { return s.cfg.Now().In(s.cfg.Location) }

// Today is the current calendar date in the clinic timezone.
func (s *Service) Today() time.Time { return timerange.DateOf(s.now()) }

// dateOf reinterprets the calendar date of t as midnight in the clinic timezone.
func (s *Service) dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
}

// ---------- Helpers ----------

func requireVet(actor Actor) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	if !actor.IsVet() {
		return fmt.Errorf("%w: acting user is not a veterinarian", ErrForbidden)
	}
	return nil
}

func requireClient(actor Actor) error {
	if !actor.Authenticated() {
		return ErrUnauthenticated
	}
	if !actor.IsClient() {
		return fmt.Errorf("%w: acting user is not a client", ErrForbidden)
	}
	return nil
}

func dayLockKey(vetID uuid.UUID, date time.Time) string {
	return "vet:" + vetID.String() + ":date:" + date.Format(timerange.DateLayout)
}

// withDayLock serialises booking writes for one vet and calendar day.
func (s *Service) withDayLock(ctx context.Context, vetID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, dayLockKey(vetID, date), func(ctx context.Context) error {
		return s.tx.InTx(ctx, fn)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return fmt.Errorf("%w: calendar is busy, retry: %w", ErrConflict, err)
	}
	return err
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
