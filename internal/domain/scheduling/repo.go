package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/pkg/timerange"
)

// Repositories return ErrNotFound for missing rows.

type WeeklySlotRepository interface {
	Create(ctx context.Context, s *WeeklySlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*WeeklySlot, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByVet returns slots ordered by day then start time. A nil day
	// returns the whole week.
	ListByVet(ctx context.Context, vetID uuid.UUID, day *Weekday) ([]*WeeklySlot, error)
}

type HolidayRepository interface {
	Create(ctx context.Context, h *Holiday) error
	GetByID(ctx context.Context, id uuid.UUID) (*Holiday, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByVet returns holidays intersecting [from, to]; nil bounds are open.
	ListByVet(ctx context.Context, vetID uuid.UUID, from, to *time.Time) ([]*Holiday, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error
	// TransitionStatus moves an appointment from one status to another only if
	// it is still in from. It returns ErrConflict when the row was not in from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, cancellationReason *string) error
	List(ctx context.Context, f LedgerFilter) ([]*Appointment, int, error)
	HasConflict(ctx context.Context, vetID uuid.UUID, date time.Time, start, end timerange.Clock, exclude *uuid.UUID) (bool, error)
}

type ConsultationRepository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error)
}

// TxRunner runs fn in a single database transaction carried by ctx.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
