package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/internal/platform/events"
	"github.com/vetcare/vetcare/pkg/timerange"
)

// AppointmentInput carries the fields of a new appointment. VetID is taken
// from the actor on direct scheduling and ClientID on client requests.
type AppointmentInput struct {
	VetID     uuid.UUID
	ClientID  uuid.UUID
	PetID     uuid.UUID
	Date      time.Time
	StartTime timerange.Clock
	EndTime   timerange.Clock
	Type      string
	Reason    string
	Notes     *string
	IsVideo   bool
}

type ConsultationInput struct {
	Diagnosis string
	Treatment *string
	Notes     *string
}

// transitions lists the allowed moves out of each non-terminal status.
var transitions = map[Status][]Status{
	StatusRequested: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func checkTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: appointment is %s", ErrAlreadyTerminal, from)
	}
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

func (s *Service) newAppointment(in AppointmentInput, status Status) (*Appointment, error) {
	if in.VetID == uuid.Nil || in.ClientID == uuid.Nil || in.PetID == uuid.Nil {
		return nil, fmt.Errorf("%w: vet, client and pet are required", ErrInvalidInput)
	}
	if in.Date.IsZero() {
		return nil, fmt.Errorf("%w: appointment_date is required", ErrInvalidInput)
	}
	if _, err := timerange.DurationMinutes(in.StartTime, in.EndTime); err != nil {
		return nil, err
	}
	typ := strings.ToLower(strings.TrimSpace(in.Type))
	if typ == "" {
		typ = "checkup"
	}
	if !validAppointmentTypes[typ] {
		return nil, fmt.Errorf("%w: unknown appointment_type %q", ErrInvalidInput, in.Type)
	}

	now := s.now()
	a := &Appointment{
		ID:        uuid.New(),
		VetID:     in.VetID,
		ClientID:  in.ClientID,
		PetID:     in.PetID,
		Date:      s.dateOf(in.Date),
		StartTime: in.StartTime,
		EndTime:   in.EndTime,
		Status:    status,
		Type:      typ,
		Reason:    strings.TrimSpace(in.Reason),
		Notes:     in.Notes,
		IsVideo:   in.IsVideo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.IsVideo {
		meetingID := "vetcare-" + a.ID.String()
		url := strings.TrimRight(s.cfg.MeetingBaseURL, "/") + "/" + meetingID
		a.MeetingID, a.MeetingURL = &meetingID, &url
	}
	return a, nil
}

// RequestAppointment records a client's provisional request. The slot is not
// checked here; Accept is the gate.
func (s *Service) RequestAppointment(ctx context.Context, actor Actor, in AppointmentInput) (*Appointment, error) {
	if err := requireClient(actor); err != nil {
		return nil, err
	}
	in.ClientID = actor.ClientID
	a, err := s.newAppointment(in, StatusRequested)
	if err != nil {
		return nil, err
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return a, nil
}

// ScheduleAppointment books a confirmed appointment directly on the acting
// vet's calendar.
func (s *Service) ScheduleAppointment(ctx context.Context, actor Actor, in AppointmentInput) (*Appointment, error) {
	if err := requireVet(actor); err != nil {
		return nil, err
	}
	in.VetID = actor.VetID
	a, err := s.newAppointment(in, StatusConfirmed)
	if err != nil {
		return nil, err
	}

	err = s.withDayLock(ctx, a.VetID, a.Date, func(ctx context.Context) error {
		reason, err := s.bookability(ctx, a.VetID, a.Date, a.StartTime, a.EndTime, nil)
		if err != nil {
			return err
		}
		if reason != "" {
			s.observer.BookingRejected(reason)
			return fmt.Errorf("%w: %s", ErrSlotNoLongerAvailable, reason)
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.observer.TransitionApplied("", string(StatusConfirmed))
	s.publish(ctx, events.AppointmentConfirmed, a)
	return a, nil
}

// GetAppointment returns an appointment to its vet or client.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if !actor.Authenticated() {
		return nil, ErrUnauthenticated
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !participant(actor, a) {
		return nil, fmt.Errorf("%w: not a participant of this appointment", ErrForbidden)
	}
	return a, nil
}

// Accept confirms a requested appointment after re-validating its slot under
// the vet's day lock.
func (s *Service) Accept(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.ownedByVet(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(a.Status, StatusConfirmed); err != nil {
		return nil, err
	}

	err = s.withDayLock(ctx, a.VetID, a.Date, func(ctx context.Context) error {
		cur, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := checkTransition(cur.Status, StatusConfirmed); err != nil {
			return err
		}
		reason, err := s.bookability(ctx, cur.VetID, cur.Date, cur.StartTime, cur.EndTime, &cur.ID)
		if err != nil {
			return err
		}
		if reason != "" {
			s.observer.BookingRejected(reason)
			return fmt.Errorf("%w: %s", ErrSlotNoLongerAvailable, reason)
		}
		if err := s.appointments.TransitionStatus(ctx, id, StatusRequested, StatusConfirmed, nil); err != nil {
			return s.lostRace(ctx, id, err)
		}
		a = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.applied(a, StatusConfirmed, nil)
	s.publish(ctx, events.AppointmentConfirmed, a)
	return a, nil
}

// Decline turns down a requested appointment.
func (s *Service) Decline(ctx context.Context, actor Actor, id uuid.UUID, reason *string) (*Appointment, error) {
	a, err := s.ownedByVet(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrAlreadyTerminal, a.Status)
	}
	if a.Status != StatusRequested {
		return nil, fmt.Errorf("%w: only requested appointments can be declined", ErrInvalidTransition)
	}
	if err := s.transition(ctx, a, StatusCancelled, reason); err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentDeclined, a)
	return a, nil
}

// Report appends visit notes without changing the status.
func (s *Service) Report(ctx context.Context, actor Actor, id uuid.UUID, notes string) (*Appointment, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fmt.Errorf("%w: notes are required", ErrInvalidInput)
	}
	a, err := s.ownedByVet(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCancelled {
		return nil, fmt.Errorf("%w: appointment is cancelled", ErrAlreadyTerminal)
	}

	merged := notes
	if a.Notes != nil && *a.Notes != "" {
		merged = *a.Notes + "\n\n" + notes
	}
	if err := s.appointments.UpdateNotes(ctx, id, merged); err != nil {
		return nil, fmt.Errorf("update notes: %w", err)
	}
	a.Notes = &merged
	a.UpdatedAt = s.now()
	return a, nil
}

// Complete closes a confirmed appointment.
func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.ownedByVet(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(a.Status, StatusCompleted); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, a, StatusCompleted, nil); err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentCompleted, a)
	return a, nil
}

// CreateConsultation records the visit outcome and completes the appointment
// in one transaction.
func (s *Service) CreateConsultation(ctx context.Context, actor Actor, id uuid.UUID, in ConsultationInput) (*Consultation, *Appointment, error) {
	if strings.TrimSpace(in.Diagnosis) == "" {
		return nil, nil, fmt.Errorf("%w: diagnosis is required", ErrInvalidInput)
	}
	a, err := s.ownedByVet(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.consultations.GetByAppointment(ctx, id)
	switch {
	case err == nil && existing != nil:
		return nil, nil, fmt.Errorf("%w: appointment already has a consultation", ErrConflict)
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, nil, fmt.Errorf("get consultation: %w", err)
	}
	if err := checkTransition(a.Status, StatusCompleted); err != nil {
		return nil, nil, err
	}

	c := &Consultation{
		ID:            uuid.New(),
		AppointmentID: a.ID,
		VetID:         a.VetID,
		PetID:         a.PetID,
		Diagnosis:     strings.TrimSpace(in.Diagnosis),
		Treatment:     in.Treatment,
		Notes:         in.Notes,
		CreatedAt:     s.now(),
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.consultations.Create(ctx, c); err != nil {
			return fmt.Errorf("create consultation: %w", err)
		}
		if err := s.appointments.TransitionStatus(ctx, a.ID, a.Status, StatusCompleted, nil); err != nil {
			return s.lostRace(ctx, a.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.applied(a, StatusCompleted, nil)
	s.publish(ctx, events.AppointmentCompleted, a)
	return c, a, nil
}

// Cancel is open to the appointment's vet and client.
func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason *string) (*Appointment, error) {
	a, err := s.GetAppointment(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(a.Status, StatusCancelled); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, a, StatusCancelled, reason); err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentCancelled, a)
	return a, nil
}

// Delete removes an appointment from the ledger.
func (s *Service) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	if _, err := s.ownedByVet(ctx, actor, id); err != nil {
		return err
	}
	return s.appointments.Delete(ctx, id)
}

// ---------- Helpers ----------

func participant(actor Actor, a *Appointment) bool {
	return (actor.IsVet() && a.VetID == actor.VetID) || (actor.IsClient() && a.ClientID == actor.ClientID)
}

func (s *Service) ownedByVet(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	if err := requireVet(actor); err != nil {
		return nil, err
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.VetID != actor.VetID {
		return nil, fmt.Errorf("%w: appointment belongs to another veterinarian", ErrForbidden)
	}
	return a, nil
}

// transition writes a status change with compare-and-set on the current status.
func (s *Service) transition(ctx context.Context, a *Appointment, to Status, reason *string) error {
	if err := s.appointments.TransitionStatus(ctx, a.ID, a.Status, to, reason); err != nil {
		return s.lostRace(ctx, a.ID, err)
	}
	s.applied(a, to, reason)
	return nil
}

func (s *Service) applied(a *Appointment, to Status, reason *string) {
	s.observer.TransitionApplied(string(a.Status), string(to))
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	a.UpdatedAt = s.now()
}

// lostRace explains a failed compare-and-set by re-reading the row.
func (s *Service) lostRace(ctx context.Context, id uuid.UUID, err error) error {
	if !errors.Is(err, ErrConflict) {
		return fmt.Errorf("update status: %w", err)
	}
	cur, gerr := s.appointments.GetByID(ctx, id)
	if gerr != nil {
		return gerr
	}
	if cur.Status.Terminal() {
		return fmt.Errorf("%w: appointment is %s", ErrAlreadyTerminal, cur.Status)
	}
	return fmt.Errorf("%w: appointment changed concurrently", ErrConflict)
}

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	data := map[string]string{
		"appointment_id": a.ID.String(),
		"vet_id":         a.VetID.String(),
		"client_id":      a.ClientID.String(),
		"pet_id":         a.PetID.String(),
		"recipient":      a.ClientID.String(),
		"status":         string(a.Status),
		"date":           a.Date.Format(timerange.DateLayout),
		"start_time":     a.StartTime.HHMM(),
		"end_time":       a.EndTime.HHMM(),
		"type":           a.Type,
	}
	if r := optional(a.CancellationReason); r != "" {
		data["reason"] = r
	}
	if u := optional(a.MeetingURL); u != "" {
		data["meeting_url"] = u
	}
	s.events.Publish(context.WithoutCancel(ctx), events.New(eventType, a.ID.String(), data))
}
