package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/pkg/timerange"
)

type AccessStatus string

const (
	AccessTooEarly  AccessStatus = "too_early"
	AccessOK        AccessStatus = "ok"
	AccessTooLate   AccessStatus = "too_late"
	AccessCancelled AccessStatus = "cancelled"
)

// MeetingAccess tells a participant whether they may join the video call now.
type MeetingAccess struct {
	CanAccess           bool         `json:"can_access"`
	Status              AccessStatus `json:"status"`
	Message             string       `json:"message"`
	VideoJoinURL        string       `json:"video_join_url,omitempty"`
	AppointmentDateTime time.Time    `json:"appointment_datetime"`
	WindowOpensAt       time.Time    `json:"window_opens_at"`
	WindowClosesAt      time.Time    `json:"window_closes_at"`
}

// CanAccessMeeting evaluates the join window [start-graceBefore, start+graceAfter].
// Both bounds are inclusive.
func CanAccessMeeting(start time.Time, graceBefore, graceAfter time.Duration, now time.Time) MeetingAccess {
	m := MeetingAccess{
		AppointmentDateTime: start,
		WindowOpensAt:       start.Add(-graceBefore),
		WindowClosesAt:      start.Add(graceAfter),
	}
	switch {
	case now.Before(m.WindowOpensAt):
		m.Status = AccessTooEarly
		m.Message = fmt.Sprintf("The meeting opens %d minutes before the appointment, at %s.",
			int(graceBefore.Minutes()), m.WindowOpensAt.Format("15:04"))
	case now.After(m.WindowClosesAt):
		m.Status = AccessTooLate
		m.Message = "The meeting window has closed."
	default:
		m.CanAccess = true
		m.Status = AccessOK
		m.Message = "You can join the meeting now."
	}
	return m
}

// MeetingAccess checks the join window of a video appointment for one of its
// participants.
func (s *Service) MeetingAccess(ctx context.Context, actor Actor, id uuid.UUID) (*MeetingAccess, error) {
	a, err := s.GetAppointment(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !a.IsVideo || a.MeetingURL == nil {
		return nil, fmt.Errorf("%w: appointment has no video meeting", ErrNotFound)
	}

	start := timerange.On(a.Date, a.StartTime, s.cfg.Location)
	graceAfter := s.cfg.MeetingDefaultDuration
	if m := a.DurationMinutes(); m > 0 {
		graceAfter = time.Duration(m) * time.Minute
	}

	if a.Status == StatusCancelled {
		return &MeetingAccess{
			Status:              AccessCancelled,
			Message:             "The appointment was cancelled.",
			AppointmentDateTime: start,
			WindowOpensAt:       start.Add(-s.cfg.MeetingGraceBefore),
			WindowClosesAt:      start.Add(graceAfter),
		}, nil
	}

	m := CanAccessMeeting(start, s.cfg.MeetingGraceBefore, graceAfter, s.now())
	if m.CanAccess {
		m.VideoJoinURL = *a.MeetingURL
	}
	return &m, nil
}
