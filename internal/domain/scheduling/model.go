package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vetcare/vetcare/pkg/timerange"
)

// Weekday is a lowercase English day name.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

// Weekdays lists the days Monday first.
var Weekdays = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// ParseWeekday accepts any casing of a day name.
func ParseWeekday(s string) (Weekday, error) {
	d := Weekday(strings.ToLower(strings.TrimSpace(s)))
	if d.Valid() {
		return d, nil
	}
	return "", fmt.Errorf("invalid day_of_week: %q", s)
}

// WeekdayOf returns the day name of the calendar date of t.
func WeekdayOf(t time.Time) Weekday {
	return Weekdays[(int(t.Weekday())+6)%7]
}

func (d Weekday) Valid() bool {
	return d.index() >= 0
}

func (d Weekday) index() int {
	for i, w := range Weekdays {
		if w == d {
			return i
		}
	}
	return -1
}

// Title returns the capitalised name, e.g. "Monday".
func (d Weekday) Title() string {
	if d == "" {
		return ""
	}
	return strings.ToUpper(string(d[:1])) + string(d[1:])
}

// Status is an appointment lifecycle state.
type Status string

const (
	StatusRequested Status = "requested"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Blocks reports whether an appointment in this state occupies the calendar.
// Requested appointments are provisional and never block one another.
func (s Status) Blocks() bool {
	return s == StatusConfirmed || s == StatusCompleted
}

// BlockingStatuses are the statuses that count as booking conflicts.
var BlockingStatuses = []Status{StatusConfirmed, StatusCompleted}

var validAppointmentTypes = map[string]bool{
	"checkup": true, "vaccination": true, "surgery": true, "dental": true,
	"grooming": true, "emergency": true, "follow_up": true, "consultation": true,
}

// WeeklySlot is a recurring availability interval. Break slots mark time
// inside working hours that must never be booked.
type WeeklySlot struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	VetID     uuid.UUID       `db:"vet_id" json:"vet_id"`
	DayOfWeek Weekday         `db:"day_of_week" json:"day_of_week"`
	StartTime timerange.Clock `db:"start_time" json:"start_time"`
	EndTime   timerange.Clock `db:"end_time" json:"end_time"`
	IsBreak   bool            `db:"is_break" json:"is_break"`
	Note      *string         `db:"note" json:"note,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Holiday blocks every booking for a vet between two dates, inclusive.
type Holiday struct {
	ID        uuid.UUID `db:"id" json:"id"`
	VetID     uuid.UUID `db:"vet_id" json:"vet_id"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	Reason    *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Covers reports whether the calendar date of d falls inside the holiday.
func (h *Holiday) Covers(d time.Time) bool {
	return timerange.DateWithin(d, h.StartDate, h.EndDate)
}

// Appointment is an entry in the booking ledger.
type Appointment struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	VetID              uuid.UUID       `db:"vet_id" json:"vet_id"`
	ClientID           uuid.UUID       `db:"client_id" json:"client_id"`
	PetID              uuid.UUID       `db:"pet_id" json:"pet_id"`
	Date               time.Time       `db:"appointment_date" json:"appointment_date"`
	StartTime          timerange.Clock `db:"start_time" json:"start_time"`
	EndTime            timerange.Clock `db:"end_time" json:"end_time"`
	Status             Status          `db:"status" json:"status"`
	Type               string          `db:"appointment_type" json:"appointment_type"`
	Reason             string          `db:"reason" json:"reason"`
	Notes              *string         `db:"notes" json:"notes,omitempty"`
	IsVideo            bool            `db:"is_video" json:"is_video"`
	MeetingID          *string         `db:"meeting_id" json:"meeting_id,omitempty"`
	MeetingURL         *string         `db:"meeting_url" json:"meeting_url,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// DurationMinutes is the booked length of the appointment.
func (a *Appointment) DurationMinutes() int {
	m, _ := timerange.DurationMinutes(a.StartTime, a.EndTime)
	return m
}

// Consultation records the outcome of a visit. An appointment has at most one.
type Consultation struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	VetID         uuid.UUID `db:"vet_id" json:"vet_id"`
	PetID         uuid.UUID `db:"pet_id" json:"pet_id"`
	Diagnosis     string    `db:"diagnosis" json:"diagnosis"`
	Treatment     *string   `db:"treatment" json:"treatment,omitempty"`
	Notes         *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// LedgerFilter selects appointments for a vet. Date narrows to one day;
// From/To bound an inclusive date window.
type LedgerFilter struct {
	VetID            uuid.UUID
	Date             *time.Time
	From             *time.Time
	To               *time.Time
	IncludeCancelled bool
	BlockingOnly     bool
	Limit            int
	Offset           int
}

// Actor is the authenticated caller. VetID or ClientID is set when the user
// is linked to a veterinarian or client record.
type Actor struct {
	UserID   string
	VetID    uuid.UUID
	ClientID uuid.UUID
}

func (a Actor) Authenticated() bool { return a.UserID != "" }
func (a Actor) IsVet() bool         { return a.VetID != uuid.Nil }
func (a Actor) IsClient() bool      { return a.ClientID != uuid.Nil }

// FreeSlot is a bookable chunk of a vet's day. PendingRequests counts
// requested appointments overlapping it; they do not block the chunk, but
// only one of them can be accepted.
type FreeSlot struct {
	Date            time.Time       `json:"date"`
	DayOfWeek       Weekday         `json:"day_of_week"`
	StartTime       timerange.Clock `json:"start_time"`
	EndTime         timerange.Clock `json:"end_time"`
	DurationMinutes int             `json:"duration_minutes"`
	PendingRequests int             `json:"pending_requests"`
}

// HourBucket counts work slots starting within one hour of the day.
type HourBucket struct {
	Hour      int    `json:"hour"`
	EndHour   int    `json:"end_hour"`
	SlotCount int    `json:"slot_count"`
	Label     string `json:"label"`
}

// DayAvailability is the total work time configured for one weekday.
type DayAvailability struct {
	Day     Weekday `json:"day"`
	Name    string  `json:"name"`
	Hours   float64 `json:"hours"`
	Minutes int     `json:"minutes"`
}

// WeeklyStats summarises a vet's weekly template. Break slots are excluded.
type WeeklyStats struct {
	WeekStart        time.Time        `json:"week_start"`
	WeekEnd          time.Time        `json:"week_end"`
	TotalSlots       int              `json:"total_slots"`
	TotalMinutes     int              `json:"total_minutes"`
	TotalHours       float64          `json:"total_hours"`
	WeekCoverage     int              `json:"week_coverage"`
	PeakHours        *HourBucket      `json:"peak_hours"`
	LeastBusyHours   *HourBucket      `json:"least_busy_hours"`
	DailyAverage     float64          `json:"daily_average"`
	MostAvailableDay *DayAvailability `json:"most_available_day"`
}

// DaySchedule is one day of the week overview.
type DaySchedule struct {
	DayOfWeek Weekday       `json:"day_of_week"`
	Date      time.Time     `json:"date"`
	Slots     []*WeeklySlot `json:"slots"`
}

// WeekOverview is the current week's template laid out on calendar dates.
type WeekOverview struct {
	WeekStart time.Time     `json:"week_start"`
	WeekEnd   time.Time     `json:"week_end"`
	Days      []DaySchedule `json:"days"`
	Stats     *WeeklyStats  `json:"statistics"`
}
