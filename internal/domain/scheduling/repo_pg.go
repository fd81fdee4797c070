package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetcare/vetcare/internal/platform/db"
	"github.com/vetcare/vetcare/pkg/timerange"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// pgConn picks the transaction in ctx, falling back to the pool.
func pgConn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func pgTime(c timerange.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c) * 1_000_000, Valid: true}
}

func clockOf(t pgtype.Time) timerange.Clock {
	return timerange.Clock(t.Microseconds / 1_000_000)
}

func pgDate(t time.Time) pgtype.Date {
	y, m, d := t.Date()
	return pgtype.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

// =========== Weekly Slot Repository ===========

type weeklySlotRepoPG struct{ pool *pgxpool.Pool }

func NewWeeklySlotRepoPG(pool *pgxpool.Pool) WeeklySlotRepository {
	return &weeklySlotRepoPG{pool: pool}
}

const slotCols = `id, vet_id, day_of_week, start_time, end_time, is_break, note, created_at`

func (r *weeklySlotRepoPG) scanSlot(row pgx.Row) (*WeeklySlot, error) {
	var s WeeklySlot
	var start, end pgtype.Time
	if err := row.Scan(&s.ID, &s.VetID, &s.DayOfWeek, &start, &end, &s.IsBreak, &s.Note, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.StartTime, s.EndTime = clockOf(start), clockOf(end)
	return &s, nil
}

func (r *weeklySlotRepoPG) Create(ctx context.Context, s *WeeklySlot) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return pgConn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO weekly_slots (id, vet_id, day_of_week, start_time, end_time, is_break, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		s.ID, s.VetID, s.DayOfWeek, pgTime(s.StartTime), pgTime(s.EndTime), s.IsBreak, s.Note,
	).Scan(&s.CreatedAt)
}

func (r *weeklySlotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*WeeklySlot, error) {
	s, err := r.scanSlot(pgConn(ctx, r.pool).QueryRow(ctx, `SELECT `+slotCols+` FROM weekly_slots WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "weekly slot")
	}
	return s, nil
}

func (r *weeklySlotRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := pgConn(ctx, r.pool).Exec(ctx, `DELETE FROM weekly_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: weekly slot", ErrNotFound)
	}
	return nil
}

func (r *weeklySlotRepoPG) ListByVet(ctx context.Context, vetID uuid.UUID, day *Weekday) ([]*WeeklySlot, error) {
	q := psql.Select(slotCols).From("weekly_slots").Where(sq.Eq{"vet_id": vetID})
	if day != nil {
		q = q.Where(sq.Eq{"day_of_week": *day})
	}
	query, args, err := q.OrderBy(weekdayOrder, "start_time").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build weekly slot query: %w", err)
	}

	rows, err := pgConn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*WeeklySlot{}
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const weekdayOrder = `array_position(ARRAY['monday','tuesday','wednesday','thursday','friday','saturday','sunday'], day_of_week)`

// =========== Holiday Repository ===========

type holidayRepoPG struct{ pool *pgxpool.Pool }

func NewHolidayRepoPG(pool *pgxpool.Pool) HolidayRepository {
	return &holidayRepoPG{pool: pool}
}

const holidayCols = `id, vet_id, start_date, end_date, reason, created_at`

func (r *holidayRepoPG) scanHoliday(row pgx.Row) (*Holiday, error) {
	var h Holiday
	if err := row.Scan(&h.ID, &h.VetID, &h.StartDate, &h.EndDate, &h.Reason, &h.CreatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *holidayRepoPG) Create(ctx context.Context, h *Holiday) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return pgConn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO holidays (id, vet_id, start_date, end_date, reason)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		h.ID, h.VetID, pgDate(h.StartDate), pgDate(h.EndDate), h.Reason,
	).Scan(&h.CreatedAt)
}

func (r *holidayRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Holiday, error) {
	h, err := r.scanHoliday(pgConn(ctx, r.pool).QueryRow(ctx, `SELECT `+holidayCols+` FROM holidays WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "holiday")
	}
	return h, nil
}

func (r *holidayRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := pgConn(ctx, r.pool).Exec(ctx, `DELETE FROM holidays WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: holiday", ErrNotFound)
	}
	return nil
}

func (r *holidayRepoPG) ListByVet(ctx context.Context, vetID uuid.UUID, from, to *time.Time) ([]*Holiday, error) {
	q := psql.Select(holidayCols).From("holidays").Where(sq.Eq{"vet_id": vetID})
	if from != nil {
		q = q.Where(sq.GtOrEq{"end_date": pgDate(*from)})
	}
	if to != nil {
		q = q.Where(sq.LtOrEq{"start_date": pgDate(*to)})
	}
	query, args, err := q.OrderBy("start_date").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build holiday query: %w", err)
	}

	rows, err := pgConn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*Holiday{}
	for rows.Next() {
		h, err := r.scanHoliday(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, vet_id, client_id, pet_id, appointment_date, start_time, end_time, status,
	appointment_type, reason, notes, is_video, meeting_id, meeting_url, cancellation_reason,
	created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end pgtype.Time
	err := row.Scan(&a.ID, &a.VetID, &a.ClientID, &a.PetID, &a.Date, &start, &end, &a.Status,
		&a.Type, &a.Reason, &a.Notes, &a.IsVideo, &a.MeetingID, &a.MeetingURL, &a.CancellationReason,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.StartTime, a.EndTime = clockOf(start), clockOf(end)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return pgConn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, vet_id, client_id, pet_id, appointment_date, start_time, end_time,
			status, appointment_type, reason, notes, is_video, meeting_id, meeting_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		a.ID, a.VetID, a.ClientID, a.PetID, pgDate(a.Date), pgTime(a.StartTime), pgTime(a.EndTime),
		a.Status, a.Type, a.Reason, a.Notes, a.IsVideo, a.MeetingID, a.MeetingURL,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(pgConn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "appointment")
	}
	return a, nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := pgConn(ctx, r.pool).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment", ErrNotFound)
	}
	return nil
}

func (r *appointmentRepoPG) UpdateNotes(ctx context.Context, id uuid.UUID, notes string) error {
	tag, err := pgConn(ctx, r.pool).Exec(ctx,
		`UPDATE appointments SET notes = $2, updated_at = NOW() WHERE id = $1`, id, notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: appointment", ErrNotFound)
	}
	return nil
}

func (r *appointmentRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from, to Status, cancellationReason *string) error {
	conn := pgConn(ctx, r.pool)
	tag, err := conn.Exec(ctx, `
		UPDATE appointments
		SET status = $3, cancellation_reason = COALESCE($4, cancellation_reason), updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, from, to, cancellationReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: appointment", ErrNotFound)
	}
	return fmt.Errorf("%w: appointment is no longer %s", ErrConflict, from)
}

func (r *appointmentRepoPG) ledgerWhere(f LedgerFilter) sq.And {
	where := sq.And{sq.Eq{"vet_id": f.VetID}}
	switch {
	case f.BlockingOnly:
		where = append(where, sq.Eq{"status": BlockingStatuses})
	case !f.IncludeCancelled:
		where = append(where, sq.NotEq{"status": StatusCancelled})
	}
	if f.Date != nil {
		where = append(where, sq.Eq{"appointment_date": pgDate(*f.Date)})
	}
	if f.From != nil {
		where = append(where, sq.GtOrEq{"appointment_date": pgDate(*f.From)})
	}
	if f.To != nil {
		where = append(where, sq.LtOrEq{"appointment_date": pgDate(*f.To)})
	}
	return where
}

func (r *appointmentRepoPG) List(ctx context.Context, f LedgerFilter) ([]*Appointment, int, error) {
	conn := pgConn(ctx, r.pool)
	where := r.ledgerWhere(f)

	countSQL, countArgs, err := psql.Select("COUNT(*)").From("appointments").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build ledger count: %w", err)
	}
	var total int
	if err := conn.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := psql.Select(apptCols).From("appointments").Where(where).OrderBy("appointment_date", "start_time")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build ledger query: %w", err)
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []*Appointment{}
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *appointmentRepoPG) HasConflict(ctx context.Context, vetID uuid.UUID, date time.Time, start, end timerange.Clock, exclude *uuid.UUID) (bool, error) {
	statuses := make([]string, len(BlockingStatuses))
	for i, s := range BlockingStatuses {
		statuses[i] = string(s)
	}
	var conflict bool
	err := pgConn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE vet_id = $1 AND appointment_date = $2
				AND status = ANY($3)
				AND start_time < $5 AND $4 < end_time
				AND ($6::uuid IS NULL OR id <> $6)
		)`,
		vetID, pgDate(date), statuses, pgTime(start), pgTime(end), exclude,
	).Scan(&conflict)
	return conflict, err
}

// =========== Consultation Repository ===========

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationRepoPG(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := pgConn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultations (id, appointment_id, vet_id, pet_id, diagnosis, treatment, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		c.ID, c.AppointmentID, c.VetID, c.PetID, c.Diagnosis, c.Treatment, c.Notes,
	).Scan(&c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: appointment already has a consultation", ErrConflict)
	}
	return err
}

func (r *consultationRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	var c Consultation
	err := pgConn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, appointment_id, vet_id, pet_id, diagnosis, treatment, notes, created_at
		FROM consultations WHERE appointment_id = $1`, appointmentID,
	).Scan(&c.ID, &c.AppointmentID, &c.VetID, &c.PetID, &c.Diagnosis, &c.Treatment, &c.Notes, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "consultation")
	}
	return &c, nil
}
