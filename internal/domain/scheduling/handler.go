package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vetcare/vetcare/internal/platform/auth"
	"github.com/vetcare/vetcare/internal/platform/validation"
	"github.com/vetcare/vetcare/pkg/pagination"
	"github.com/vetcare/vetcare/pkg/timerange"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – vets and clients
	read := api.Group("", auth.RequireRole(auth.RoleVet, auth.RoleClient))
	read.GET("/vets/:vet_id/weekly-slots", h.ListWeeklySlots)
	read.GET("/vets/:vet_id/availability/week", h.WeekOverview)
	read.GET("/vets/:vet_id/availability/statistics", h.WeeklyStatistics)
	read.GET("/vets/:vet_id/availability/check", h.CheckAvailability)
	read.GET("/vets/:vet_id/availability/bookable", h.IsBookable)
	read.GET("/vets/:vet_id/availability/free-slots", h.FreeSlots)
	read.GET("/vets/:vet_id/holidays", h.ListHolidays)
	read.GET("/appointments/:id", h.GetAppointment)
	read.GET("/appointments/:id/meeting-access", h.MeetingAccess)
	read.POST("/appointments/:id/cancel", h.Cancel)

	// Client self-service
	client := api.Group("", auth.RequireRole(auth.RoleClient))
	client.POST("/appointments/requests", h.RequestAppointment)

	// Vet calendar management
	vet := api.Group("", auth.RequireRole(auth.RoleVet))
	vet.POST("/weekly-slots", h.CreateWeeklySlot)
	vet.DELETE("/weekly-slots/:id", h.DeleteWeeklySlot)
	vet.POST("/holidays", h.CreateHoliday)
	vet.DELETE("/holidays/:id", h.DeleteHoliday)
	vet.GET("/vets/:vet_id/appointments", h.ListAppointments)
	vet.POST("/appointments", h.ScheduleAppointment)
	vet.DELETE("/appointments/:id", h.DeleteAppointment)
	vet.POST("/appointments/:id/accept", h.Accept)
	vet.POST("/appointments/:id/decline", h.Decline)
	vet.POST("/appointments/:id/report", h.Report)
	vet.POST("/appointments/:id/complete", h.Complete)
	vet.POST("/appointments/:id/consultation", h.CreateConsultation)
}

// -- Request bodies --

type weeklySlotRequest struct {
	DayOfWeek string  `json:"day_of_week" validate:"required,weekday"`
	StartTime string  `json:"start_time" validate:"required,clock"`
	EndTime   string  `json:"end_time" validate:"required,clock"`
	IsBreak   bool    `json:"is_break"`
	Note      *string `json:"note" validate:"omitempty,max=500"`
}

type holidayRequest struct {
	StartDate string  `json:"start_date" validate:"required,date"`
	EndDate   string  `json:"end_date" validate:"required,date"`
	Reason    *string `json:"reason" validate:"omitempty,max=500"`
}

type appointmentRequest struct {
	VetID     string  `json:"vet_id" validate:"omitempty,uuid"`
	ClientID  string  `json:"client_id" validate:"omitempty,uuid"`
	PetID     string  `json:"pet_id" validate:"required,uuid"`
	Date      string  `json:"appointment_date" validate:"required,date"`
	StartTime string  `json:"start_time" validate:"required,clock"`
	EndTime   string  `json:"end_time" validate:"required,clock"`
	Type      string  `json:"appointment_type" validate:"omitempty,oneof=checkup vaccination surgery dental grooming emergency follow_up consultation"`
	Reason    string  `json:"reason" validate:"max=1000"`
	Notes     *string `json:"notes"`
	IsVideo   bool    `json:"is_video"`
}

type reasonRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

type reportRequest struct {
	Notes string `json:"notes" validate:"required"`
}

type consultationRequest struct {
	Diagnosis string  `json:"diagnosis" validate:"required"`
	Treatment *string `json:"treatment"`
	Notes     *string `json:"notes"`
}

// -- Weekly template --

func (h *Handler) ListWeeklySlots(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	var day *Weekday
	if q := c.QueryParam("day"); q != "" {
		d, err := ParseWeekday(q)
		if err != nil {
			return badRequest(err.Error())
		}
		day = &d
	}
	slots, err := h.svc.ListWeeklySlots(c.Request().Context(), vetID, day)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": slots})
}

func (h *Handler) CreateWeeklySlot(c echo.Context) error {
	var req weeklySlotRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	day, _ := ParseWeekday(req.DayOfWeek)
	in := WeeklySlotInput{
		DayOfWeek: day,
		StartTime: timerange.MustParseClock(req.StartTime),
		EndTime:   timerange.MustParseClock(req.EndTime),
		IsBreak:   req.IsBreak,
		Note:      req.Note,
	}
	slot, err := h.svc.CreateWeeklySlot(c.Request().Context(), actorFrom(c), in)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) DeleteWeeklySlot(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteWeeklySlot(c.Request().Context(), actorFrom(c), id); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Availability --

func (h *Handler) WeekOverview(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	ov, err := h.svc.WeekOverview(c.Request().Context(), vetID)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, ov)
}

func (h *Handler) WeeklyStatistics(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	weekOf := h.svc.Today()
	if c.QueryParam("week_of") != "" {
		if weekOf, err = h.dateQuery(c, "week_of"); err != nil {
			return err
		}
	}
	stats, err := h.svc.WeeklyStatistics(c.Request().Context(), vetID, weekOf)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	day, err := ParseWeekday(c.QueryParam("day"))
	if err != nil {
		return badRequest(err.Error())
	}
	at, err := clockQuery(c, "time")
	if err != nil {
		return err
	}
	ok, err := h.svc.IsAvailableAt(c.Request().Context(), vetID, day, at)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"vet_id":      vetID,
		"day_of_week": day,
		"time":        at,
		"available":   ok,
	})
}

func (h *Handler) IsBookable(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	date, err := h.dateQuery(c, "date")
	if err != nil {
		return err
	}
	start, err := clockQuery(c, "start")
	if err != nil {
		return err
	}
	end, err := clockQuery(c, "end")
	if err != nil {
		return err
	}
	ok, err := h.svc.IsBookable(c.Request().Context(), vetID, date, start, end)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"vet_id":     vetID,
		"date":       date.Format(timerange.DateLayout),
		"start_time": start,
		"end_time":   end,
		"bookable":   ok,
	})
}

func (h *Handler) FreeSlots(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	date, err := h.dateQuery(c, "date")
	if err != nil {
		return err
	}
	size := DefaultSlotMinutes
	if q := c.QueryParam("slot_minutes"); q != "" {
		if size, err = strconv.Atoi(q); err != nil {
			return badRequest("slot_minutes must be an integer")
		}
	}
	slots, err := h.svc.FreeSlots(c.Request().Context(), vetID, date, size)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":         date.Format(timerange.DateLayout),
		"slot_minutes": size,
		"data":         slots,
	})
}

// -- Holidays --

func (h *Handler) ListHolidays(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	from, err := h.optionalDateQuery(c, "from")
	if err != nil {
		return err
	}
	to, err := h.optionalDateQuery(c, "to")
	if err != nil {
		return err
	}
	items, err := h.svc.ListHolidays(c.Request().Context(), vetID, from, to)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) CreateHoliday(c echo.Context) error {
	var req holidayRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	loc := h.svc.Location()
	start, _ := timerange.ParseDate(req.StartDate, loc)
	end, _ := timerange.ParseDate(req.EndDate, loc)

	hol, err := h.svc.CreateHoliday(c.Request().Context(), actorFrom(c), HolidayInput{
		StartDate: start,
		EndDate:   end,
		Reason:    req.Reason,
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, hol)
}

func (h *Handler) DeleteHoliday(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteHoliday(c.Request().Context(), actorFrom(c), id); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

func (h *Handler) ListAppointments(c echo.Context) error {
	vetID, err := uuidParam(c, "vet_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := LedgerFilter{VetID: vetID, Limit: pg.Limit, Offset: pg.Offset}
	if f.Date, err = h.optionalDateQuery(c, "date"); err != nil {
		return err
	}
	if f.From, err = h.optionalDateQuery(c, "from"); err != nil {
		return err
	}
	if f.To, err = h.optionalDateQuery(c, "to"); err != nil {
		return err
	}
	if q := c.QueryParam("include_cancelled"); q != "" {
		if f.IncludeCancelled, err = strconv.ParseBool(q); err != nil {
			return badRequest("include_cancelled must be a boolean")
		}
	}

	items, total, err := h.svc.ListAppointments(c.Request().Context(), actorFrom(c), f)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path, c.QueryParams()))
}

func (h *Handler) toInput(req appointmentRequest) AppointmentInput {
	in := AppointmentInput{
		PetID:     uuid.MustParse(req.PetID),
		StartTime: timerange.MustParseClock(req.StartTime),
		EndTime:   timerange.MustParseClock(req.EndTime),
		Type:      req.Type,
		Reason:    req.Reason,
		Notes:     req.Notes,
		IsVideo:   req.IsVideo,
	}
	in.Date, _ = timerange.ParseDate(req.Date, h.svc.Location())
	if req.VetID != "" {
		in.VetID = uuid.MustParse(req.VetID)
	}
	if req.ClientID != "" {
		in.ClientID = uuid.MustParse(req.ClientID)
	}
	return in
}

func (h *Handler) RequestAppointment(c echo.Context) error {
	var req appointmentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.VetID == "" {
		return badRequest("vet_id is required")
	}
	a, err := h.svc.RequestAppointment(c.Request().Context(), actorFrom(c), h.toInput(req))
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ScheduleAppointment(c echo.Context) error {
	var req appointmentRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if req.ClientID == "" {
		return badRequest("client_id is required")
	}
	a, err := h.svc.ScheduleAppointment(c.Request().Context(), actorFrom(c), h.toInput(req))
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Accept(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Accept(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Decline(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Decline(c.Request().Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Report(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req reportRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Report(c.Request().Context(), actorFrom(c), id, req.Notes)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Complete(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateConsultation(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req consultationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	cons, a, err := h.svc.CreateConsultation(c.Request().Context(), actorFrom(c), id, ConsultationInput{
		Diagnosis: req.Diagnosis,
		Treatment: req.Treatment,
		Notes:     req.Notes,
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"consultation": cons,
		"appointment":  a,
	})
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), actorFrom(c), id, req.Reason)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actorFrom(c), id); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MeetingAccess(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.MeetingAccess(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, m)
}

// ---------- Helpers ----------

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{ErrForbidden, http.StatusForbidden, "forbidden"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{ErrSlotNoLongerAvailable, http.StatusConflict, "slot_no_longer_available"},
	{ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{ErrConflict, http.StatusConflict, "conflict"},
	{ErrInvalidRange, http.StatusBadRequest, "invalid_range"},
	{ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
}

// fail maps a service error onto an HTTP error with a structured body.
func fail(err error) error {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			return echo.NewHTTPError(m.status, ErrorBody{Code: m.code, Message: err.Error()}).SetInternal(err)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, ErrorBody{Code: "internal", Message: "internal server error"}).SetInternal(err)
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{Code: "invalid_input", Message: msg})
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return badRequest("malformed request body")
	}
	if err := c.Validate(req); err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) {
			return echo.NewHTTPError(http.StatusBadRequest, ErrorBody{
				Code:    "invalid_input",
				Message: "request validation failed",
				Fields:  verrs,
			})
		}
		return badRequest(err.Error())
	}
	return nil
}

// bindOptional accepts an empty body.
func bindOptional(c echo.Context, req interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	return bindAndValidate(c, req)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		UserID:   auth.UserIDFromContext(ctx),
		VetID:    auth.VetIDFromContext(ctx),
		ClientID: auth.ClientIDFromContext(ctx),
	}
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid " + name)
	}
	return id, nil
}

func clockQuery(c echo.Context, name string) (timerange.Clock, error) {
	v, err := timerange.ParseClock(c.QueryParam(name))
	if err != nil {
		return 0, badRequest(name + ": " + err.Error())
	}
	return v, nil
}

func (h *Handler) dateQuery(c echo.Context, name string) (time.Time, error) {
	d, err := timerange.ParseDate(c.QueryParam(name), h.svc.Location())
	if err != nil {
		return time.Time{}, badRequest(name + ": " + err.Error())
	}
	return d, nil
}

func (h *Handler) optionalDateQuery(c echo.Context, name string) (*time.Time, error) {
	if c.QueryParam(name) == "" {
		return nil, nil
	}
	d, err := h.dateQuery(c, name)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
