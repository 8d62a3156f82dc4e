package schedulehttp

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/wasteplan/internal/layout"
	"github.com/odyssey-erp/wasteplan/internal/plan"
	"github.com/odyssey-erp/wasteplan/internal/platform/httpx"
	"github.com/odyssey-erp/wasteplan/internal/reconcile"
	"github.com/odyssey-erp/wasteplan/internal/schedule"
	"github.com/odyssey-erp/wasteplan/internal/shared"
	"github.com/odyssey-erp/wasteplan/jobs"
)

// SnapshotQueue enqueues background snapshots. *jobs.Client satisfies it.
type SnapshotQueue interface {
	EnqueuePlanSnapshot(ctx context.Context, payload jobs.PlanSnapshotPayload) (*asynq.TaskInfo, error)
}

// Config tunes the handler.
type Config struct {
	// Tolerances are applied when a reconcile request does not override them.
	Tolerances reconcile.Tolerances
	// WriteLimit caps write requests per client IP per minute. Zero disables it.
	WriteLimit int
}

// Handler wires the plan JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *schedule.Service
	queue    SnapshotQueue
	cfg      Config
	validate *validator.Validate
}

// NewHandler constructs handler. queue may be nil, in which case asynchronous
// snapshots are refused.
func NewHandler(logger *slog.Logger, service *schedule.Service, queue SnapshotQueue, cfg Config) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, queue: queue, cfg: cfg, validate: v}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	write := func(next http.Handler) http.Handler { return next }
	if h.cfg.WriteLimit > 0 {
		write = httprate.LimitByIP(h.cfg.WriteLimit, time.Minute)
	}
	r.Get("/api/companies", h.listCompanies)
	r.Get("/api/headers/{id}/order", h.headerOrder)
	r.Route("/api/plans/{year}/{month}", func(r chi.Router) {
		r.Get("/", h.getMonth)
		r.With(write).Put("/", h.saveMonth)
		r.Get("/versions", h.listVersions)
		r.With(write).Post("/snapshots", h.snapshot)
		r.Get("/layouts/{dayClass}", h.getLayout)
		r.With(write).Put("/layouts/{dayClass}", h.replaceLayout)
		r.Get("/reconcile", h.reconcile)
	})
}

type entryRequest struct {
	Date        string           `json:"date" validate:"required,datetime=2006-01-02"`
	WasteType   string           `json:"waste_type" validate:"required,max=100"`
	Sequence    int              `json:"type_sequence" validate:"omitempty,min=1"`
	CompanyID   *int64           `json:"company_id" validate:"omitempty,min=1"`
	Vol         *shared.Quantity `json:"vol"`
	PlannedTime string           `json:"planned_time" validate:"omitempty,max=8"`
	Note        string           `json:"note" validate:"max=500"`
}

type saveMonthRequest struct {
	Entries []entryRequest `json:"entries" validate:"dive"`
}

type headerRequest struct {
	Order       int    `json:"order" validate:"required,min=1"`
	WasteType   string `json:"waste_type" validate:"required,max=100"`
	Sequence    int    `json:"type_sequence" validate:"omitempty,min=1"`
	DisplayName string `json:"display_name" validate:"max=100"`
}

type replaceLayoutRequest struct {
	Headers []headerRequest `json:"headers" validate:"dive"`
}

type snapshotRequest struct {
	User  string `json:"user" validate:"max=64"`
	Async bool   `json:"async"`
}

type reconcileResponse struct {
	Period      shared.YearMonth        `json:"period"`
	Version     plan.Version            `json:"version"`
	Tolerances  reconcile.Tolerances    `json:"tolerances"`
	Summary     reconcile.Summary       `json:"summary"`
	Records     []reconcile.Record      `json:"records"`
	Unscheduled []reconcile.Actual      `json:"unscheduled"`
	Errors      []reconcile.RecordError `json:"errors"`
}

func (h *Handler) getMonth(w http.ResponseWriter, r *http.Request) {
	ym, err := periodParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	version, err := versionQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.GetMonth(r.Context(), ym, version)
	if err != nil {
		h.fail(w, "get month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) saveMonth(w http.ResponseWriter, r *http.Request) {
	ym, err := periodParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req saveMonthRequest
	if err := h.decode(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries := make([]plan.Entry, 0, len(req.Entries))
	for i, in := range req.Entries {
		e, err := in.toEntry()
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("entries", "entry %d: %v", i, err))
			return
		}
		entries = append(entries, e)
	}
	if err := h.service.SaveMonth(r.Context(), ym, entries); err != nil {
		h.fail(w, "save month", err)
		return
	}
	view, err := h.service.GetMonth(r.Context(), ym, plan.Live)
	if err != nil {
		h.fail(w, "get month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	ym, err := periodParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	history, err := h.service.AvailableVersions(r.Context(), ym)
	if err != nil {
		h.fail(w, "list versions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	ym, err := periodParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req snapshotRequest
	if r.ContentLength != 0 {
		if err := h.decode(w, r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = strings.TrimSpace(r.Header.Get("X-User"))
	}
	if user == "" {
		user = "api"
	}
	if req.Async {
		if h.queue == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background jobs are not configured")
			return
		}
		info, err := h.queue.EnqueuePlanSnapshot(r.Context(), jobs.PlanSnapshotPayload{Year: ym.Year, Month: ym.Month, User: user})
		if err != nil {
			h.logger.Warn("enqueue plan snapshot", slog.String("period", ym.String()), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
		return
	}
	version, err := h.service.SnapshotMonth(r.Context(), ym, user)
	if err != nil {
		h.fail(w, "snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"period": ym, "version": version})
}

func (h *Handler) getLayout(w http.ResponseWriter, r *http.Request) {
	ym, err := periodParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	defs, err := h.service.GetLayout(r.Context(), ym, shared.DayClass(chi.URLParam(r, "dayClass")))
	if err != nil {
		h.fail(w, "get layout", err)
		return
	}
	httpx.JSON(w, http.StatusOK, defs)
}

func (h *Handler) replaceLayout(w http.ResponseWriter, r *http.Request) {
	ym, err := periodParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req replaceLayoutRequest
	if err := h.decode(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inputs := make([]layout.HeaderInput, 0, len(req.Headers))
	for _, in := range req.Headers {
		seq := in.Sequence
		if seq == 0 {
			seq = 1
		}
		inputs = append(inputs, layout.HeaderInput{Order: in.Order, WasteType: in.WasteType, Sequence: seq, DisplayName: in.DisplayName})
	}
	defs, err := h.service.ReplaceLayout(r.Context(), ym, shared.DayClass(chi.URLParam(r, "dayClass")), inputs)
	if err != nil {
		h.fail(w, "replace layout", err)
		return
	}
	httpx.JSON(w, http.StatusOK, defs)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	ym, err := periodParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	version, err := versionQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tol, err := h.tolerances(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ReconcileVersion(r.Context(), ym, version, tol)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=reconcile_"+ym.String()+".csv")
		writer := csv.NewWriter(w)
		for _, row := range reconcile.ExportRows(result.Records) {
			if err := writer.Write(row); err != nil {
				break
			}
		}
		writer.Flush()
		return
	}
	resp := reconcileResponse{
		Period:      ym,
		Version:     version,
		Tolerances:  tol,
		Summary:     result.Summarize(),
		Records:     result.Records,
		Unscheduled: result.Unscheduled,
		Errors:      result.Errors,
	}
	if resp.Records == nil {
		resp.Records = []reconcile.Record{}
	}
	if resp.Unscheduled == nil {
		resp.Unscheduled = []reconcile.Actual{}
	}
	if resp.Errors == nil {
		resp.Errors = []reconcile.RecordError{}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) headerOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("id", "not a uuid"))
		return
	}
	order, err := h.service.HeaderOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "header order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "order": order})
}

func (h *Handler) listCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.service.ListCompanies(r.Context())
	if err != nil {
		h.fail(w, "list companies", err)
		return
	}
	httpx.JSON(w, http.StatusOK, companies)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) error {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		return err
	}
	if err := h.validate.Struct(target); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return shared.NewValidationError(fe.Namespace(), "failed %q check", fe.Tag())
		}
		return shared.NewValidationError("body", "%v", err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !isClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) tolerances(r *http.Request) (reconcile.Tolerances, error) {
	tol := h.cfg.Tolerances
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"on_schedule", &tol.OnSchedule},
		{"acceptable", &tol.Acceptable},
	} {
		if raw := q.Get(p.name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return reconcile.Tolerances{}, shared.NewValidationError(p.name, "not an integer")
			}
			*p.dst = v
		}
	}
	if raw := q.Get("negative_slack"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return reconcile.Tolerances{}, shared.NewValidationError("negative_slack", "not an integer")
		}
		tol.NegativeSlack = &v
	}
	return tol, tol.Validate()
}

func (in entryRequest) toEntry() (plan.Entry, error) {
	date, err := time.Parse(time.DateOnly, in.Date)
	if err != nil {
		return plan.Entry{}, err
	}
	seq := in.Sequence
	if seq == 0 {
		seq = 1
	}
	e := plan.Entry{
		Date:      date,
		Column:    shared.ColumnKey{WasteType: in.WasteType, Sequence: seq},
		CompanyID: in.CompanyID,
		Vol:       in.Vol,
		Note:      in.Note,
	}
	if in.PlannedTime != "" {
		at, err := shared.ParseClock(in.PlannedTime)
		if err != nil {
			return plan.Entry{}, err
		}
		e.PlannedTime = &at
	}
	return e, nil
}

func periodParam(r *http.Request) (shared.YearMonth, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return shared.YearMonth{}, shared.NewValidationError("year", "not an integer")
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		return shared.YearMonth{}, shared.NewValidationError("month", "not an integer")
	}
	return shared.NewYearMonth(year, month)
}

func versionQuery(r *http.Request) (plan.Version, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return plan.Live, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return plan.Live, shared.NewValidationError("version", "must be a non-negative integer")
	}
	return plan.Version(v), nil
}

func isClientError(err error) bool {
	return errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrConflict)
}
