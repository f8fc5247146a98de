package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/lot-allocation/internal/core/domain"
	"github.com/rl1809/lot-allocation/internal/core/service"
)

type HTTPHandler struct {
	allocation *service.AllocationService
	intake     *service.IntakeService
	report     *service.ReportService
	log        *zap.Logger
	tracer     trace.Tracer
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type CreateItemHTTPRequest struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type SubmitOrderHTTPRequest struct {
	OrderID  string `json:"order_id"`
	ItemCode string `json:"item_code"`
	Quantity int    `json:"quantity"`
}

type ReceiveInventoryHTTPRequest struct {
	ItemCode    string          `json:"item_code"`
	Quantity    int             `json:"quantity"`
	ReceiptDate string          `json:"receipt_date"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type AllocateHTTPRequest struct {
	RequestID        string `json:"request_id"`
	AllocationMethod string `json:"allocation_method"`
}

func NewHTTPHandler(allocation *service.AllocationService, intake *service.IntakeService, report *service.ReportService, log *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		allocation: allocation,
		intake:     intake,
		report:     report,
		log:        log,
		tracer:     otel.Tracer("allocation-http"),
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/items", h.createItem)
		r.Get("/items", h.listItems)
		r.Post("/orders", h.submitOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/inventories", h.receiveInventory)
		r.Get("/inventories", h.listInventories)
		r.Post("/allocations", h.allocate)
		r.Get("/allocation-results", h.listResults)
		r.Get("/allocation-runs", h.listRuns)
	})
	return r
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	item, err := h.intake.RegisterItem(r.Context(), req.Code, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: toItemDTO(*item)})
}

func (h *HTTPHandler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.report.ListItems(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: mapSlice(items, toItemDTO)})
}

func (h *HTTPHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	order, err := h.intake.SubmitOrder(r.Context(), req.OrderID, req.ItemCode, req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: toOrderDTO(*order)})
}

func (h *HTTPHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.report.ListOrders(r.Context(), r.URL.Query().Get("item_code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: mapSlice(orders, toOrderDTO)})
}

func (h *HTTPHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.report.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: toOrderDTO(*order)})
}

func (h *HTTPHandler) receiveInventory(w http.ResponseWriter, r *http.Request) {
	var req ReceiveInventoryHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	receiptDate, err := parseReceiptDate(req.ReceiptDate)
	if err != nil {
		h.writeError(w, err)
		return
	}

	lot, err := h.intake.ReceiveLot(r.Context(), req.ItemCode, req.Quantity, receiptDate, req.UnitPrice)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: toLotDTO(*lot)})
}

func (h *HTTPHandler) listInventories(w http.ResponseWriter, r *http.Request) {
	lots, err := h.report.ListLots(r.Context(), r.URL.Query().Get("item_code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: mapSlice(lots, toLotDTO)})
}

func (h *HTTPHandler) allocate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RunAllocation")
	defer span.End()

	var req AllocateHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	method, err := domain.ParseMethod(req.AllocationMethod)
	if err != nil {
		h.writeError(w, err)
		return
	}

	plan, err := h.allocation.Allocate(ctx, req.RequestID, method)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Message: planMessage(plan), Data: toPlanDTO(plan)})
}

func (h *HTTPHandler) listResults(w http.ResponseWriter, r *http.Request) {
	filter, err := parseResultFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	results, err := h.report.ListResults(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: mapSlice(results, toResultDTO)})
}

func (h *HTTPHandler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	runs, err := h.report.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: mapSlice(runs, toRunDTO)})
}

func parseResultFilter(r *http.Request) (domain.ResultFilter, error) {
	q := r.URL.Query()
	filter := domain.ResultFilter{
		OrderID:  q.Get("order_id"),
		ItemCode: q.Get("item_code"),
		LotID:    q.Get("lot_id"),
		RunID:    q.Get("run_id"),
	}
	if m := q.Get("method"); m != "" {
		method, err := domain.ParseMethod(m)
		if err != nil {
			return filter, err
		}
		filter.Method = method
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: limit %q", domain.ErrInvalidArgument, s)
	}
	return limit, nil
}

// parseReceiptDate accepts a calendar date or an RFC 3339 timestamp; empty
// means received now.
func parseReceiptDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: receipt date %q", domain.ErrInvalidArgument, s)
	}
	return t, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Message: "invalid request body",
		})
		return false
	}
	return true
}

// StatusFor maps service errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownAllocationMethod):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateRequest), errors.Is(err, service.ErrConflict), errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, Response{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
