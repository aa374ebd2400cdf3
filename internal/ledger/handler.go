package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-books/meridian/internal/periods"
	"github.com/meridian-books/meridian/internal/platform/httpx"
	"github.com/meridian-books/meridian/internal/shared"
)

// Handler exposes the chart of accounts and journal over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// MountRoutes attaches ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts", h.listAccounts)
	r.Post("/accounts", h.createAccount)
	r.Delete("/accounts/{id}", h.deleteAccount)
	r.Get("/accounts/{id}/balance", h.accountBalance)
	r.Get("/trial-balance", h.trialBalance)
	r.Post("/journal-entries", h.createEntry)
	r.Post("/journal-entries/{id}/lines", h.addLine)
	r.Post("/journal-entries/{id}/post", h.postEntry)
	r.Post("/journal-entries/{id}/reverse", h.reverseEntry)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (shared.Scope, bool) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrForbidden)
	}
	return scope, ok
}

func urlID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), scope.CompanyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

type createAccountRequest struct {
	Code     string `json:"code" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentID *int64 `json:"parentId"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	account, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		CompanyID: scope.CompanyID,
		Code:      req.Code,
		Name:      req.Name,
		Type:      AccountType(req.Type),
		ParentID:  req.ParentID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	if err := h.service.DeleteAccount(r.Context(), scope.CompanyID, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	balance, err := h.service.AccountBalance(r.Context(), scope.CompanyID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accountId": id, "balance": balance})
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	rows, err := h.service.TrialBalance(r.Context(), scope.CompanyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

type createEntryRequest struct {
	Date      string `json:"date" validate:"required"`
	Memo      string `json:"memo"`
	Reference string `json:"reference"`
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req createEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
		return
	}
	entry, err := h.service.CreateEntry(r.Context(), CreateEntryInput{
		CompanyID: scope.CompanyID,
		Date:      date,
		Memo:      req.Memo,
		Reference: req.Reference,
		ActorID:   scope.ActorID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type addLineRequest struct {
	AccountID int64   `json:"accountId" validate:"required"`
	Debit     float64 `json:"debit" validate:"gte=0"`
	Credit    float64 `json:"credit" validate:"gte=0"`
	Memo      string  `json:"memo"`
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.scope(w, r); !ok {
		return
	}
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	var req addLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	line, err := h.service.AddLine(r.Context(), AddLineInput{
		EntryID:   id,
		AccountID: req.AccountID,
		Debit:     req.Debit,
		Credit:    req.Credit,
		Memo:      req.Memo,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, line)
}

type postEntryRequest struct {
	OverrideClosedPeriod bool   `json:"overrideClosedPeriod"`
	Justification        string `json:"justification"`
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	var req postEntryRequest
	_ = httpx.DecodeJSON(r, &req)
	entry, err := h.service.Post(r.Context(), PostEntryInput{
		EntryID:              id,
		ActorID:              scope.ActorID,
		OverrideClosedPeriod: req.OverrideClosedPeriod,
		Justification:        req.Justification,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type reverseEntryRequest struct {
	Memo string `json:"memo"`
	Date string `json:"date"`
}

func (h *Handler) reverseEntry(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scope(w, r)
	if !ok {
		return
	}
	id, err := urlID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "entry id must be numeric")
		return
	}
	var req reverseEntryRequest
	_ = httpx.DecodeJSON(r, &req)
	var date time.Time
	if req.Date != "" {
		date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
			return
		}
	}
	reversal, err := h.service.Reverse(r.Context(), ReverseInput{
		EntryID: id,
		ActorID: scope.ActorID,
		Memo:    req.Memo,
		Date:    date,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrAccountNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrDuplicateCode):
		httpx.RespondError(w, httpx.ErrDuplicate)
	case errors.Is(err, ErrAlreadyPosted), errors.Is(err, ErrNotDraft), errors.Is(err, ErrAccountInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrUnbalancedEntry), errors.Is(err, ErrTooFewLines), errors.Is(err, ErrAccountCycle):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Entry", err.Error())
	case errors.Is(err, periods.ErrPeriodLocked):
		httpx.Problem(w, http.StatusConflict, "Period Locked", err.Error())
	case errors.Is(err, periods.ErrJustificationTooShort):
		httpx.Problem(w, http.StatusBadRequest, "Justification Too Short", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
