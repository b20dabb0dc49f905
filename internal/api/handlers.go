package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/savegress/bankrecon/internal/ingest"
	"github.com/savegress/bankrecon/internal/matching"
	"github.com/savegress/bankrecon/internal/store"
	"github.com/savegress/bankrecon/pkg/models"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	store   *store.Store
	matcher *matching.Service
}

// NewHandlers creates new handlers
func NewHandlers(st *store.Store, svc *matching.Service) *Handlers {
	return &Handlers{store: st, matcher: svc}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "bankrecon",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Account handlers

// ListAccounts lists all accounts
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.Accounts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, accounts)
}

// CreateAccount creates a new account
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var account models.Account
	if err := json.NewDecoder(r.Body).Decode(&account); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if account.Name == "" {
		respondError(w, http.StatusBadRequest, "Account name is required")
		return
	}
	if err := h.store.CreateAccount(r.Context(), &account); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusCreated, account)
}

// GetAccount gets an account by ID
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}
	account, err := h.store.Account(r.Context(), accountID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respond(w, http.StatusOK, account)
}

// Extract handlers

// ListExtractMovements lists a period's extract movements
func (h *Handlers) ListExtractMovements(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	movements, err := h.store.ExtractMovements(r.Context(), accountID, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, movements)
}

// ReplaceExtract replaces a period's extract movements wholesale
func (h *Handlers) ReplaceExtract(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	var movements []*models.ExtractMovement
	if err := json.NewDecoder(r.Body).Decode(&movements); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for i, m := range movements {
		if m.Date.IsZero() {
			respondError(w, http.StatusBadRequest, "Movement "+strconv.Itoa(i)+" is missing a date")
			return
		}
	}
	if err := h.store.ReplaceExtract(r.Context(), accountID, period, movements); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"loaded": len(movements),
		"period": period,
	})
}

// UploadExtractCSV loads a period's extract from a CSV body
func (h *Handlers) UploadExtractCSV(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	movements, err := ingest.ReadExtract(r.Body, accountID, period)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.ReplaceExtract(r.Context(), accountID, period, movements); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"loaded": len(movements),
		"period": period,
	})
}

// Matching handlers

// RunMatching executes a matching batch for the period
func (h *Handlers) RunMatching(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	rebuild := r.URL.Query().Get("rebuild") == "true"

	result, err := h.matcher.RunMatching(r.Context(), accountID, period, rebuild)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoActiveConfig), errors.Is(err, models.ErrInvalidWeights):
			respondError(w, http.StatusPreconditionFailed, err.Error())
		case errors.Is(err, store.ErrDuplicateLink):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respond(w, http.StatusOK, result)
}

// ListLinks lists the period's match links
func (h *Handlers) ListLinks(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	links, err := h.store.Links(r.Context(), accountID, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, links)
}

// ConfirmLink marks a link as manually confirmed
func (h *Handlers) ConfirmLink(w http.ResponseWriter, r *http.Request) {
	linkID, ok := pathID(w, r, "linkID")
	if !ok {
		return
	}
	if err := h.store.ConfirmLink(r.Context(), linkID); err != nil {
		respondStoreError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"confirmed": linkID})
}

// Duplicate handlers

// DetectDuplicates reports links violating the one-to-one invariant
func (h *Handlers) DetectDuplicates(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	groups, err := h.matcher.DetectDuplicates(r.Context(), accountID, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"violations": len(groups),
		"groups":     groups,
	})
}

// InvalidateDuplicates repairs invariant violations
func (h *Handlers) InvalidateDuplicates(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	removed, err := h.matcher.InvalidateDuplicates(r.Context(), accountID, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

// Reconciliation handlers

// GetReconciliation returns the period aggregate with its derived checks
func (h *Handlers) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	rec, err := h.store.Reconciliation(r.Context(), accountID, period)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"reconciliation": rec,
		"checks":         h.matcher.Checks(rec),
	})
}

// SetExtractTotals stores the manually entered extract totals
func (h *Handlers) SetExtractTotals(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	var totals matching.ExtractTotals
	if err := json.NewDecoder(r.Body).Decode(&totals); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	rec, err := h.matcher.SetExtractTotals(r.Context(), accountID, period, totals)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"reconciliation": rec,
		"checks":         h.matcher.Checks(rec),
	})
}

// RecalculateReconciliation recomputes the system side of the aggregate
func (h *Handlers) RecalculateReconciliation(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	rec, err := h.matcher.RecalculateReconciliation(r.Context(), accountID, period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"reconciliation": rec,
		"checks":         h.matcher.Checks(rec),
	})
}

// ConfirmReconciliation moves a balanced aggregate to CONCILIADO
func (h *Handlers) ConfirmReconciliation(w http.ResponseWriter, r *http.Request) {
	accountID, period, ok := pathAccountPeriod(w, r)
	if !ok {
		return
	}
	rec, err := h.matcher.ConfirmReconciliation(r.Context(), accountID, period)
	if err != nil {
		if errors.Is(err, matching.ErrNotBalanced) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, rec)
}

// ListReconciliations lists every period aggregate
func (h *Handlers) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.Reconciliations(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, recs)
}

// Movement handlers

// ListSystemMovements lists ledger movements for an account/date range
func (h *Handlers) ListSystemMovements(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}
	movements, err := h.store.SystemMovementsInRange(r.Context(), accountID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, movements)
}

// CreateSystemMovement records a ledger movement, auto-classifying it when
// it carries no classification
func (h *Handlers) CreateSystemMovement(w http.ResponseWriter, r *http.Request) {
	var movement models.SystemMovement
	if err := json.NewDecoder(r.Body).Decode(&movement); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if movement.AccountID == 0 || movement.Date.IsZero() {
		respondError(w, http.StatusBadRequest, "account_id and date are required")
		return
	}

	if !movement.Classified() {
		cls, _, err := h.matcher.Classify(r.Context(), &movement)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		movement.ThirdPartyID = cls.ThirdPartyID
		movement.CostCenterID = cls.CostCenterID
		movement.ConceptID = cls.ConceptID
	}

	if err := h.store.CreateSystemMovement(r.Context(), &movement); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusCreated, movement)
}

// Config handlers

// ListMatchConfigs lists all match configs
func (h *Handlers) ListMatchConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.MatchConfigs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, configs)
}

// CreateMatchConfig creates a match config
func (h *Handlers) CreateMatchConfig(w http.ResponseWriter, r *http.Request) {
	var cfg models.MatchConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.store.CreateMatchConfig(r.Context(), &cfg); err != nil {
		if errors.Is(err, models.ErrInvalidWeights) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusCreated, cfg)
}

// ActivateMatchConfig makes a config the active one
func (h *Handlers) ActivateMatchConfig(w http.ResponseWriter, r *http.Request) {
	configID, ok := pathID(w, r, "configID")
	if !ok {
		return
	}
	if err := h.store.ActivateMatchConfig(r.Context(), configID); err != nil {
		respondStoreError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"active": configID})
}

// Catalog handlers

// ListRules lists classification rules, optionally scoped to an account
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.Rules(r.Context(), queryAccountScope(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, rules)
}

// CreateRule creates a classification rule
func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.ClassificationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.store.CreateRule(r.Context(), &rule); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusCreated, rule)
}

// DeleteRule removes a classification rule
func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := pathID(w, r, "ruleID")
	if !ok {
		return
	}
	if err := h.store.DeleteRule(r.Context(), ruleID); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAliases lists description aliases, optionally scoped to an account
func (h *Handlers) ListAliases(w http.ResponseWriter, r *http.Request) {
	aliases, err := h.store.Aliases(r.Context(), queryAccountScope(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, aliases)
}

// CreateAlias creates a description alias
func (h *Handlers) CreateAlias(w http.ResponseWriter, r *http.Request) {
	var alias models.Alias
	if err := json.NewDecoder(r.Body).Decode(&alias); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.store.CreateAlias(r.Context(), &alias); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respond(w, http.StatusCreated, alias)
}

// DeleteAlias removes a description alias
func (h *Handlers) DeleteAlias(w http.ResponseWriter, r *http.Request) {
	aliasID, ok := pathID(w, r, "aliasID")
	if !ok {
		return
	}
	if err := h.store.DeleteAlias(r.Context(), aliasID); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewClassification evaluates the catalog against a description
// without persisting anything
func (h *Handlers) PreviewClassification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID   int64  `json:"account_id"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	movement := models.SystemMovement{AccountID: req.AccountID, Description: req.Description}
	cls, normalized, err := h.matcher.Classify(r.Context(), &movement)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"normalized":     normalized,
		"classification": cls,
		"classified":     !cls.Empty(),
	})
}

// RecalculateAll reruns matching for every unsettled period
func (h *Handlers) RecalculateAll(w http.ResponseWriter, r *http.Request) {
	workers, _ := strconv.Atoi(r.URL.Query().Get("workers"))
	processed, failed, err := h.matcher.RecalculateAll(r.Context(), workers)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{
		"processed": processed,
		"failed":    failed,
	})
}

// Helper functions

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Not found")
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return id, true
}

func pathAccountPeriod(w http.ResponseWriter, r *http.Request) (int64, models.Period, bool) {
	accountID, ok := pathID(w, r, "accountID")
	if !ok {
		return 0, models.Period{}, false
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid year")
		return 0, models.Period{}, false
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid month")
		return 0, models.Period{}, false
	}
	period := models.Period{Year: year, Month: month}
	if !period.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid period")
		return 0, models.Period{}, false
	}
	return accountID, period, true
}

func queryAccountScope(r *http.Request) *int64 {
	v := r.URL.Query().Get("account_id")
	if v == "" {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
