// Package handler содержит HTTP-обработчики API сервиса клиентов POS.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/posclients-system/internal/middleware"
	"github.com/mmeshcher/posclients-system/internal/model"
	"github.com/mmeshcher/posclients-system/internal/repository"
	"github.com/mmeshcher/posclients-system/internal/sales"
	"github.com/mmeshcher/posclients-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	CreateClient(ctx context.Context, req service.ClientRequest) (*model.Client, error)
	UpdateClient(ctx context.Context, id uuid.UUID, req service.ClientRequest) (*model.Client, error)
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
	ListClients(ctx context.Context, p repository.ListClientsParams) ([]model.Client, int64, error)
	DeleteClient(ctx context.Context, id uuid.UUID) error
	ValidateDocument(ctx context.Context, docType model.DocumentType, document string) (bool, error)
	AdjustPoints(ctx context.Context, clientID uuid.UUID, delta int64, description string) (*model.PointsTransaction, error)
	RecordPurchase(ctx context.Context, clientID uuid.UUID, req service.PurchaseRequest) (*model.Purchase, []model.PointsTransaction, bool, error)
	GetPurchases(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.Purchase, int64, error)
	GetPointsHistory(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.PointsTransaction, int64, error)
	GetStats(ctx context.Context) (*model.Stats, error)
}

// Handler реализует HTTP-обработчики API сервиса клиентов POS.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	dateLayout       = "2006-01-02"
)

// parsePagination читает параметры page и limit с разумными значениями по умолчанию.
func parsePagination(r *http.Request) (int, int) {
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}

	limit := defaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	return page, limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fieldErrorResponse struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type validationResponse struct {
	Errors []fieldErrorResponse `json:"errors"`
}

// writeError переводит ошибки сервиса и хранилища в HTTP-статусы.
// Нарушения валидации отдаются с перечнем полей, остальные ошибки — текстом статуса.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp := validationResponse{}
		for _, f := range verr.Fields {
			resp.Errors = append(resp.Errors, fieldErrorResponse{Field: f.Field, Reason: f.Reason})
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	switch {
	case errors.Is(err, repository.ErrClientNotFound) || errors.Is(err, repository.ErrUserNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrDuplicateDocument) || errors.Is(err, repository.ErrSaleOwnedByAnother):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, repository.ErrInsufficientPoints):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, sales.ErrSaleNotFound):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func clientIDFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "clientID"))
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового сотрудника.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию сотрудника и установку cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type clientRequest struct {
	Name         string `json:"name"`
	LastName     string `json:"last_name"`
	DocumentType string `json:"document_type"`
	Document     string `json:"document"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	City         string `json:"city"`
	BirthDate    string `json:"birth_date"`
	Status       string `json:"status"`
}

func (req clientRequest) toServiceRequest() (service.ClientRequest, error) {
	out := service.ClientRequest{
		Name:         req.Name,
		LastName:     req.LastName,
		DocumentType: model.DocumentType(req.DocumentType),
		Document:     req.Document,
		Phone:        req.Phone,
		Email:        req.Email,
		Address:      req.Address,
		City:         req.City,
		Status:       model.ClientStatus(req.Status),
	}

	if req.BirthDate != "" {
		d, err := time.Parse(dateLayout, req.BirthDate)
		if err != nil {
			return out, err
		}
		out.BirthDate = &d
	}

	return out, nil
}

type clientResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	LastName       string  `json:"last_name"`
	DocumentType   string  `json:"document_type"`
	Document       string  `json:"document"`
	Phone          string  `json:"phone"`
	Email          string  `json:"email,omitempty"`
	Address        string  `json:"address,omitempty"`
	City           string  `json:"city,omitempty"`
	BirthDate      string  `json:"birth_date,omitempty"`
	Status         string  `json:"status"`
	Points         int64   `json:"points"`
	TotalPurchases int64   `json:"total_purchases"`
	TotalSpent     float64 `json:"total_spent"`
	LastPurchase   string  `json:"last_purchase,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

func toClientResponse(c *model.Client) clientResponse {
	resp := clientResponse{
		ID:             c.ID.String(),
		Name:           c.Name,
		LastName:       c.LastName,
		DocumentType:   string(c.DocumentType),
		Document:       c.Document,
		Phone:          c.Phone,
		Email:          c.Email,
		Address:        c.Address,
		City:           c.City,
		Status:         string(c.Status),
		Points:         c.Points,
		TotalPurchases: c.TotalPurchases,
		TotalSpent:     float64(c.TotalSpent) / 100,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
	if c.BirthDate != nil {
		resp.BirthDate = c.BirthDate.Format(dateLayout)
	}
	if c.LastPurchase != nil {
		resp.LastPurchase = c.LastPurchase.Format(time.RFC3339)
	}
	return resp
}

type pageResponse[T any] struct {
	Data       []T              `json:"data"`
	Pagination model.Pagination `json:"pagination"`
}

// CreateClient регистрирует нового клиента.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	svcReq, err := req.toServiceRequest()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Errors: []fieldErrorResponse{{Field: "birth_date", Reason: "invalid date"}},
		})
		return
	}

	c, err := h.service.CreateClient(r.Context(), svcReq)
	if err != nil {
		h.writeError(w, err, "create client")
		return
	}

	writeJSON(w, http.StatusCreated, toClientResponse(c))
}

// UpdateClient обновляет профиль клиента.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := clientIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	var req clientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	svcReq, err := req.toServiceRequest()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Errors: []fieldErrorResponse{{Field: "birth_date", Reason: "invalid date"}},
		})
		return
	}

	c, err := h.service.UpdateClient(r.Context(), id, svcReq)
	if err != nil {
		h.writeError(w, err, "update client")
		return
	}

	writeJSON(w, http.StatusOK, toClientResponse(c))
}

// GetClient возвращает карточку клиента.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, err := clientIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	c, err := h.service.GetClient(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get client")
		return
	}

	writeJSON(w, http.StatusOK, toClientResponse(c))
}

// ListClients возвращает страницу клиентов с фильтрами по статусу и строке поиска.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	page, limit := parsePagination(r)

	params := repository.ListClientsParams{
		Page:   page,
		Limit:  limit,
		Status: model.ClientStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("q"),
	}

	if params.Status != "" && !params.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Errors: []fieldErrorResponse{{Field: "status", Reason: "unknown status"}},
		})
		return
	}

	clients, total, err := h.service.ListClients(r.Context(), params)
	if err != nil {
		h.writeError(w, err, "list clients")
		return
	}

	resp := pageResponse[clientResponse]{
		Data:       make([]clientResponse, 0, len(clients)),
		Pagination: model.NewPagination(page, limit, total),
	}
	for i := range clients {
		resp.Data = append(resp.Data, toClientResponse(&clients[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// DeleteClient помечает клиента неактивным.
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, err := clientIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if err := h.service.DeleteClient(r.Context(), id); err != nil {
		h.writeError(w, err, "delete client")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type documentValidateResponse struct {
	Exists bool `json:"exists"`
}

// ValidateDocument сообщает, зарегистрирован ли документ указанного типа.
// Используется UI как мягкая проверка перед созданием клиента.
func (h *Handler) ValidateDocument(w http.ResponseWriter, r *http.Request) {
	docType := model.DocumentType(r.URL.Query().Get("type"))
	number := r.URL.Query().Get("number")

	exists, err := h.service.ValidateDocument(r.Context(), docType, number)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.writeError(w, err, "validate document")
		return
	}

	writeJSON(w, http.StatusOK, documentValidateResponse{Exists: exists})
}

type adjustRequest struct {
	Points      int64  `json:"points"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

type transactionResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Points      int64  `json:"points"`
	Description string `json:"description"`
	SaleID      string `json:"sale_id,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toTransactionResponse(e *model.PointsTransaction) transactionResponse {
	resp := transactionResponse{
		ID:          e.ID.String(),
		Type:        string(e.Type),
		Points:      e.Points,
		Description: e.Description,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.SaleID != nil {
		resp.SaleID = *e.SaleID
	}
	return resp
}

// AdjustPoints выполняет ручную корректировку баллов клиента.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	id, err := clientIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Points <= 0 || (req.Direction != "add" && req.Direction != "subtract") {
		writeJSON(w, http.StatusBadRequest, validationResponse{
			Errors: []fieldErrorResponse{{Field: "points", Reason: "points must be positive and direction add or subtract"}},
		})
		return
	}

	delta := req.Points
	if req.Direction == "subtract" {
		delta = -delta
	}

	entry, err := h.service.AdjustPoints(r.Context(), id, delta, req.Description)
	if err != nil {
		h.writeError(w, err, "adjust points")
		return
	}

	writeJSON(w, http.StatusOK, toTransactionResponse(entry))
}

type purchaseRequest struct {
	SaleID        string  `json:"sale_id"`
	Total         float64 `json:"total"`
	ItemsCount    int32   `json:"items_count"`
	PaymentMethod string  `json:"payment_method"`
	PointsUsed    int64   `json:"points_used"`
}

type purchaseResponse struct {
	ID            string  `json:"id"`
	SaleID        string  `json:"sale_id"`
	ItemsCount    int32   `json:"items_count"`
	Total         float64 `json:"total"`
	PaymentMethod string  `json:"payment_method"`
	PointsEarned  int64   `json:"points_earned"`
	PointsUsed    int64   `json:"points_used"`
	CreatedAt     string  `json:"created_at"`
}

func toPurchaseResponse(p *model.Purchase) purchaseResponse {
	return purchaseResponse{
		ID:            p.ID.String(),
		SaleID:        p.SaleID,
		ItemsCount:    p.ItemsCount,
		Total:         float64(p.Total) / 100,
		PaymentMethod: string(p.PaymentMethod),
		PointsEarned:  p.PointsEarned,
		PointsUsed:    p.PointsUsed,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
}

type recordPurchaseResponse struct {
	Purchase     purchaseResponse      `json:"purchase"`
	Transactions []transactionResponse `json:"transactions"`
}

// RecordPurchase записывает завершённую продажу клиента.
// Повторная запись той же продажи возвращает 200 без изменений, новая — 201.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	id, err := clientIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	purchase, entries, already, err := h.service.RecordPurchase(r.Context(), id, service.PurchaseRequest{
		SaleID:        req.SaleID,
		Total:         req.Total,
		ItemsCount:    req.ItemsCount,
		PaymentMethod: model.PaymentMethod(req.PaymentMethod),
		PointsUsed:    req.PointsUsed,
	})
	if err != nil {
		h.writeError(w, err, "record purchase")
		return
	}

	resp := recordPurchaseResponse{
		Purchase:     toPurchaseResponse(purchase),
		Transactions: make([]transactionResponse, 0, len(entries)),
	}
	for i := range entries {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(&entries[i]))
	}

	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// GetPurchases возвращает страницу истории покупок клиента.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	id, err := clientIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	page, limit := parsePagination(r)

	purchases, total, err := h.service.GetPurchases(r.Context(), id, page, limit)
	if err != nil {
		h.writeError(w, err, "get purchases")
		return
	}

	resp := pageResponse[purchaseResponse]{
		Data:       make([]purchaseResponse, 0, len(purchases)),
		Pagination: model.NewPagination(page, limit, total),
	}
	for i := range purchases {
		resp.Data = append(resp.Data, toPurchaseResponse(&purchases[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetPointsHistory возвращает страницу журнала баллов клиента.
func (h *Handler) GetPointsHistory(w http.ResponseWriter, r *http.Request) {
	id, err := clientIDFromRequest(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	page, limit := parsePagination(r)

	entries, total, err := h.service.GetPointsHistory(r.Context(), id, page, limit)
	if err != nil {
		h.writeError(w, err, "get points history")
		return
	}

	resp := pageResponse[transactionResponse]{
		Data:       make([]transactionResponse, 0, len(entries)),
		Pagination: model.NewPagination(page, limit, total),
	}
	for i := range entries {
		resp.Data = append(resp.Data, toTransactionResponse(&entries[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetStats возвращает агрегаты для панели управления.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetStats(r.Context())
	if err != nil {
		h.writeError(w, err, "get stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
