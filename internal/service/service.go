// Package service реализует бизнес-логику сервиса клиентов POS.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/posclients-system/internal/model"
	"github.com/mmeshcher/posclients-system/internal/repository"
	"github.com/mmeshcher/posclients-system/internal/sales"
	"github.com/mmeshcher/posclients-system/internal/validation"
)

// Баллы начисляются за каждую полную тысячу денежных единиц чека.
// Суммы хранятся в сентаво, поэтому делитель — 1000 * 100.
const accrualDivisorCents = 100000

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError описывает нарушения правил валидации входных данных.
// Такие ошибки не доходят до хранилища.
type ValidationError struct {
	Fields []validation.FieldError
}

func (e *ValidationError) Error() string {
	reasons := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		reasons = append(reasons, f.Error())
	}
	return "validation failed: " + strings.Join(reasons, "; ")
}

func validationErr(fields ...validation.FieldError) error {
	return &ValidationError{Fields: fields}
}

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateClient(ctx context.Context, c *model.Client) (*model.Client, error)
	UpdateClient(ctx context.Context, c *model.Client) (*model.Client, error)
	GetClientByID(ctx context.Context, id uuid.UUID) (*model.Client, error)
	FindClientByDocument(ctx context.Context, docType model.DocumentType, document string) (*model.Client, error)
	ListClients(ctx context.Context, p repository.ListClientsParams) ([]model.Client, int64, error)
	DeleteClient(ctx context.Context, id uuid.UUID) error
	AdjustPoints(ctx context.Context, clientID uuid.UUID, delta int64, description string) (*model.PointsTransaction, error)
	RecordPurchase(ctx context.Context, p *model.Purchase) (bool, []model.PointsTransaction, error)
	ListPurchases(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.Purchase, int64, error)
	ListPointsTransactions(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.PointsTransaction, int64, error)
	GetClientsForExpiry(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ExpirePoints(ctx context.Context, clientID uuid.UUID, cutoff time.Time) (*model.PointsTransaction, error)
	GetStats(ctx context.Context) (*model.Stats, error)
}

// Service содержит бизнес-логику сервиса клиентов POS.
type Service struct {
	repo        Repository
	salesClient *sales.Client
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом системы продаж.
func NewService(repo Repository, salesClient *sales.Client) *Service {
	return &Service{
		repo:        repo,
		salesClient: salesClient,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового сотрудника.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль сотрудника и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

// ClientRequest описывает данные формы регистрации или редактирования клиента.
type ClientRequest struct {
	Name         string
	LastName     string
	DocumentType model.DocumentType
	Document     string
	Phone        string
	Email        string
	Address      string
	City         string
	BirthDate    *time.Time
	Status       model.ClientStatus
}

func (s *Service) validateClientRequest(req *ClientRequest) error {
	errs := validation.CheckClientFields(map[string]string{
		"name":      req.Name,
		"last_name": req.LastName,
		"phone":     req.Phone,
		"document":  req.Document,
		"email":     req.Email,
	})

	if !req.DocumentType.Valid() {
		errs = append(errs, validation.FieldError{Field: "document_type", Reason: "unknown document type"})
	} else if req.DocumentType == model.DocumentNIT && !validation.IsValidNIT(req.Document) {
		errs = append(errs, validation.FieldError{Field: "document", Reason: "invalid NIT"})
	}

	if req.Status != "" && !req.Status.Valid() {
		errs = append(errs, validation.FieldError{Field: "status", Reason: "unknown status"})
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// composeName собирает хранимое полное имя из имени и фамилии.
func composeName(name, lastName string) string {
	return strings.TrimSpace(strings.TrimSpace(name) + " " + strings.TrimSpace(lastName))
}

// CreateClient регистрирует нового клиента с нулевым бонусным счётом.
// Повторный документ того же типа отклоняется: хранилище — авторитетный
// источник проверки дублей, предупреждение в UI этим не заменяется.
func (s *Service) CreateClient(ctx context.Context, req ClientRequest) (*model.Client, error) {
	if err := s.validateClientRequest(&req); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = model.ClientStatusActive
	}

	c := &model.Client{
		ID:           uuid.New(),
		Name:         composeName(req.Name, req.LastName),
		LastName:     strings.TrimSpace(req.LastName),
		DocumentType: req.DocumentType,
		Document:     strings.TrimSpace(req.Document),
		Phone:        strings.TrimSpace(req.Phone),
		Email:        strings.TrimSpace(req.Email),
		Address:      strings.TrimSpace(req.Address),
		City:         strings.TrimSpace(req.City),
		BirthDate:    req.BirthDate,
		Status:       status,
	}

	return s.repo.CreateClient(ctx, c)
}

// UpdateClient обновляет профиль существующего клиента, сохраняя его идентичность.
func (s *Service) UpdateClient(ctx context.Context, id uuid.UUID, req ClientRequest) (*model.Client, error) {
	if err := s.validateClientRequest(&req); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		current, err := s.repo.GetClientByID(ctx, id)
		if err != nil {
			return nil, err
		}
		status = current.Status
	}

	c := &model.Client{
		ID:           id,
		Name:         composeName(req.Name, req.LastName),
		LastName:     strings.TrimSpace(req.LastName),
		DocumentType: req.DocumentType,
		Document:     strings.TrimSpace(req.Document),
		Phone:        strings.TrimSpace(req.Phone),
		Email:        strings.TrimSpace(req.Email),
		Address:      strings.TrimSpace(req.Address),
		City:         strings.TrimSpace(req.City),
		BirthDate:    req.BirthDate,
		Status:       status,
	}

	return s.repo.UpdateClient(ctx, c)
}

// GetClient возвращает клиента по идентификатору.
func (s *Service) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	return s.repo.GetClientByID(ctx, id)
}

// ListClients возвращает страницу клиентов по фильтрам.
func (s *Service) ListClients(ctx context.Context, p repository.ListClientsParams) ([]model.Client, int64, error) {
	return s.repo.ListClients(ctx, p)
}

// DeleteClient помечает клиента неактивным. История покупок и журнал баллов сохраняются.
func (s *Service) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteClient(ctx, id)
}

// ValidateDocument сообщает, зарегистрирован ли уже документ указанного типа.
func (s *Service) ValidateDocument(ctx context.Context, docType model.DocumentType, document string) (bool, error) {
	if !docType.Valid() {
		return false, validationErr(validation.FieldError{Field: "document_type", Reason: "unknown document type"})
	}
	if ferr := validation.CheckField("document", document, validation.ClientRules["document"]); ferr != nil {
		return false, validationErr(*ferr)
	}

	_, err := s.repo.FindClientByDocument(ctx, docType, strings.TrimSpace(document))
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AdjustPoints выполняет ручную корректировку баллов клиента на знаковую дельту.
// Неположительный итоговый баланс отклоняется хранилищем под блокировкой строки.
func (s *Service) AdjustPoints(ctx context.Context, clientID uuid.UUID, delta int64, description string) (*model.PointsTransaction, error) {
	if delta == 0 {
		return nil, validationErr(validation.FieldError{Field: "points", Reason: "must not be zero"})
	}
	if ferr := validation.CheckDescription(description); ferr != nil {
		return nil, validationErr(*ferr)
	}

	return s.repo.AdjustPoints(ctx, clientID, delta, strings.TrimSpace(description))
}

// PurchaseRequest описывает завершённую продажу, по которой начисляются
// и/или списываются баллы.
type PurchaseRequest struct {
	SaleID        string
	Total         float64
	ItemsCount    int32
	PaymentMethod model.PaymentMethod
	PointsUsed    int64
}

// PointsForTotal возвращает число баллов за чек: по одному за каждую полную
// тысячу денежных единиц. Продажа, полностью оплаченная баллами, ничего не начисляет.
func PointsForTotal(totalCents int64, method model.PaymentMethod) int64 {
	if method == model.PaymentPoints {
		return 0
	}
	return totalCents / accrualDivisorCents
}

// RecordPurchase записывает покупку клиента: запись истории, начисление за чек
// и списание использованных баллов создаются одной транзакцией. Повторная запись
// той же продажи ничего не меняет: возвращаются already = true, ранее сохранённая
// покупка и её записи журнала.
func (s *Service) RecordPurchase(ctx context.Context, clientID uuid.UUID, req PurchaseRequest) (*model.Purchase, []model.PointsTransaction, bool, error) {
	var errs []validation.FieldError
	if strings.TrimSpace(req.SaleID) == "" {
		errs = append(errs, validation.FieldError{Field: "sale_id", Reason: "required"})
	}
	if req.Total < 0 {
		errs = append(errs, validation.FieldError{Field: "total", Reason: "must not be negative"})
	}
	if !req.PaymentMethod.Valid() {
		errs = append(errs, validation.FieldError{Field: "payment_method", Reason: "unknown payment method"})
	}
	if req.PointsUsed < 0 {
		errs = append(errs, validation.FieldError{Field: "points_used", Reason: "must not be negative"})
	}
	if len(errs) > 0 {
		return nil, nil, false, &ValidationError{Fields: errs}
	}

	saleID := strings.TrimSpace(req.SaleID)

	if s.salesClient != nil {
		if _, err := s.salesClient.GetSale(ctx, saleID); err != nil {
			return nil, nil, false, err
		}
	}

	totalCents := int64(math.Round(req.Total * 100))

	p := &model.Purchase{
		ID:            uuid.New(),
		ClientID:      clientID,
		SaleID:        saleID,
		ItemsCount:    req.ItemsCount,
		Total:         totalCents,
		PaymentMethod: req.PaymentMethod,
		PointsEarned:  PointsForTotal(totalCents, req.PaymentMethod),
		PointsUsed:    req.PointsUsed,
	}

	already, entries, err := s.repo.RecordPurchase(ctx, p)
	if err != nil {
		return nil, nil, false, err
	}

	return p, entries, already, nil
}

// GetPurchases возвращает страницу истории покупок клиента.
func (s *Service) GetPurchases(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.Purchase, int64, error) {
	if _, err := s.repo.GetClientByID(ctx, clientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListPurchases(ctx, clientID, page, limit)
}

// GetPointsHistory возвращает страницу журнала баллов клиента.
func (s *Service) GetPointsHistory(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.PointsTransaction, int64, error) {
	if _, err := s.repo.GetClientByID(ctx, clientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListPointsTransactions(ctx, clientID, page, limit)
}

// GetStats возвращает агрегаты для панели управления.
func (s *Service) GetStats(ctx context.Context) (*model.Stats, error) {
	return s.repo.GetStats(ctx)
}

// StartExpiryWorker запускает фоновый процесс сгорания баллов, начисленных
// раньше ttlDays дней назад. При ttlDays = 0 процесс не запускается.
func (s *Service) StartExpiryWorker(ctx context.Context, ttlDays int, logger *zap.Logger) {
	if ttlDays <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processExpiryBatch(ctx, ttlDays, logger)
			}
		}
	}()
}

func (s *Service) processExpiryBatch(ctx context.Context, ttlDays int, logger *zap.Logger) {
	cutoff := time.Now().AddDate(0, 0, -ttlDays)

	ids, err := s.repo.GetClientsForExpiry(ctx, cutoff, 100)
	if err != nil {
		logger.Warn("list clients for expiry", zap.Error(err))
		return
	}

	for _, id := range ids {
		if _, err := s.repo.ExpirePoints(ctx, id, cutoff); err != nil {
			logger.Warn("expire points", zap.String("client", id.String()), zap.Error(err))
		}
	}
}
