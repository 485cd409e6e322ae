// Package model содержит доменные сущности сервиса клиентов POS.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User представляет учётную запись сотрудника (кассира), работающего с сервисом.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// DocumentType описывает тип документа, удостоверяющего личность клиента.
type DocumentType string

const (
	DocumentCedula            DocumentType = "cedula"
	DocumentNIT               DocumentType = "nit"
	DocumentPasaporte         DocumentType = "pasaporte"
	DocumentCedulaExtranjeria DocumentType = "cedula_extranjeria"
)

// Valid сообщает, является ли значение допустимым типом документа.
func (d DocumentType) Valid() bool {
	switch d {
	case DocumentCedula, DocumentNIT, DocumentPasaporte, DocumentCedulaExtranjeria:
		return true
	}
	return false
}

// ClientStatus описывает статус клиента в системе лояльности.
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "active"
	ClientStatusInactive ClientStatus = "inactive"
	ClientStatusBlocked  ClientStatus = "blocked"
)

// Valid сообщает, является ли значение допустимым статусом клиента.
func (s ClientStatus) Valid() bool {
	switch s {
	case ClientStatusActive, ClientStatusInactive, ClientStatusBlocked:
		return true
	}
	return false
}

// Client описывает клиента и текущее состояние его бонусного счёта.
// Поле Name хранит полное имя (имя и фамилия через пробел), LastName — фамилию отдельно.
// Денежные суммы хранятся в сентаво (целые).
type Client struct {
	ID             uuid.UUID
	Name           string
	LastName       string
	DocumentType   DocumentType
	Document       string
	Phone          string
	Email          string
	Address        string
	City           string
	BirthDate      *time.Time
	Status         ClientStatus
	Points         int64
	TotalPurchases int64
	TotalSpent     int64
	LastPurchase   *time.Time
	CreatedAt      time.Time
}

// PaymentMethod описывает способ оплаты покупки.
type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "cash"
	PaymentCard    PaymentMethod = "card"
	PaymentDigital PaymentMethod = "digital"
	PaymentPoints  PaymentMethod = "points"
	PaymentMixed   PaymentMethod = "mixed"
)

// Valid сообщает, является ли значение допустимым способом оплаты.
func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentDigital, PaymentPoints, PaymentMixed:
		return true
	}
	return false
}

// Purchase — запись истории покупок клиента. Создаётся ровно один раз на продажу
// и после создания не изменяется.
type Purchase struct {
	ID            uuid.UUID
	ClientID      uuid.UUID
	SaleID        string
	ItemsCount    int32
	Total         int64
	PaymentMethod PaymentMethod
	PointsEarned  int64
	PointsUsed    int64
	CreatedAt     time.Time
}

// TransactionType описывает тип записи в журнале бонусных баллов.
type TransactionType string

const (
	TransactionEarned     TransactionType = "earned"
	TransactionUsed       TransactionType = "used"
	TransactionExpired    TransactionType = "expired"
	TransactionAdjustment TransactionType = "adjustment"
)

// PointsTransaction — запись append-only журнала баллов. Поле Points знаковое:
// положительное для начислений и положительных корректировок, отрицательное для
// списаний, сгораний и отрицательных корректировок. Записи не изменяются и не
// удаляются; исправления оформляются новыми записями типа adjustment.
type PointsTransaction struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	Type        TransactionType
	Points      int64
	Description string
	SaleID      *string
	CreatedAt   time.Time
}

// Pagination описывает метаданные постраничного ответа API.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// NewPagination рассчитывает метаданные страницы по номеру, размеру и общему числу записей.
func NewPagination(page, limit int, total int64) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1 && total > 0,
	}
}

// Stats содержит агрегаты для панели управления.
type Stats struct {
	ClientsTotal   int64 `json:"clients_total"`
	ClientsActive  int64 `json:"clients_active"`
	ClientsBlocked int64 `json:"clients_blocked"`
	PointsIssued   int64 `json:"points_issued"`
	PointsRedeemed int64 `json:"points_redeemed"`
	PointsExpired  int64 `json:"points_expired"`
}
