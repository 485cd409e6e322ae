package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/posclients-system/internal/model"
	"github.com/mmeshcher/posclients-system/internal/repository"
)

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	createdClient *model.Client
	createErr     error

	client    *model.Client
	clientErr error

	adjustEntry  *model.PointsTransaction
	adjustErr    error
	adjustCalled bool

	recordAlready bool
	recordStored  *model.Purchase
	recordEntries []model.PointsTransaction
	recordErr     error
	recorded      *model.Purchase

	expiryIDs     []uuid.UUID
	expiryErr     error
	expiredClient []uuid.UUID
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) CreateClient(ctx context.Context, c *model.Client) (*model.Client, error) {
	s.createdClient = c
	if s.createErr != nil {
		return nil, s.createErr
	}
	return c, nil
}

func (s *stubRepo) UpdateClient(ctx context.Context, c *model.Client) (*model.Client, error) {
	s.createdClient = c
	if s.createErr != nil {
		return nil, s.createErr
	}
	return c, nil
}

func (s *stubRepo) GetClientByID(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	return s.client, s.clientErr
}

func (s *stubRepo) FindClientByDocument(ctx context.Context, docType model.DocumentType, document string) (*model.Client, error) {
	return s.client, s.clientErr
}

func (s *stubRepo) ListClients(ctx context.Context, p repository.ListClientsParams) ([]model.Client, int64, error) {
	return nil, 0, nil
}

func (s *stubRepo) DeleteClient(ctx context.Context, id uuid.UUID) error { return nil }

func (s *stubRepo) AdjustPoints(ctx context.Context, clientID uuid.UUID, delta int64, description string) (*model.PointsTransaction, error) {
	s.adjustCalled = true
	return s.adjustEntry, s.adjustErr
}

func (s *stubRepo) RecordPurchase(ctx context.Context, p *model.Purchase) (bool, []model.PointsTransaction, error) {
	s.recorded = p
	if s.recordAlready && s.recordStored != nil {
		*p = *s.recordStored
	}
	return s.recordAlready, s.recordEntries, s.recordErr
}

func (s *stubRepo) ListPurchases(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.Purchase, int64, error) {
	return nil, 0, nil
}

func (s *stubRepo) ListPointsTransactions(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.PointsTransaction, int64, error) {
	return nil, 0, nil
}

func (s *stubRepo) GetClientsForExpiry(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return s.expiryIDs, s.expiryErr
}

func (s *stubRepo) ExpirePoints(ctx context.Context, clientID uuid.UUID, cutoff time.Time) (*model.PointsTransaction, error) {
	s.expiredClient = append(s.expiredClient, clientID)
	return nil, nil
}

func (s *stubRepo) GetStats(ctx context.Context) (*model.Stats, error) { return &model.Stats{}, nil }

func TestPointsForTotal(t *testing.T) {
	tests := []struct {
		name       string
		totalCents int64
		method     model.PaymentMethod
		want       int64
	}{
		{name: "4500 units earn 4", totalCents: 450000, method: model.PaymentCash, want: 4},
		{name: "999 units earn nothing", totalCents: 99900, method: model.PaymentCard, want: 0},
		{name: "exactly 1000 units earn 1", totalCents: 100000, method: model.PaymentDigital, want: 1},
		{name: "paid with points earns nothing", totalCents: 450000, method: model.PaymentPoints, want: 0},
		{name: "mixed payment still earns", totalCents: 250000, method: model.PaymentMixed, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PointsForTotal(tt.totalCents, tt.method)
			if got != tt.want {
				t.Fatalf("PointsForTotal(%d, %s) = %d, want %d", tt.totalCents, tt.method, got, tt.want)
			}
		})
	}
}

func TestComposeName(t *testing.T) {
	if got := composeName("Juan", "Pérez"); got != "Juan Pérez" {
		t.Fatalf("composeName = %q, want %q", got, "Juan Pérez")
	}
	if got := composeName("  Ana ", ""); got != "Ana" {
		t.Fatalf("composeName = %q, want %q", got, "Ana")
	}
}

func TestAuthenticateUser(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	repo := &stubRepo{getUser: &model.User{ID: 7, Login: "cashier", PasswordHash: hash}}
	svc := NewService(repo, nil)

	id, err := svc.AuthenticateUser(context.Background(), "cashier", "secret")
	if err != nil {
		t.Fatalf("AuthenticateUser error: %v", err)
	}
	if id != 7 {
		t.Fatalf("id = %d, want 7", id)
	}

	_, err = svc.AuthenticateUser(context.Background(), "cashier", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestCreateClientComposesName(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	c, err := svc.CreateClient(context.Background(), ClientRequest{
		Name:         "Juan",
		LastName:     "Pérez",
		DocumentType: model.DocumentCedula,
		Document:     "1020304050",
		Phone:        "+57 300 1234567",
	})
	if err != nil {
		t.Fatalf("CreateClient error: %v", err)
	}

	if c.Name != "Juan Pérez" {
		t.Fatalf("name = %q, want %q", c.Name, "Juan Pérez")
	}
	if c.Status != model.ClientStatusActive {
		t.Fatalf("status = %s, want active", c.Status)
	}
	if c.Points != 0 || c.TotalPurchases != 0 || c.TotalSpent != 0 {
		t.Fatalf("new client must start with zero ledger fields: %+v", c)
	}
}

func TestCreateClientValidation(t *testing.T) {
	tests := []struct {
		name string
		req  ClientRequest
	}{
		{
			name: "short name",
			req: ClientRequest{
				Name: "J", LastName: "Pérez", DocumentType: model.DocumentCedula,
				Document: "1020304050", Phone: "3001234567",
			},
		},
		{
			name: "bad phone",
			req: ClientRequest{
				Name: "Juan", LastName: "Pérez", DocumentType: model.DocumentCedula,
				Document: "1020304050", Phone: "not-a-phone",
			},
		},
		{
			name: "unknown document type",
			req: ClientRequest{
				Name: "Juan", LastName: "Pérez", DocumentType: "licencia",
				Document: "1020304050", Phone: "3001234567",
			},
		},
		{
			name: "invalid NIT check digit",
			req: ClientRequest{
				Name: "Juan", LastName: "Pérez", DocumentType: model.DocumentNIT,
				Document: "800197268-5", Phone: "3001234567",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{}
			svc := NewService(repo, nil)

			_, err := svc.CreateClient(context.Background(), tt.req)

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
			if repo.createdClient != nil {
				t.Fatalf("repository must not be called on validation failure")
			}
		})
	}
}

func TestAdjustPointsValidation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	var verr *ValidationError

	_, err := svc.AdjustPoints(context.Background(), uuid.New(), 0, "manual correction")
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError for zero delta", err)
	}

	_, err = svc.AdjustPoints(context.Background(), uuid.New(), 100, "abc")
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError for short description", err)
	}

	if repo.adjustCalled {
		t.Fatalf("repository must not be called on validation failure")
	}
}

func TestAdjustPointsPassesThrough(t *testing.T) {
	entry := &model.PointsTransaction{Type: model.TransactionAdjustment, Points: 100}
	repo := &stubRepo{adjustEntry: entry}
	svc := NewService(repo, nil)

	got, err := svc.AdjustPoints(context.Background(), uuid.New(), 100, "manual correction")
	if err != nil {
		t.Fatalf("AdjustPoints error: %v", err)
	}
	if got != entry {
		t.Fatalf("unexpected entry: %+v", got)
	}

	repo.adjustErr = repository.ErrInsufficientPoints
	_, err = svc.AdjustPoints(context.Background(), uuid.New(), -500, "manual correction")
	if !errors.Is(err, repository.ErrInsufficientPoints) {
		t.Fatalf("error = %v, want ErrInsufficientPoints", err)
	}
}

func TestRecordPurchaseComputesAccrual(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	p, _, already, err := svc.RecordPurchase(context.Background(), uuid.New(), PurchaseRequest{
		SaleID:        "S-1",
		Total:         4500,
		ItemsCount:    3,
		PaymentMethod: model.PaymentCash,
	})
	if err != nil {
		t.Fatalf("RecordPurchase error: %v", err)
	}
	if already {
		t.Fatalf("already = true, want false")
	}
	if p.PointsEarned != 4 {
		t.Fatalf("points earned = %d, want 4", p.PointsEarned)
	}
	if p.Total != 450000 {
		t.Fatalf("total cents = %d, want 450000", p.Total)
	}

	p, _, _, err = svc.RecordPurchase(context.Background(), uuid.New(), PurchaseRequest{
		SaleID:        "S-2",
		Total:         999,
		PaymentMethod: model.PaymentCard,
	})
	if err != nil {
		t.Fatalf("RecordPurchase error: %v", err)
	}
	if p.PointsEarned != 0 {
		t.Fatalf("points earned = %d, want 0 for total below 1000", p.PointsEarned)
	}

	// Перевод в сентаво округляется, а не усекается: 19.99 * 100 в float64 чуть
	// меньше 1999.
	p, _, _, err = svc.RecordPurchase(context.Background(), uuid.New(), PurchaseRequest{
		SaleID:        "S-3",
		Total:         19.99,
		PaymentMethod: model.PaymentCard,
	})
	if err != nil {
		t.Fatalf("RecordPurchase error: %v", err)
	}
	if p.Total != 1999 {
		t.Fatalf("total cents = %d, want 1999", p.Total)
	}
}

func TestRecordPurchaseDuplicateReturnsStored(t *testing.T) {
	clientID := uuid.New()
	saleID := "S-1"
	stored := &model.Purchase{
		ID:            uuid.New(),
		ClientID:      clientID,
		SaleID:        saleID,
		ItemsCount:    3,
		Total:         450000,
		PaymentMethod: model.PaymentCash,
		PointsEarned:  4,
		CreatedAt:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	storedEntries := []model.PointsTransaction{
		{ID: uuid.New(), ClientID: clientID, Type: model.TransactionEarned, Points: 4, SaleID: &saleID, CreatedAt: stored.CreatedAt},
	}

	repo := &stubRepo{recordAlready: true, recordStored: stored, recordEntries: storedEntries}
	svc := NewService(repo, nil)

	// Повторная запись с другой суммой возвращает ранее сохранённую покупку,
	// а не отражение запроса.
	p, entries, already, err := svc.RecordPurchase(context.Background(), clientID, PurchaseRequest{
		SaleID:        saleID,
		Total:         1,
		PaymentMethod: model.PaymentCard,
	})
	if err != nil {
		t.Fatalf("RecordPurchase error: %v", err)
	}
	if !already {
		t.Fatalf("already = false, want true")
	}
	if p.ID != stored.ID {
		t.Fatalf("id = %s, want stored %s", p.ID, stored.ID)
	}
	if p.Total != stored.Total {
		t.Fatalf("total = %d, want stored %d", p.Total, stored.Total)
	}
	if p.CreatedAt.IsZero() || !p.CreatedAt.Equal(stored.CreatedAt) {
		t.Fatalf("created_at = %v, want stored %v", p.CreatedAt, stored.CreatedAt)
	}
	if len(entries) != 1 || entries[0].ID != storedEntries[0].ID {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestRecordPurchaseValidation(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil)

	_, _, _, err := svc.RecordPurchase(context.Background(), uuid.New(), PurchaseRequest{
		SaleID:        "",
		Total:         100,
		PaymentMethod: model.PaymentCash,
	})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if repo.recorded != nil {
		t.Fatalf("repository must not be called on validation failure")
	}
}

func TestValidateDocument(t *testing.T) {
	repo := &stubRepo{clientErr: repository.ErrClientNotFound}
	svc := NewService(repo, nil)

	exists, err := svc.ValidateDocument(context.Background(), model.DocumentCedula, "1020304050")
	if err != nil {
		t.Fatalf("ValidateDocument error: %v", err)
	}
	if exists {
		t.Fatalf("exists = true, want false")
	}

	repo.client = &model.Client{}
	repo.clientErr = nil

	exists, err = svc.ValidateDocument(context.Background(), model.DocumentCedula, "1020304050")
	if err != nil {
		t.Fatalf("ValidateDocument error: %v", err)
	}
	if !exists {
		t.Fatalf("exists = false, want true")
	}
}

func TestProcessExpiryBatch(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	repo := &stubRepo{expiryIDs: ids}
	svc := NewService(repo, nil)

	svc.processExpiryBatch(context.Background(), 365, zap.NewNop())

	if len(repo.expiredClient) != 2 {
		t.Fatalf("expired %d clients, want 2", len(repo.expiredClient))
	}
}

func TestProcessExpiryBatchLogsListError(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	repo := &stubRepo{expiryErr: errors.New("connection refused")}
	svc := NewService(repo, nil)

	svc.processExpiryBatch(context.Background(), 365, logger)

	if len(repo.expiredClient) != 0 {
		t.Fatalf("no clients should be expired on listing error")
	}
	if logs.FilterMessage("list clients for expiry").Len() != 1 {
		t.Fatalf("expected a warn entry for the listing error, got %+v", logs.All())
	}
}
