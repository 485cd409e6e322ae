// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/posclients-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrClientNotFound возвращается, если клиент не найден.
	ErrClientNotFound = errors.New("client not found")
	// ErrDuplicateDocument возвращается при попытке создать клиента с уже зарегистрированным документом.
	ErrDuplicateDocument = errors.New("document already registered")
	// ErrInsufficientPoints возвращается при попытке списать больше баллов, чем есть на счёте.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrSaleOwnedByAnother возвращается, если продажа уже записана другому клиенту.
	ErrSaleOwnedByAnother = errors.New("sale already recorded for another client")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сериализационных конфликтах, дедлоках и сетевых сбоях.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
			return err
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

const clientColumns = `id, name, last_name, document_type, document, phone, email, address, city,
	 birth_date, status, points, total_purchases, total_spent, last_purchase, created_at`

func scanClient(row pgx.Row) (*model.Client, error) {
	var c model.Client
	err := row.Scan(
		&c.ID, &c.Name, &c.LastName, &c.DocumentType, &c.Document, &c.Phone, &c.Email,
		&c.Address, &c.City, &c.BirthDate, &c.Status, &c.Points, &c.TotalPurchases,
		&c.TotalSpent, &c.LastPurchase, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateClient сохраняет нового клиента. Возвращает ErrDuplicateDocument,
// если документ этого типа уже зарегистрирован.
func (r *PostgresRepository) CreateClient(ctx context.Context, c *model.Client) (*model.Client, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO clients (id, name, last_name, document_type, document, phone, email, address, city, birth_date, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+clientColumns,
		c.ID, c.Name, c.LastName, string(c.DocumentType), c.Document, c.Phone, c.Email,
		c.Address, c.City, c.BirthDate, string(c.Status),
	)

	created, err := scanClient(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateDocument, c.DocumentType, c.Document)
		}
		return nil, fmt.Errorf("create client: %w", err)
	}

	return created, nil
}

// UpdateClient обновляет профильные поля клиента. Поля бонусного счёта
// изменяются только операциями журнала.
func (r *PostgresRepository) UpdateClient(ctx context.Context, c *model.Client) (*model.Client, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE clients
		 SET name = $2, last_name = $3, document_type = $4, document = $5, phone = $6,
		     email = $7, address = $8, city = $9, birth_date = $10, status = $11
		 WHERE id = $1
		 RETURNING `+clientColumns,
		c.ID, c.Name, c.LastName, string(c.DocumentType), c.Document, c.Phone, c.Email,
		c.Address, c.City, c.BirthDate, string(c.Status),
	)

	updated, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateDocument, c.DocumentType, c.Document)
		}
		return nil, fmt.Errorf("update client: %w", err)
	}

	return updated, nil
}

// GetClientByID возвращает клиента по идентификатору.
func (r *PostgresRepository) GetClientByID(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)

	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}

	return c, nil
}

// FindClientByDocument возвращает клиента по типу и номеру документа.
func (r *PostgresRepository) FindClientByDocument(ctx context.Context, docType model.DocumentType, document string) (*model.Client, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE document_type = $1 AND document = $2`,
		string(docType), document,
	)

	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("find client by document: %w", err)
	}

	return c, nil
}

// ListClientsParams описывает параметры постраничной выборки клиентов.
type ListClientsParams struct {
	Page   int
	Limit  int
	Status model.ClientStatus
	Search string
}

// ListClients возвращает страницу клиентов и общее число записей по фильтрам.
// Поиск ведётся по имени, документу и телефону.
func (r *PostgresRepository) ListClients(ctx context.Context, p ListClientsParams) ([]model.Client, int64, error) {
	where := []string{"1=1"}
	args := []any{}

	if p.Status != "" {
		args = append(args, string(p.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if p.Search != "" {
		args = append(args, "%"+p.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR document ILIKE $%d OR phone ILIKE $%d)", n, n, n))
	}

	cond := strings.Join(where, " AND ")

	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM clients WHERE `+cond, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count clients: %w", err)
	}

	args = append(args, p.Limit, (p.Page-1)*p.Limit)
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM clients WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			clientColumns, cond, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select clients: %w", err)
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return clients, total, nil
}

// DeleteClient помечает клиента неактивным. Записи журнала и истории покупок
// остаются нетронутыми.
func (r *PostgresRepository) DeleteClient(ctx context.Context, id uuid.UUID) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE clients SET status = $2 WHERE id = $1`,
		id, string(model.ClientStatusInactive),
	)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// AdjustPoints атомарно добавляет запись типа adjustment и изменяет баланс клиента.
// Строка клиента блокируется на время транзакции, чтобы параллельные корректировки
// не увели баланс в минус.
func (r *PostgresRepository) AdjustPoints(ctx context.Context, clientID uuid.UUID, delta int64, description string) (*model.PointsTransaction, error) {
	var result *model.PointsTransaction

	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx, `SELECT points FROM clients WHERE id = $1 FOR UPDATE`, clientID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrClientNotFound
			}
			return fmt.Errorf("lock client for update: %w", err)
		}

		if balance+delta < 0 {
			return ErrInsufficientPoints
		}

		entry := model.PointsTransaction{
			ID:          uuid.New(),
			ClientID:    clientID,
			Type:        model.TransactionAdjustment,
			Points:      delta,
			Description: description,
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO points_transactions (id, client_id, type, points, description)
			 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
			entry.ID, entry.ClientID, string(entry.Type), entry.Points, entry.Description,
		).Scan(&entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE clients SET points = points + $2 WHERE id = $1`,
			clientID, delta,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RecordPurchase атомарно записывает покупку, сопутствующие записи журнала баллов
// и обновление счётчиков клиента. Если продажа уже была записана ранее, изменений
// не производится: в p подставляется ранее сохранённая строка, возвращаются её
// записи журнала и признак already = true.
func (r *PostgresRepository) RecordPurchase(ctx context.Context, p *model.Purchase) (bool, []model.PointsTransaction, error) {
	var (
		already bool
		entries []model.PointsTransaction
	)

	err := r.withRetry(ctx, func(ctx context.Context) error {
		already = false
		entries = nil

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx, `SELECT points FROM clients WHERE id = $1 FOR UPDATE`, p.ClientID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrClientNotFound
			}
			return fmt.Errorf("lock client for update: %w", err)
		}

		if p.PointsUsed > balance {
			return ErrInsufficientPoints
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO purchases (id, client_id, sale_id, items_count, total, payment_method, points_earned, points_used)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (sale_id) DO NOTHING
			 RETURNING created_at`,
			p.ID, p.ClientID, p.SaleID, p.ItemsCount, p.Total, string(p.PaymentMethod), p.PointsEarned, p.PointsUsed,
		).Scan(&p.CreatedAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("insert purchase: %w", err)
		}

		if errors.Is(err, pgx.ErrNoRows) {
			var stored model.Purchase
			var method string
			err = tx.QueryRow(ctx,
				`SELECT id, client_id, sale_id, items_count, total, payment_method, points_earned, points_used, created_at
				 FROM purchases WHERE sale_id = $1`, p.SaleID,
			).Scan(&stored.ID, &stored.ClientID, &stored.SaleID, &stored.ItemsCount, &stored.Total,
				&method, &stored.PointsEarned, &stored.PointsUsed, &stored.CreatedAt)
			if err != nil {
				return fmt.Errorf("select existing purchase: %w", err)
			}
			if stored.ClientID != p.ClientID {
				return ErrSaleOwnedByAnother
			}
			stored.PaymentMethod = model.PaymentMethod(method)
			*p = stored

			rows, err := tx.Query(ctx,
				`SELECT id, client_id, type, points, description, sale_id, created_at
				 FROM points_transactions WHERE sale_id = $1 ORDER BY created_at`, p.SaleID,
			)
			if err != nil {
				return fmt.Errorf("select existing transactions: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var e model.PointsTransaction
				var txType string
				if err := rows.Scan(&e.ID, &e.ClientID, &txType, &e.Points, &e.Description, &e.SaleID, &e.CreatedAt); err != nil {
					return fmt.Errorf("scan existing transaction: %w", err)
				}
				e.Type = model.TransactionType(txType)
				entries = append(entries, e)
			}
			if err := rows.Err(); err != nil {
				return fmt.Errorf("rows error: %w", err)
			}

			already = true
			return tx.Commit(ctx)
		}

		if p.PointsEarned > 0 {
			earned := model.PointsTransaction{
				ID:          uuid.New(),
				ClientID:    p.ClientID,
				Type:        model.TransactionEarned,
				Points:      p.PointsEarned,
				Description: fmt.Sprintf("purchase %s", p.SaleID),
				SaleID:      &p.SaleID,
			}
			err = tx.QueryRow(ctx,
				`INSERT INTO points_transactions (id, client_id, type, points, description, sale_id)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
				earned.ID, earned.ClientID, string(earned.Type), earned.Points, earned.Description, earned.SaleID,
			).Scan(&earned.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert earned transaction: %w", err)
			}
			entries = append(entries, earned)
		}

		if p.PointsUsed > 0 {
			used := model.PointsTransaction{
				ID:          uuid.New(),
				ClientID:    p.ClientID,
				Type:        model.TransactionUsed,
				Points:      -p.PointsUsed,
				Description: fmt.Sprintf("redeemed on purchase %s", p.SaleID),
				SaleID:      &p.SaleID,
			}
			err = tx.QueryRow(ctx,
				`INSERT INTO points_transactions (id, client_id, type, points, description, sale_id)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
				used.ID, used.ClientID, string(used.Type), used.Points, used.Description, used.SaleID,
			).Scan(&used.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert used transaction: %w", err)
			}
			entries = append(entries, used)
		}

		_, err = tx.Exec(ctx,
			`UPDATE clients
			 SET points = points + $2,
			     total_purchases = total_purchases + 1,
			     total_spent = total_spent + $3,
			     last_purchase = now()
			 WHERE id = $1`,
			p.ClientID, p.PointsEarned-p.PointsUsed, p.Total,
		)
		if err != nil {
			return fmt.Errorf("update client counters: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return false, nil, err
	}

	return already, entries, nil
}

// ListPurchases возвращает страницу истории покупок клиента, новые записи первыми.
func (r *PostgresRepository) ListPurchases(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.Purchase, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM purchases WHERE client_id = $1`, clientID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count purchases: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, client_id, sale_id, items_count, total, payment_method, points_earned, points_used, created_at
		 FROM purchases
		 WHERE client_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		clientID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		var p model.Purchase
		var method string
		if err := rows.Scan(&p.ID, &p.ClientID, &p.SaleID, &p.ItemsCount, &p.Total, &method, &p.PointsEarned, &p.PointsUsed, &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan purchase: %w", err)
		}
		p.PaymentMethod = model.PaymentMethod(method)
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return purchases, total, nil
}

// ListPointsTransactions возвращает страницу журнала баллов клиента, новые записи первыми.
func (r *PostgresRepository) ListPointsTransactions(ctx context.Context, clientID uuid.UUID, page, limit int) ([]model.PointsTransaction, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM points_transactions WHERE client_id = $1`, clientID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, client_id, type, points, description, sale_id, created_at
		 FROM points_transactions
		 WHERE client_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		clientID, limit, (page-1)*limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var entries []model.PointsTransaction
	for rows.Next() {
		var e model.PointsTransaction
		var txType string
		if err := rows.Scan(&e.ID, &e.ClientID, &txType, &e.Points, &e.Description, &e.SaleID, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		e.Type = model.TransactionType(txType)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return entries, total, nil
}

// GetClientsForExpiry возвращает клиентов, у которых могут быть просроченные баллы:
// положительный баланс и начисления старше отсечки. Точный объём сгорания
// пересчитывается в ExpirePoints под блокировкой.
func (r *PostgresRepository) GetClientsForExpiry(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id
		 FROM clients c
		 WHERE c.points > 0
		   AND EXISTS (
		       SELECT 1 FROM points_transactions t
		       WHERE t.client_id = c.id AND t.points > 0 AND t.created_at < $1
		   )
		 ORDER BY c.id
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select clients for expiry: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan client id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// ExpirePoints сгорание баллов клиента, начисленных до отсечки. Баллы считаются
// потраченными в порядке начисления: сгорает min(баланс, max(0, начислено до отсечки —
// потрачено всего)). Если сгорать нечему, запись не создаётся.
func (r *PostgresRepository) ExpirePoints(ctx context.Context, clientID uuid.UUID, cutoff time.Time) (*model.PointsTransaction, error) {
	var result *model.PointsTransaction

	err := r.withRetry(ctx, func(ctx context.Context) error {
		result = nil

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance int64
		err = tx.QueryRow(ctx, `SELECT points FROM clients WHERE id = $1 FOR UPDATE`, clientID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrClientNotFound
			}
			return fmt.Errorf("lock client for update: %w", err)
		}

		var earnedBefore, consumed int64
		err = tx.QueryRow(ctx,
			`SELECT
			     COALESCE(SUM(points) FILTER (WHERE points > 0 AND created_at < $2), 0),
			     COALESCE(-SUM(points) FILTER (WHERE points < 0), 0)
			 FROM points_transactions
			 WHERE client_id = $1`,
			clientID, cutoff,
		).Scan(&earnedBefore, &consumed)
		if err != nil {
			return fmt.Errorf("sum transactions: %w", err)
		}

		expirable := earnedBefore - consumed
		if expirable > balance {
			expirable = balance
		}
		if expirable <= 0 {
			return nil
		}

		entry := model.PointsTransaction{
			ID:          uuid.New(),
			ClientID:    clientID,
			Type:        model.TransactionExpired,
			Points:      -expirable,
			Description: fmt.Sprintf("points earned before %s expired", cutoff.Format("2006-01-02")),
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO points_transactions (id, client_id, type, points, description)
			 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
			entry.ID, entry.ClientID, string(entry.Type), entry.Points, entry.Description,
		).Scan(&entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert expired transaction: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE clients SET points = points - $2 WHERE id = $1`,
			clientID, expirable,
		)
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetStats возвращает агрегаты для панели управления.
func (r *PostgresRepository) GetStats(ctx context.Context) (*model.Stats, error) {
	var s model.Stats

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = $1),
		        COUNT(*) FILTER (WHERE status = $2)
		 FROM clients`,
		string(model.ClientStatusActive), string(model.ClientStatusBlocked),
	).Scan(&s.ClientsTotal, &s.ClientsActive, &s.ClientsBlocked)
	if err != nil {
		return nil, fmt.Errorf("count clients: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(points) FILTER (WHERE points > 0), 0),
		        COALESCE(-SUM(points) FILTER (WHERE type = $1), 0),
		        COALESCE(-SUM(points) FILTER (WHERE type = $2), 0)
		 FROM points_transactions`,
		string(model.TransactionUsed), string(model.TransactionExpired),
	).Scan(&s.PointsIssued, &s.PointsRedeemed, &s.PointsExpired)
	if err != nil {
		return nil, fmt.Errorf("sum transactions: %w", err)
	}

	return &s, nil
}
