package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"profitboard/internal/domain"
	"profitboard/internal/period"
	"profitboard/internal/store"
	"profitboard/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, store.Wrap("open", err)
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, store.Wrap("ping", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and the merge-key unique index if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return store.Wrap("migrate", err)
	}
	return nil
}

const entryColumns = `id, owner_id, entry_date, cpd_category, product_name, product_id, quantity, commission_total, source_type, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.CommissionEntry, error) {
	var (
		entry     domain.CommissionEntry
		productID sql.NullString
		source    string
	)
	err := row.Scan(
		&entry.ID, &entry.OwnerID, &entry.Date, &entry.CPDCategory, &entry.ProductName, &productID,
		&entry.Quantity, &entry.CommissionTotal, &source, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return entry, err
	}
	if productID.Valid {
		entry.ProductID = &productID.String
	}
	entry.SourceType = domain.SourceType(source)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, ownerID string, window period.Window) ([]domain.CommissionEntry, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE owner_id = $1 AND entry_date >= $2 AND entry_date < $3
		ORDER BY entry_date DESC, product_name ASC, cpd_category ASC, source_type ASC
	`, ownerID, period.FormatDay(window.From), period.FormatDay(window.To))
	if err != nil {
		return nil, store.Wrap("list entries", err)
	}
	defer rows.Close()

	entries := make([]domain.CommissionEntry, 0, 32)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, store.Wrap("list entries", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list entries", err)
	}
	return entries, nil
}

func (s *Store) GetEntry(ctx context.Context, ownerID string, id string) (*domain.CommissionEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE owner_id = $1 AND id = $2
	`, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get entry", err)
	}
	return &entry, nil
}

func (s *Store) FindEntry(ctx context.Context, key domain.EntryKey) (*domain.CommissionEntry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE owner_id = $1 AND entry_date = $2 AND cpd_category = $3 AND product_name = $4 AND source_type = $5
	`, key.OwnerID, key.Date, key.CPDCategory, key.ProductName, string(key.SourceType)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("find entry", err)
	}
	return &entry, nil
}

func (s *Store) InsertEntry(ctx context.Context, entry domain.CommissionEntry) (*domain.CommissionEntry, error) {
	if entry.OwnerID == "" || entry.ProductName == "" || entry.Quantity < 1 || entry.Quantity > domain.MaxQuantity || !entry.CPDCategory.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if entry.ID == "" {
		entry.ID = xid.New("ce")
	}
	entry.Date = domain.DateOf(entry.Date.Time)
	entry.CommissionTotal = domain.CommissionFor(entry.Quantity, entry.CPDCategory)

	created, err := scanEntry(s.db.QueryRowContext(ctx, `
		INSERT INTO commission_entries (
			id, owner_id, entry_date, cpd_category, product_name, product_id,
			quantity, commission_total, source_type, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
		RETURNING `+entryColumns,
		entry.ID, entry.OwnerID, entry.Date, entry.CPDCategory, entry.ProductName, nullString(entry.ProductID),
		entry.Quantity, entry.CommissionTotal, string(entry.SourceType),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isOutOfRange(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, store.Wrap("insert entry", err)
	}
	return &created, nil
}

func (s *Store) UpdateEntry(ctx context.Context, ownerID string, id string, patch domain.EntryPatch) (*domain.CommissionEntry, error) {
	if patch.Quantity != nil && (*patch.Quantity < 1 || *patch.Quantity > domain.MaxQuantity) {
		return nil, store.ErrInvalidInput
	}
	if patch.CPDCategory != nil && !patch.CPDCategory.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	var quantity, category any
	if patch.Quantity != nil {
		quantity = *patch.Quantity
	}
	if patch.CPDCategory != nil {
		category = *patch.CPDCategory
	}

	updated, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE commission_entries
		SET quantity = COALESCE($3::integer, quantity),
			cpd_category = COALESCE($4::numeric, cpd_category),
			commission_total = COALESCE($3::integer, quantity) * COALESCE($4::numeric, cpd_category),
			updated_at = now()
		WHERE owner_id = $1 AND id = $2
		RETURNING `+entryColumns,
		ownerID, id, quantity, category,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		if isOutOfRange(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, store.Wrap("update entry", err)
	}
	return &updated, nil
}

// IncrementEntry adds delta in a single statement so concurrent submissions
// for the same tuple never lose an update.
func (s *Store) IncrementEntry(ctx context.Context, ownerID string, id string, delta int) (*domain.CommissionEntry, error) {
	updated, err := scanEntry(s.db.QueryRowContext(ctx, `
		UPDATE commission_entries
		SET quantity = quantity + $3,
			commission_total = (quantity + $3) * cpd_category,
			updated_at = now()
		WHERE owner_id = $1 AND id = $2
		RETURNING `+entryColumns,
		ownerID, id, delta,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isCheckViolation(err) || isOutOfRange(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, store.Wrap("increment entry", err)
	}
	return &updated, nil
}

func (s *Store) ReclassifyEntry(ctx context.Context, ownerID string, id string, category decimal.Decimal) (store.ReclassifyOutcome, error) {
	if !category.IsPositive() {
		return store.ReclassifyOutcome{}, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
	}
	defer func() { _ = tx.Rollback() }()

	source, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE owner_id = $1 AND id = $2
		FOR UPDATE
	`, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ReclassifyOutcome{}, store.ErrNotFound
		}
		return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
	}
	if source.CPDCategory.Equal(category) {
		return store.ReclassifyOutcome{Entry: source}, nil
	}

	dest, err := scanEntry(tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM commission_entries
		WHERE owner_id = $1 AND entry_date = $2 AND cpd_category = $3 AND product_name = $4 AND source_type = $5
		FOR UPDATE
	`, source.OwnerID, source.Date, category, source.ProductName, string(source.SourceType)))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		moved, err := scanEntry(tx.QueryRowContext(ctx, `
			UPDATE commission_entries
			SET cpd_category = $3, commission_total = quantity * $3, updated_at = now()
			WHERE owner_id = $1 AND id = $2
			RETURNING `+entryColumns,
			ownerID, id, category,
		))
		if err != nil {
			if isUniqueViolation(err) {
				return store.ReclassifyOutcome{}, store.ErrDuplicate
			}
			return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
		}
		if err := tx.Commit(); err != nil {
			return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
		}
		return store.ReclassifyOutcome{Entry: moved}, nil
	case err != nil:
		return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
	}

	merged, err := scanEntry(tx.QueryRowContext(ctx, `
		UPDATE commission_entries
		SET quantity = quantity + $3,
			commission_total = (quantity + $3) * cpd_category,
			product_id = COALESCE(product_id, $4),
			updated_at = now()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+entryColumns,
		dest.ID, ownerID, source.Quantity, nullString(source.ProductID),
	))
	if err != nil {
		if isOutOfRange(err) {
			return store.ReclassifyOutcome{}, store.ErrInvalidInput
		}
		return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM commission_entries WHERE id = $1 AND owner_id = $2`, source.ID, ownerID); err != nil {
		return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
	}
	if err := tx.Commit(); err != nil {
		return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
	}
	return store.ReclassifyOutcome{Entry: merged, Merged: true, RemovedID: source.ID}, nil
}

func (s *Store) DeleteEntry(ctx context.Context, ownerID string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM commission_entries WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return store.Wrap("delete entry", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("delete entry", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetMonthlyFigures(ctx context.Context, ownerID string, month time.Time) (*domain.MonthlyFigures, error) {
	var (
		figures domain.MonthlyFigures
		rate    decimal.NullDecimal
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, month_start, exchange_rate, bonus, leads, ad_spend, updated_at
		FROM monthly_figures
		WHERE owner_id = $1 AND month_start = $2
	`, ownerID, period.FormatDay(period.MonthStart(month))).Scan(
		&figures.OwnerID, &figures.Month, &rate, &figures.Bonus, &figures.Leads, &figures.AdSpend, &figures.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get monthly figures", err)
	}
	if rate.Valid {
		figures.ExchangeRate = &rate.Decimal
	}
	figures.UpdatedAt = figures.UpdatedAt.UTC()
	return &figures, nil
}

func (s *Store) UpsertMonthlyFigures(ctx context.Context, figures domain.MonthlyFigures) (*domain.MonthlyFigures, error) {
	if figures.OwnerID == "" || figures.Month.IsZero() || figures.Leads < 0 {
		return nil, store.ErrInvalidInput
	}
	figures.Month = domain.DateOf(period.MonthStart(figures.Month.Time))

	rate := decimal.NullDecimal{}
	if figures.ExchangeRate != nil {
		rate = decimal.NewNullDecimal(*figures.ExchangeRate)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO monthly_figures (owner_id, month_start, exchange_rate, bonus, leads, ad_spend, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (owner_id, month_start)
		DO UPDATE SET exchange_rate = EXCLUDED.exchange_rate, bonus = EXCLUDED.bonus,
			leads = EXCLUDED.leads, ad_spend = EXCLUDED.ad_spend, updated_at = now()
		RETURNING updated_at
	`, figures.OwnerID, figures.Month, rate, figures.Bonus, figures.Leads, figures.AdSpend).Scan(&figures.UpdatedAt)
	if err != nil {
		return nil, store.Wrap("upsert monthly figures", err)
	}
	figures.UpdatedAt = figures.UpdatedAt.UTC()
	return &figures, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleMember
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, user.Username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return store.Wrap("create user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, store.Wrap("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, store.Wrap("list users", err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return store.Wrap("update user password", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("update user password", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

// isOutOfRange reports an integer or numeric overflow, e.g. a merged quantity
// past the INTEGER column.
func isOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22003"
	}
	return false
}

func nullString(val *string) any {
	if val == nil || *val == "" {
		return nil
	}
	return *val
}
