package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"profitboard/internal/domain"
	"profitboard/internal/period"
	"profitboard/internal/store"
	"profitboard/internal/xid"
)

type entryRecord struct {
	ID              string          `gorm:"primaryKey;size:40"`
	OwnerID         string          `gorm:"size:120;not null;uniqueIndex:idx_entry_merge_key,priority:1;index:idx_entry_owner_date,priority:1"`
	EntryDate       string          `gorm:"size:10;not null;uniqueIndex:idx_entry_merge_key,priority:2;index:idx_entry_owner_date,priority:2"`
	CPDCategory     decimal.Decimal `gorm:"type:decimal(12,2);not null;uniqueIndex:idx_entry_merge_key,priority:3"`
	ProductName     string          `gorm:"size:255;not null;uniqueIndex:idx_entry_merge_key,priority:4"`
	ProductID       *string         `gorm:"size:120"`
	Quantity        int             `gorm:"not null"`
	CommissionTotal decimal.Decimal `gorm:"type:decimal(24,2);not null"`
	SourceType      string          `gorm:"size:16;not null;uniqueIndex:idx_entry_merge_key,priority:5"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (entryRecord) TableName() string { return "commission_entries" }

type figuresRecord struct {
	OwnerID      string              `gorm:"primaryKey;size:120"`
	MonthStart   string              `gorm:"primaryKey;size:10"`
	ExchangeRate decimal.NullDecimal `gorm:"type:decimal(12,4)"`
	Bonus        decimal.Decimal     `gorm:"type:decimal(14,2);not null;default:0"`
	Leads        int                 `gorm:"not null;default:0"`
	AdSpend      decimal.Decimal     `gorm:"type:decimal(14,2);not null;default:0"`
	UpdatedAt    time.Time
}

func (figuresRecord) TableName() string { return "monthly_figures" }

type userRecord struct {
	Username     string `gorm:"primaryKey;size:120"`
	PasswordHash string `gorm:"size:255;not null"`
	Role         string `gorm:"size:32;not null"`
	Active       bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string { return "users" }

// Store is the embedded single-file backend built on gorm and the pure-Go
// sqlite driver.
type Store struct {
	db *gorm.DB
}

func New(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, store.Wrap("open", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, store.Wrap("open", err)
	}
	// sqlite serializes writers; one connection keeps transactions from
	// tripping over "database is locked".
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&entryRecord{}, &figuresRecord{}, &userRecord{}); err != nil {
		return store.Wrap("migrate", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(entry domain.CommissionEntry) entryRecord {
	return entryRecord{
		ID:              entry.ID,
		OwnerID:         entry.OwnerID,
		EntryDate:       entry.Date.String(),
		CPDCategory:     entry.CPDCategory,
		ProductName:     entry.ProductName,
		ProductID:       entry.ProductID,
		Quantity:        entry.Quantity,
		CommissionTotal: entry.CommissionTotal,
		SourceType:      string(entry.SourceType),
		CreatedAt:       entry.CreatedAt,
		UpdatedAt:       entry.UpdatedAt,
	}
}

func (r entryRecord) toDomain() (domain.CommissionEntry, error) {
	date, err := domain.ParseDate(r.EntryDate)
	if err != nil {
		return domain.CommissionEntry{}, err
	}
	return domain.CommissionEntry{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Date:            date,
		CPDCategory:     r.CPDCategory,
		ProductName:     r.ProductName,
		ProductID:       r.ProductID,
		Quantity:        r.Quantity,
		CommissionTotal: r.CommissionTotal,
		SourceType:      domain.SourceType(r.SourceType),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) ListEntries(ctx context.Context, ownerID string, window period.Window) ([]domain.CommissionEntry, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	var records []entryRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND entry_date >= ? AND entry_date < ?", ownerID, period.FormatDay(window.From), period.FormatDay(window.To)).
		Order("entry_date DESC").Order("product_name ASC").Order("cpd_category ASC").Order("source_type ASC").
		Find(&records).Error
	if err != nil {
		return nil, store.Wrap("list entries", err)
	}

	entries := make([]domain.CommissionEntry, 0, len(records))
	for _, record := range records {
		entry, err := record.toDomain()
		if err != nil {
			return nil, store.Wrap("list entries", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) GetEntry(ctx context.Context, ownerID string, id string) (*domain.CommissionEntry, error) {
	return s.firstEntry(s.db.WithContext(ctx), "get entry", "owner_id = ? AND id = ?", ownerID, id)
}

func (s *Store) FindEntry(ctx context.Context, key domain.EntryKey) (*domain.CommissionEntry, error) {
	return s.firstEntry(s.db.WithContext(ctx), "find entry",
		"owner_id = ? AND entry_date = ? AND cpd_category = ? AND product_name = ? AND source_type = ?",
		key.OwnerID, key.Date.String(), key.CPDCategory, key.ProductName, string(key.SourceType))
}

func (s *Store) firstEntry(db *gorm.DB, op string, query string, args ...any) (*domain.CommissionEntry, error) {
	var record entryRecord
	if err := db.Where(query, args...).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap(op, err)
	}
	entry, err := record.toDomain()
	if err != nil {
		return nil, store.Wrap(op, err)
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
	now := time.Now().UTC()
	entry.Date = domain.DateOf(entry.Date.Time)
	entry.CommissionTotal = domain.CommissionFor(entry.Quantity, entry.CPDCategory)
	entry.CreatedAt = now
	entry.UpdatedAt = now

	record := toRecord(entry)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, store.Wrap("insert entry", err)
	}
	return &entry, nil
}

func (s *Store) UpdateEntry(ctx context.Context, ownerID string, id string, patch domain.EntryPatch) (*domain.CommissionEntry, error) {
	var updated *domain.CommissionEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.firstEntry(tx, "update entry", "owner_id = ? AND id = ?", ownerID, id)
		if err != nil {
			return err
		}
		if patch.Quantity != nil {
			if *patch.Quantity < 1 || *patch.Quantity > domain.MaxQuantity {
				return store.ErrInvalidInput
			}
			current.Quantity = *patch.Quantity
		}
		if patch.CPDCategory != nil {
			if !patch.CPDCategory.IsPositive() {
				return store.ErrInvalidInput
			}
			current.CPDCategory = *patch.CPDCategory
		}
		current.CommissionTotal = domain.CommissionFor(current.Quantity, current.CPDCategory)
		current.UpdatedAt = time.Now().UTC()

		err = tx.Model(&entryRecord{}).Where("id = ?", id).Updates(map[string]any{
			"quantity":         current.Quantity,
			"cpd_category":     current.CPDCategory,
			"commission_total": current.CommissionTotal,
			"updated_at":       current.UpdatedAt,
		}).Error
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, store.Wrap("update entry", err)
	}
	return updated, nil
}

// IncrementEntry reads and rewrites the row inside one transaction. The
// single open connection serializes writers, and the total is derived in
// decimal because sqlite multiplies numeric columns as REAL.
func (s *Store) IncrementEntry(ctx context.Context, ownerID string, id string, delta int) (*domain.CommissionEntry, error) {
	var updated *domain.CommissionEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.firstEntry(tx, "increment entry", "owner_id = ? AND id = ?", ownerID, id)
		if err != nil {
			return err
		}
		if current.Quantity+delta < 1 || current.Quantity+delta > domain.MaxQuantity {
			return store.ErrInvalidInput
		}
		current.Quantity += delta
		current.CommissionTotal = domain.CommissionFor(current.Quantity, current.CPDCategory)
		current.UpdatedAt = time.Now().UTC()

		err = tx.Model(&entryRecord{}).Where("id = ?", current.ID).Updates(map[string]any{
			"quantity":         current.Quantity,
			"commission_total": current.CommissionTotal,
			"updated_at":       current.UpdatedAt,
		}).Error
		if err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, store.Wrap("increment entry", err)
	}
	return updated, nil
}

func (s *Store) ReclassifyEntry(ctx context.Context, ownerID string, id string, category decimal.Decimal) (store.ReclassifyOutcome, error) {
	if !category.IsPositive() {
		return store.ReclassifyOutcome{}, store.ErrInvalidInput
	}

	var outcome store.ReclassifyOutcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := s.firstEntry(tx, "reclassify entry", "owner_id = ? AND id = ?", ownerID, id)
		if err != nil {
			return err
		}
		if source.CPDCategory.Equal(category) {
			outcome = store.ReclassifyOutcome{Entry: *source}
			return nil
		}

		now := time.Now().UTC()
		key := source.Key().WithCategory(category)
		dest, err := s.firstEntry(tx, "reclassify entry",
			"owner_id = ? AND entry_date = ? AND cpd_category = ? AND product_name = ? AND source_type = ?",
			key.OwnerID, key.Date.String(), key.CPDCategory, key.ProductName, string(key.SourceType))
		switch {
		case errors.Is(err, store.ErrNotFound):
			source.CPDCategory = category
			source.CommissionTotal = domain.CommissionFor(source.Quantity, category)
			source.UpdatedAt = now
			err := tx.Model(&entryRecord{}).Where("id = ?", source.ID).Updates(map[string]any{
				"cpd_category":     source.CPDCategory,
				"commission_total": source.CommissionTotal,
				"updated_at":       now,
			}).Error
			if err != nil {
				return err
			}
			outcome = store.ReclassifyOutcome{Entry: *source}
			return nil
		case err != nil:
			return err
		}

		if dest.Quantity+source.Quantity > domain.MaxQuantity {
			return store.ErrInvalidInput
		}
		dest.Quantity += source.Quantity
		dest.CommissionTotal = domain.CommissionFor(dest.Quantity, dest.CPDCategory)
		if dest.ProductID == nil {
			dest.ProductID = source.ProductID
		}
		dest.UpdatedAt = now
		err = tx.Model(&entryRecord{}).Where("id = ?", dest.ID).Updates(map[string]any{
			"quantity":         dest.Quantity,
			"commission_total": dest.CommissionTotal,
			"product_id":       dest.ProductID,
			"updated_at":       now,
		}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", source.ID).Delete(&entryRecord{}).Error; err != nil {
			return err
		}
		outcome = store.ReclassifyOutcome{Entry: *dest, Merged: true, RemovedID: source.ID}
		return nil
	})
	if err != nil {
		return store.ReclassifyOutcome{}, store.Wrap("reclassify entry", err)
	}
	return outcome, nil
}

func (s *Store) DeleteEntry(ctx context.Context, ownerID string, id string) error {
	res := s.db.WithContext(ctx).Where("owner_id = ? AND id = ?", ownerID, id).Delete(&entryRecord{})
	if res.Error != nil {
		return store.Wrap("delete entry", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetMonthlyFigures(ctx context.Context, ownerID string, month time.Time) (*domain.MonthlyFigures, error) {
	var record figuresRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND month_start = ?", ownerID, period.FormatDay(period.MonthStart(month))).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.Wrap("get monthly figures", err)
	}

	monthStart, err := domain.ParseDate(record.MonthStart)
	if err != nil {
		return nil, store.Wrap("get monthly figures", err)
	}
	figures := &domain.MonthlyFigures{
		OwnerID:   record.OwnerID,
		Month:     monthStart,
		Bonus:     record.Bonus,
		Leads:     record.Leads,
		AdSpend:   record.AdSpend,
		UpdatedAt: record.UpdatedAt.UTC(),
	}
	if record.ExchangeRate.Valid {
		rate := record.ExchangeRate.Decimal
		figures.ExchangeRate = &rate
	}
	return figures, nil
}

func (s *Store) UpsertMonthlyFigures(ctx context.Context, figures domain.MonthlyFigures) (*domain.MonthlyFigures, error) {
	if figures.OwnerID == "" || figures.Month.IsZero() || figures.Leads < 0 {
		return nil, store.ErrInvalidInput
	}
	figures.Month = domain.DateOf(period.MonthStart(figures.Month.Time))
	figures.UpdatedAt = time.Now().UTC()

	record := figuresRecord{
		OwnerID:    figures.OwnerID,
		MonthStart: figures.Month.String(),
		Bonus:      figures.Bonus,
		Leads:      figures.Leads,
		AdSpend:    figures.AdSpend,
		UpdatedAt:  figures.UpdatedAt,
	}
	if figures.ExchangeRate != nil {
		record.ExchangeRate = decimal.NewNullDecimal(*figures.ExchangeRate)
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "month_start"}},
		DoUpdates: clause.AssignmentColumns([]string{"exchange_rate", "bonus", "leads", "ad_spend", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return nil, store.Wrap("upsert monthly figures", err)
	}
	return &figures, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleMember
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	record := userRecord{
		Username:     username,
		PasswordHash: user.Password,
		Role:         user.Role,
		Active:       true,
		CreatedAt:    user.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return store.Wrap("create user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var records []userRecord
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&records).Error; err != nil {
		return nil, store.Wrap("list users", err)
	}
	users := make([]domain.UserAccount, 0, len(records))
	for _, record := range records {
		users = append(users, domain.UserAccount{
			Username:  record.Username,
			Password:  record.PasswordHash,
			Role:      record.Role,
			Active:    record.Active,
			CreatedAt: record.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	res := s.db.WithContext(ctx).Model(&userRecord{}).Where("username = ?", username).Update("password_hash", password)
	if res.Error != nil {
		return store.Wrap("update user password", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
