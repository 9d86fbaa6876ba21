package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"profitboard/internal/domain"
	"profitboard/internal/period"
)

var (
	// ErrNotFound means the id is stale: the row was deleted or archived.
	// Callers refetch instead of failing hard.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate means a row with the same merge key already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrInvalidInput guards the stores against rows that break an invariant.
	ErrInvalidInput = errors.New("invalid input")
)

// Error wraps a backend failure (connectivity, constraint, driver). These are
// retryable from the caller's point of view.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with the failing operation unless it is one of the sentinel
// errors, which callers match on directly.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrInvalidInput) || errors.Is(err, period.ErrInvalidWindow) {
		return err
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}

func IsStoreError(err error) bool {
	var storeErr *Error
	return errors.As(err, &storeErr)
}

// ReclassifyOutcome reports what ReclassifyEntry did. When the destination
// tuple already existed the source row is folded into it and removed.
type ReclassifyOutcome struct {
	Entry     domain.CommissionEntry
	Merged    bool
	RemovedID string
}

type EntryStore interface {
	ListEntries(ctx context.Context, ownerID string, window period.Window) ([]domain.CommissionEntry, error)
	GetEntry(ctx context.Context, ownerID string, id string) (*domain.CommissionEntry, error)
	FindEntry(ctx context.Context, key domain.EntryKey) (*domain.CommissionEntry, error)
	InsertEntry(ctx context.Context, entry domain.CommissionEntry) (*domain.CommissionEntry, error)
	UpdateEntry(ctx context.Context, ownerID string, id string, patch domain.EntryPatch) (*domain.CommissionEntry, error)
	IncrementEntry(ctx context.Context, ownerID string, id string, delta int) (*domain.CommissionEntry, error)
	ReclassifyEntry(ctx context.Context, ownerID string, id string, category decimal.Decimal) (ReclassifyOutcome, error)
	DeleteEntry(ctx context.Context, ownerID string, id string) error
}

type FiguresStore interface {
	GetMonthlyFigures(ctx context.Context, ownerID string, month time.Time) (*domain.MonthlyFigures, error)
	UpsertMonthlyFigures(ctx context.Context, figures domain.MonthlyFigures) (*domain.MonthlyFigures, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	EntryStore
	FiguresStore
	UserStore
}

func ListByDate(ctx context.Context, entries EntryStore, ownerID string, day time.Time) ([]domain.CommissionEntry, error) {
	return entries.ListEntries(ctx, ownerID, period.DayWindow(day))
}

func ListByMonth(ctx context.Context, entries EntryStore, ownerID string, monthStart time.Time) ([]domain.CommissionEntry, error) {
	return entries.ListEntries(ctx, ownerID, period.MonthWindow(monthStart))
}
