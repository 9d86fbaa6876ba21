package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"profitboard/internal/domain"
	"profitboard/internal/logger"
	"profitboard/internal/period"
	"profitboard/internal/store"
	"profitboard/internal/xid"
)

// Store keeps everything in process memory. It backs local development and
// the service/API tests, and honours the same invariants as the SQL stores:
// one row per merge key, commission recomputed on every write.
type Store struct {
	mu              sync.RWMutex
	entriesByID     map[string]domain.CommissionEntry
	idByKey         map[string]string
	figuresByMonth  map[string]domain.MonthlyFigures
	usersByUsername map[string]domain.UserAccount
	now             func() time.Time
}

func New() *Store {
	return &Store{
		entriesByID:     make(map[string]domain.CommissionEntry),
		idByKey:         make(map[string]string),
		figuresByMonth:  make(map[string]domain.MonthlyFigures),
		usersByUsername: make(map[string]domain.UserAccount),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns an empty store with dev accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_MEMBER_PASSWORD, with dev defaults otherwise.
// The seeded accounts never reach production, which runs on postgres.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	memberPwd := envOr("SEED_MEMBER_PASSWORD", "member123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MEMBER_PASSWORD") == "" {
		logger.Warnw("memory_store_default_credentials", "hint", "set SEED_ADMIN_PASSWORD and SEED_MEMBER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"member", memberPwd, domain.RoleMember},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func keyString(key domain.EntryKey) string {
	return strings.Join([]string{
		key.OwnerID,
		key.Date.String(),
		key.CPDCategory.String(),
		key.ProductName,
		string(key.SourceType),
	}, "\x1f")
}

func figuresKey(ownerID string, month time.Time) string {
	return ownerID + "\x1f" + period.FormatMonth(month)
}

func (s *Store) ListEntries(ctx context.Context, ownerID string, window period.Window) ([]domain.CommissionEntry, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, store.Wrap("list entries", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.CommissionEntry, 0, 32)
	for _, entry := range s.entriesByID {
		if entry.OwnerID != ownerID || !window.Contains(entry.Date.Time) {
			continue
		}
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, compareEntries)
	return entries, nil
}

func (s *Store) GetEntry(_ context.Context, ownerID string, id string) (*domain.CommissionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entriesByID[id]
	if !ok || entry.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) FindEntry(_ context.Context, key domain.EntryKey) (*domain.CommissionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.idByKey[keyString(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry := s.entriesByID[id]
	return &entry, nil
}

func (s *Store) InsertEntry(_ context.Context, entry domain.CommissionEntry) (*domain.CommissionEntry, error) {
	if entry.OwnerID == "" || entry.ProductName == "" || entry.Quantity < 1 || entry.Quantity > domain.MaxQuantity || !entry.CPDCategory.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := keyString(entry.Key())
	if _, exists := s.idByKey[key]; exists {
		return nil, store.ErrDuplicate
	}
	if entry.ID == "" {
		entry.ID = xid.New("ce")
	}
	now := s.now()
	entry.Date = domain.DateOf(entry.Date.Time)
	entry.CommissionTotal = domain.CommissionFor(entry.Quantity, entry.CPDCategory)
	entry.CreatedAt = now
	entry.UpdatedAt = now

	s.entriesByID[entry.ID] = entry
	s.idByKey[key] = entry.ID
	created := entry
	return &created, nil
}

func (s *Store) UpdateEntry(_ context.Context, ownerID string, id string, patch domain.EntryPatch) (*domain.CommissionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entriesByID[id]
	if !ok || entry.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}

	oldKey := keyString(entry.Key())
	if patch.Quantity != nil {
		if *patch.Quantity < 1 || *patch.Quantity > domain.MaxQuantity {
			return nil, store.ErrInvalidInput
		}
		entry.Quantity = *patch.Quantity
	}
	if patch.CPDCategory != nil {
		if !patch.CPDCategory.IsPositive() {
			return nil, store.ErrInvalidInput
		}
		entry.CPDCategory = *patch.CPDCategory
	}

	newKey := keyString(entry.Key())
	if newKey != oldKey {
		if _, exists := s.idByKey[newKey]; exists {
			return nil, store.ErrDuplicate
		}
		delete(s.idByKey, oldKey)
		s.idByKey[newKey] = entry.ID
	}

	entry.CommissionTotal = domain.CommissionFor(entry.Quantity, entry.CPDCategory)
	entry.UpdatedAt = s.now()
	s.entriesByID[id] = entry
	updated := entry
	return &updated, nil
}

func (s *Store) IncrementEntry(_ context.Context, ownerID string, id string, delta int) (*domain.CommissionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entriesByID[id]
	if !ok || entry.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if entry.Quantity+delta < 1 || entry.Quantity+delta > domain.MaxQuantity {
		return nil, store.ErrInvalidInput
	}

	entry.Quantity += delta
	entry.CommissionTotal = domain.CommissionFor(entry.Quantity, entry.CPDCategory)
	entry.UpdatedAt = s.now()
	s.entriesByID[id] = entry
	updated := entry
	return &updated, nil
}

func (s *Store) ReclassifyEntry(_ context.Context, ownerID string, id string, category decimal.Decimal) (store.ReclassifyOutcome, error) {
	if !category.IsPositive() {
		return store.ReclassifyOutcome{}, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.entriesByID[id]
	if !ok || source.OwnerID != ownerID {
		return store.ReclassifyOutcome{}, store.ErrNotFound
	}
	if source.CPDCategory.Equal(category) {
		return store.ReclassifyOutcome{Entry: source}, nil
	}

	now := s.now()
	sourceKey := keyString(source.Key())
	destKey := keyString(source.Key().WithCategory(category))

	if destID, exists := s.idByKey[destKey]; exists {
		dest := s.entriesByID[destID]
		if dest.Quantity+source.Quantity > domain.MaxQuantity {
			return store.ReclassifyOutcome{}, store.ErrInvalidInput
		}
		dest.Quantity += source.Quantity
		dest.CommissionTotal = domain.CommissionFor(dest.Quantity, dest.CPDCategory)
		if dest.ProductID == nil {
			dest.ProductID = source.ProductID
		}
		dest.UpdatedAt = now
		s.entriesByID[destID] = dest

		delete(s.entriesByID, source.ID)
		delete(s.idByKey, sourceKey)
		return store.ReclassifyOutcome{Entry: dest, Merged: true, RemovedID: source.ID}, nil
	}

	source.CPDCategory = category
	source.CommissionTotal = domain.CommissionFor(source.Quantity, category)
	source.UpdatedAt = now
	s.entriesByID[source.ID] = source
	delete(s.idByKey, sourceKey)
	s.idByKey[destKey] = source.ID
	return store.ReclassifyOutcome{Entry: source}, nil
}

func (s *Store) DeleteEntry(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entriesByID[id]
	if !ok || entry.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.entriesByID, id)
	delete(s.idByKey, keyString(entry.Key()))
	return nil
}

func (s *Store) GetMonthlyFigures(_ context.Context, ownerID string, month time.Time) (*domain.MonthlyFigures, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	figures, ok := s.figuresByMonth[figuresKey(ownerID, month)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &figures, nil
}

func (s *Store) UpsertMonthlyFigures(_ context.Context, figures domain.MonthlyFigures) (*domain.MonthlyFigures, error) {
	if figures.OwnerID == "" || figures.Month.IsZero() || figures.Leads < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	figures.Month = domain.DateOf(period.MonthStart(figures.Month.Time))
	figures.UpdatedAt = s.now()
	s.figuresByMonth[figuresKey(figures.OwnerID, figures.Month.Time)] = figures
	saved := figures
	return &saved, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleMember
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// compareEntries orders newest day first, then by product, tier and source.
func compareEntries(a, b domain.CommissionEntry) int {
	if !a.Date.Equal(b.Date) {
		if a.Date.After(b.Date.Time) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.ProductName, b.ProductName); c != 0 {
		return c
	}
	if c := a.CPDCategory.Cmp(b.CPDCategory); c != 0 {
		return c
	}
	return strings.Compare(string(a.SourceType), string(b.SourceType))
}
