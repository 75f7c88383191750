// Package memory implements the expense service rules in process. It backs
// the development server and the tests of every client component.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"spesync/internal/core"
	"spesync/internal/service"
)

var _ service.Backend = (*Store)(nil)

// Config for a Store. Zero values get defaults in New.
type Config struct {
	Secret               string
	TokenTTL             time.Duration
	PrimaryAdmin         string
	PrimaryAdminPassword string
	// Now overrides the clock, mostly for tests.
	Now func() time.Time
	// BcryptCost is lowered in tests to keep them fast.
	BcryptCost int
}

type userRecord struct {
	core.User
	hash      []byte
	createdAt time.Time
}

type expenseRecord struct {
	core.Expense
	ownerID string
}

type Store struct {
	mu       sync.Mutex
	users    map[string]*userRecord
	expenses []*expenseRecord
	tokens   tokenManager
	primary  string
	cost     int
	now      func() time.Time
}

// New creates a store with the primary admin account seeded.
func New(cfg Config) (*Store, error) {
	if cfg.Secret == "" {
		cfg.Secret = "dev-secret"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.PrimaryAdmin == "" {
		cfg.PrimaryAdmin = "admin"
	}
	if cfg.PrimaryAdminPassword == "" {
		cfg.PrimaryAdminPassword = "admin"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	s := &Store{
		users:   map[string]*userRecord{},
		tokens:  tokenManager{secret: []byte(cfg.Secret), ttl: cfg.TokenTTL, now: cfg.Now},
		primary: strings.ToLower(cfg.PrimaryAdmin),
		cost:    cfg.BcryptCost,
		now:     cfg.Now,
	}
	if _, err := s.Seed(cfg.PrimaryAdmin, cfg.PrimaryAdminPassword, core.RoleAdmin); err != nil {
		return nil, err
	}
	return s, nil
}

// Seed adds an account without an admin token. Used at startup and in tests.
func (s *Store) Seed(username, password string, role core.Role) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(core.NewUser{Username: username, Password: password, Role: role})
}

func (s *Store) addUserLocked(nu core.NewUser) (core.User, error) {
	if err := nu.Validate(); err != nil {
		return core.User{}, err
	}
	if s.findByUsernameLocked(nu.Username) != nil {
		return core.User{}, core.Validation(errUserExists)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), s.cost)
	if err != nil {
		return core.User{}, err
	}
	role := nu.Role
	if role == "" {
		role = core.RoleUser
	}
	now := s.now().UTC()
	rec := &userRecord{
		User:      core.User{ID: uuid.NewString(), Username: strings.TrimSpace(nu.Username), Role: role, CreatedAt: now},
		hash:      hash,
		createdAt: now,
	}
	s.users[rec.ID] = rec
	return rec.User, nil
}

func (s *Store) findByUsernameLocked(username string) *userRecord {
	for _, u := range s.users {
		if strings.EqualFold(u.Username, strings.TrimSpace(username)) {
			return u
		}
	}
	return nil
}

// authenticate resolves token to a live account.
func (s *Store) authenticate(token string) (*userRecord, error) {
	if token == "" {
		return nil, core.Authentication("No token, authorization denied")
	}
	claims, err := s.tokens.parse(token)
	if err != nil {
		return nil, core.Authentication("Token is not valid")
	}
	u, ok := s.users[claims.UserID]
	if !ok {
		return nil, core.Authentication("Token is not valid")
	}
	return u, nil
}

func (s *Store) requireAdmin(token string) (*userRecord, error) {
	u, err := s.authenticate(token)
	if err != nil {
		return nil, err
	}
	if u.Role != core.RoleAdmin {
		return nil, core.Authorization("Access denied: admins only")
	}
	return u, nil
}

// Login implements service.Authenticator.
func (s *Store) Login(_ context.Context, username, password string) (string, core.Identity, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return "", core.Identity{}, core.Authentication("Please enter all fields")
	}
	s.mu.Lock()
	u := s.findByUsernameLocked(username)
	var (
		hash []byte
		who  core.Identity
	)
	if u != nil {
		hash, who = u.hash, identityOf(u)
	}
	s.mu.Unlock()
	if u == nil {
		return "", core.Identity{}, core.Authentication("User not found")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return "", core.Identity{}, core.Authentication("Invalid password")
	}
	token, err := s.tokens.issue(who)
	if err != nil {
		return "", core.Identity{}, err
	}
	return token, who, nil
}

// CurrentUser implements service.Authenticator.
func (s *Store) CurrentUser(_ context.Context, token string) (core.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.authenticate(token)
	if err != nil {
		return core.Identity{}, err
	}
	return identityOf(u), nil
}

func identityOf(u *userRecord) core.Identity {
	return core.Identity{ID: u.ID, Username: u.Username, Role: u.Role}
}

// ListExpenses implements service.ExpenseStore.
func (s *Store) ListExpenses(_ context.Context, token string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.authenticate(token)
	if err != nil {
		return nil, err
	}
	out := make([]core.Expense, 0)
	for _, e := range s.expenses {
		if e.ownerID == u.ID {
			out = append(out, e.Expense)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

// CreateExpense implements service.ExpenseStore. Date defaults to now and
// payment method to Cash.
func (s *Store) CreateExpense(_ context.Context, token string, d core.Draft) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.authenticate(token)
	if err != nil {
		return core.Expense{}, err
	}
	if strings.TrimSpace(d.Description) == "" || !d.Amount.IsPositive() || d.Category == "" {
		return core.Expense{}, core.Validation(errMissingExpenseFields)
	}
	if err := d.Validate(); err != nil {
		return core.Expense{}, err
	}
	if d.Date.IsZero() {
		d.Date = s.now()
	}
	if d.PaymentMethod == "" {
		d.PaymentMethod = core.DefaultPaymentMethod
	}
	rec := &expenseRecord{
		Expense: core.Expense{
			ID:            uuid.NewString(),
			Description:   d.Description,
			Amount:        d.Amount,
			Category:      d.Category,
			PaymentMethod: d.PaymentMethod,
			Date:          d.Date.UTC(),
			Username:      u.Username,
		},
		ownerID: u.ID,
	}
	s.expenses = append(s.expenses, rec)
	return rec.Expense, nil
}

// UpdateExpense implements service.ExpenseStore. Records of other users
// are reported as missing unless the caller is an admin.
func (s *Store) UpdateExpense(_ context.Context, token, id string, p core.ExpensePatch) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.authenticate(token)
	if err != nil {
		return core.Expense{}, err
	}
	rec := s.findExpenseLocked(id)
	if rec == nil || (rec.ownerID != u.ID && u.Role != core.RoleAdmin) {
		return core.Expense{}, core.NotFound("Expense not found")
	}
	if err := p.Validate(); err != nil {
		return core.Expense{}, err
	}
	rec.Expense = p.Apply(rec.Expense)
	rec.Date = rec.Date.UTC()
	return rec.Expense, nil
}

// DeleteExpense implements service.ExpenseStore. Only the owner may delete.
func (s *Store) DeleteExpense(_ context.Context, token, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.authenticate(token)
	if err != nil {
		return err
	}
	rec := s.findExpenseLocked(id)
	if rec == nil {
		return core.NotFound("Expense not found")
	}
	if rec.ownerID != u.ID {
		return core.Authorization("Not authorized")
	}
	s.removeExpensesLocked(func(e *expenseRecord) bool { return e.ID == id })
	return nil
}

func (s *Store) findExpenseLocked(id string) *expenseRecord {
	for _, e := range s.expenses {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *Store) removeExpensesLocked(match func(*expenseRecord) bool) int {
	kept := s.expenses[:0]
	removed := 0
	for _, e := range s.expenses {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.expenses); i++ {
		s.expenses[i] = nil
	}
	s.expenses = kept
	return removed
}

// ListUsers implements service.Directory, newest accounts first.
func (s *Store) ListUsers(_ context.Context, token string) ([]core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.requireAdmin(token); err != nil {
		return nil, err
	}
	out := make([]core.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.User)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Username < out[j].Username
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CreateUser implements service.Directory.
func (s *Store) CreateUser(_ context.Context, token string, nu core.NewUser) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.requireAdmin(token); err != nil {
		return core.User{}, err
	}
	return s.addUserLocked(nu)
}

// UpdateUser implements service.Directory. Renaming an account also
// renames the owner on its expenses. The primary admin keeps its name
// and role; only its password can change.
func (s *Store) UpdateUser(_ context.Context, token, id string, p core.UserPatch) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.requireAdmin(token); err != nil {
		return core.User{}, err
	}
	u, ok := s.users[id]
	if !ok {
		return core.User{}, core.NotFound("User not found")
	}
	if err := p.Validate(); err != nil {
		return core.User{}, err
	}
	if s.isPrimaryLocked(u) {
		renamed := p.Username.Set && !strings.EqualFold(strings.TrimSpace(p.Username.Value), u.Username)
		demoted := p.Role.Set && p.Role.Value != core.RoleAdmin
		if renamed || demoted {
			return core.User{}, core.Validation(errPrimaryAdminChange)
		}
	}
	if p.Username.Set {
		name := strings.TrimSpace(p.Username.Value)
		if other := s.findByUsernameLocked(name); other != nil && other.ID != id {
			return core.User{}, core.Validation(errUserExists)
		}
		for _, e := range s.expenses {
			if e.ownerID == id {
				e.Username = name
			}
		}
		u.Username = name
	}
	if p.Role.Set {
		u.Role = p.Role.Value
	}
	if p.Password.Set && strings.TrimSpace(p.Password.Value) != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Password.Value), s.cost)
		if err != nil {
			return core.User{}, err
		}
		u.hash = hash
	}
	return u.User, nil
}

func (s *Store) isPrimaryLocked(u *userRecord) bool {
	return u.Role == core.RoleAdmin && strings.EqualFold(u.Username, s.primary)
}

// DeleteUser implements service.Directory. The primary admin cannot be
// deleted; a user's expenses go with the account.
func (s *Store) DeleteUser(_ context.Context, token, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.requireAdmin(token); err != nil {
		return err
	}
	u, ok := s.users[id]
	if !ok {
		return core.NotFound("User not found")
	}
	if s.isPrimaryLocked(u) {
		return core.Validation(errPrimaryAdmin)
	}
	s.removeExpensesLocked(func(e *expenseRecord) bool { return e.ownerID == id })
	delete(s.users, id)
	return nil
}
