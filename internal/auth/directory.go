package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"labtrack/internal/lab"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

type account struct {
	user lab.User
	hash []byte
}

// Directory verifies credentials and hands out lab.User identities. Only
// bcrypt hashes are kept.
type Directory struct {
	mu       sync.RWMutex
	cost     int
	accounts map[string]account
}

// NewDirectory creates an empty directory hashing with cost. Costs outside
// bcrypt's range fall back to bcrypt.DefaultCost.
func NewDirectory(cost int) *Directory {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Directory{cost: cost, accounts: make(map[string]account)}
}

// Add registers or replaces an account.
func (d *Directory) Add(u lab.User, password string) error {
	if u.Username == "" {
		return errors.New("username required")
	}
	if u.Role == lab.RoleAttendant && u.Building == "" {
		return fmt.Errorf("attendant %s needs a building", u.Username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	d.mu.Lock()
	d.accounts[strings.ToLower(u.Username)] = account{user: u, hash: hash}
	d.mu.Unlock()
	return nil
}

// Authenticate checks a username/password pair.
func (d *Directory) Authenticate(username, password string) (lab.User, error) {
	d.mu.RLock()
	acc, ok := d.accounts[strings.ToLower(username)]
	d.mu.RUnlock()
	if !ok {
		return lab.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return lab.User{}, ErrInvalidCredentials
	}
	return acc.user, nil
}

// Lookup returns the account for a username without checking a password.
func (d *Directory) Lookup(username string) (lab.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.accounts[strings.ToLower(username)]
	return acc.user, ok
}

// DefaultDirectory seeds the staff accounts used by the sample dataset,
// all sharing password.
func DefaultDirectory(cost int, password string) (*Directory, error) {
	d := NewDirectory(cost)
	users := []lab.User{
		{ID: "U-001", Username: "officer", Name: "Dr. Kamran Akmal", Role: lab.RoleAcademicOfficer},
		{ID: "U-002", Username: "attendant_cs", Name: "Muhammad Ali", Role: lab.RoleAttendant, Building: "CS Building"},
		{ID: "U-003", Username: "attendant_eng", Name: "Sana Mir", Role: lab.RoleAttendant, Building: "Engineering Wing"},
		{ID: "U-004", Username: "hod", Name: "Prof. Javed Miandad", Role: lab.RoleHOD},
		{ID: "U-005", Username: "instructor1", Name: "Dr. Ahmed Hassan", Role: lab.RoleInstructor},
		{ID: "U-006", Username: "instructor2", Name: "Dr. Fatima Zahra", Role: lab.RoleInstructor},
		{ID: "U-007", Username: "ta1", Name: "Ali Khan", Role: lab.RoleTA},
		{ID: "U-008", Username: "ta2", Name: "Sara Hussain", Role: lab.RoleTA},
	}
	for _, u := range users {
		if err := d.Add(u, password); err != nil {
			return nil, err
		}
	}
	return d, nil
}
