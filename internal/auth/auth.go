package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrUserInactive       = errors.New("user inactive")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBindTypeNotAllowed = errors.New("bind type not allowed")
	ErrTooManySessions    = errors.New("too many sessions")
)

// User is an ESME account allowed to bind.
type User struct {
	SystemID     string
	PasswordHash string
	Active       bool
	// BindTypes restricts the binds the user may request; empty allows all.
	BindTypes []smpp.BindType
	// MaxSessions caps concurrently bound sessions; zero is unlimited.
	MaxSessions int
	CreatedAt   time.Time
	LastLogin   time.Time
	LoginCount  int
}

func (u *User) allows(bt smpp.BindType) bool {
	if len(u.BindTypes) == 0 {
		return true
	}
	for _, t := range u.BindTypes {
		if t == bt {
			return true
		}
	}
	return false
}

// BindStatus maps an authentication error to the bind_resp command_status.
func BindStatus(err error) uint32 {
	switch {
	case err == nil:
		return smpp.StatusOK
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrUserInactive):
		return smpp.StatusInvSysID
	case errors.Is(err, ErrInvalidCredentials):
		return smpp.StatusInvPaswd
	default:
		return smpp.StatusBindFail
	}
}

// Authenticator keeps bcrypt hashed credentials and answers binds pushed
// by server sessions.
type Authenticator struct {
	systemID string
	cost     int
	logger   smpp.Logger

	mutex    sync.RWMutex
	users    map[string]*User
	sessions map[string]int
}

var _ smpp.BindListener = (*Authenticator)(nil)

// New creates an authenticator accepting binds with systemID as the
// server's identity in bind_resp.
func New(systemID string, logger smpp.Logger) *Authenticator {
	if logger == nil {
		logger = smpp.NopLogger{}
	}
	return &Authenticator{
		systemID: systemID,
		cost:     bcrypt.DefaultCost,
		logger:   logger,
		users:    make(map[string]*User),
		sessions: make(map[string]int),
	}
}

// WithCost sets the bcrypt cost used for new passwords.
func (a *Authenticator) WithCost(cost int) *Authenticator {
	a.cost = cost
	return a
}

// CreateUser stores an active user with a bcrypt hash of password.
func (a *Authenticator) CreateUser(systemID, password string, maxSessions int, bindTypes ...smpp.BindType) error {
	if err := smpp.ValidateString(systemID, smpp.ParamSystemID); err != nil {
		return err
	}
	if systemID == "" {
		return fmt.Errorf("system ID cannot be empty")
	}
	if err := smpp.ValidateString(password, smpp.ParamPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, exists := a.users[systemID]; exists {
		return fmt.Errorf("%w: %s", ErrUserExists, systemID)
	}
	a.users[systemID] = &User{
		SystemID:     systemID,
		PasswordHash: string(hash),
		Active:       true,
		BindTypes:    bindTypes,
		MaxSessions:  maxSessions,
		CreatedAt:    time.Now(),
	}
	a.logger.Info("User created", "system_id", systemID)
	return nil
}

// SetActive enables or disables a user.
func (a *Authenticator) SetActive(systemID string, active bool) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	user, ok := a.users[systemID]
	if !ok {
		return ErrUserNotFound
	}
	user.Active = active
	return nil
}

// DeleteUser removes a user. Bound sessions stay bound.
func (a *Authenticator) DeleteUser(systemID string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, ok := a.users[systemID]; !ok {
		return ErrUserNotFound
	}
	delete(a.users, systemID)
	return nil
}

// GetUser returns a copy of the user.
func (a *Authenticator) GetUser(systemID string) (User, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	user, ok := a.users[systemID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return *user, nil
}

// ListUsers returns the system ids of every user in order.
func (a *Authenticator) ListUsers() []string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	ids := make([]string, 0, len(a.users))
	for id := range a.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Authenticate checks the credentials and the bind type against the user.
func (a *Authenticator) Authenticate(ctx context.Context, systemID, password string, bindType smpp.BindType) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mutex.RLock()
	user, exists := a.users[systemID]
	a.mutex.RUnlock()

	if !exists {
		a.logger.Warn("Authentication failed: user not found", "system_id", systemID)
		return nil, ErrUserNotFound
	}
	if !user.Active {
		a.logger.Warn("Authentication failed: user inactive", "system_id", systemID)
		return nil, ErrUserInactive
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		a.logger.Warn("Authentication failed: invalid password", "system_id", systemID)
		return nil, ErrInvalidCredentials
	}
	if !user.allows(bindType) {
		a.logger.Warn("Authentication failed: bind type not allowed", "system_id", systemID, "bind_type", bindType.String())
		return nil, fmt.Errorf("%w: %s", ErrBindTypeNotAllowed, bindType)
	}

	a.mutex.Lock()
	user.LastLogin = time.Now()
	user.LoginCount++
	a.mutex.Unlock()

	return user, nil
}

// ActiveSessions returns how many sessions are bound as systemID.
func (a *Authenticator) ActiveSessions(systemID string) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.sessions[systemID]
}

func (a *Authenticator) reserve(user *User) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if user.MaxSessions > 0 && a.sessions[user.SystemID] >= user.MaxSessions {
		return fmt.Errorf("%w: %s has %d", ErrTooManySessions, user.SystemID, user.MaxSessions)
	}
	a.sessions[user.SystemID]++
	return nil
}

func (a *Authenticator) release(systemID string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.sessions[systemID] <= 1 {
		delete(a.sessions, systemID)
		return
	}
	a.sessions[systemID]--
}

// OnBind accepts the bind when the credentials match and the user has a
// session slot left, and rejects it otherwise. The slot is returned when
// the session closes.
func (a *Authenticator) OnBind(session *smpp.ServerSession, req *smpp.BindRequest) {
	logger := a.logger.WithFields(map[string]interface{}{
		"session_id": session.ID(),
		"system_id":  req.SystemID,
	})

	user, err := a.Authenticate(context.Background(), req.SystemID, req.Password, req.BindType())
	if err == nil {
		err = a.reserve(user)
	}
	if err != nil {
		if rerr := req.Reject(BindStatus(err)); rerr != nil {
			logger.Error("Failed to reject bind", "error", rerr)
		}
		return
	}

	var once sync.Once
	release := func() { once.Do(func() { a.release(user.SystemID) }) }
	session.AddStateObserver(smpp.StateObserverFunc(func(newState, _ smpp.SessionState, _ smpp.Session) {
		if newState == smpp.SessionStateClosed {
			release()
		}
	}))
	if session.State() == smpp.SessionStateClosed {
		release()
	}

	if err := req.Accept(a.systemID); err != nil {
		logger.Error("Failed to accept bind", "error", err)
		release()
		return
	}
	logger.Info("Bind authenticated", "bind_type", req.BindType().String())
}
