// Package memory provides in-memory repository implementations with the same
// atomicity and uniqueness semantics as the postgres package. They back the
// service tests and local development without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fernwood/siteauth/internal/domain"
	apperrors "github.com/fernwood/siteauth/pkg/errors"
)

// SiteRepository is a mutex-guarded in-memory site store.
type SiteRepository struct {
	mu    sync.RWMutex
	sites map[uuid.UUID]domain.Site
}

// NewSiteRepository creates an empty in-memory site repository.
func NewSiteRepository() *SiteRepository {
	return &SiteRepository{sites: make(map[uuid.UUID]domain.Site)}
}

func (r *SiteRepository) Create(_ context.Context, s *domain.Site) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sites {
		if strings.EqualFold(existing.Domain, s.Domain) {
			return apperrors.Conflict("site with domain " + s.Domain + " already exists")
		}
	}
	r.sites[s.ID] = *s
	return nil
}

func (r *SiteRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sites[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &s, nil
}

func (r *SiteRepository) GetByDomain(_ context.Context, dom string) (*domain.Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sites {
		if strings.EqualFold(s.Domain, dom) {
			site := s
			return &site, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *SiteRepository) List(_ context.Context) ([]domain.Site, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sites := make([]domain.Site, 0, len(r.sites))
	for _, s := range r.sites {
		sites = append(sites, s)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].CreatedAt.Before(sites[j].CreatedAt) })
	return sites, nil
}

func (r *SiteRepository) Update(_ context.Context, id uuid.UUID, update *domain.SiteUpdate) (*domain.Site, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sites[id]
	if !ok {
		return nil, apperrors.NotFound("site", id.String())
	}

	if update.Domain != nil {
		for otherID, other := range r.sites {
			if otherID != id && strings.EqualFold(other.Domain, *update.Domain) {
				return nil, apperrors.Conflict("site domain already in use")
			}
		}
		s.Domain = *update.Domain
	}
	if update.Name != nil {
		s.Name = *update.Name
	}
	if update.FrontendURL != nil {
		s.FrontendURL = *update.FrontendURL
	}
	if update.VerificationRedirect != nil {
		s.VerificationRedirect = *update.VerificationRedirect
	}
	if update.EmailFrom != nil {
		s.EmailFrom = *update.EmailFrom
	}
	if update.EmailFromName != nil {
		s.EmailFromName = *update.EmailFromName
	}
	if update.Active != nil {
		s.Active = *update.Active
	}
	s.UpdatedAt = time.Now().UTC()

	r.sites[id] = s
	return &s, nil
}

// UserRepository is a mutex-guarded in-memory user store.
type UserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]domain.User
}

// NewUserRepository creates an empty in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[uuid.UUID]domain.User)}
}

func (r *UserRepository) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.SiteID == u.SiteID && strings.EqualFold(existing.Email, u.Email) {
			return apperrors.Conflict("email already registered for this site")
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, siteID uuid.UUID, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.SiteID == siteID && strings.EqualFold(u.Email, email) {
			user := u
			return &user, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *UserRepository) ListBySite(_ context.Context, siteID uuid.UUID) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []domain.User
	for _, u := range r.users {
		if u.SiteID == siteID {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
	return users, nil
}

func (r *UserRepository) Update(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.ID]; !ok {
		return apperrors.NotFound("user", u.ID.String())
	}
	for otherID, other := range r.users {
		if otherID != u.ID && other.SiteID == u.SiteID && strings.EqualFold(other.Email, u.Email) {
			return apperrors.Conflict("email already registered for this site")
		}
	}
	u.UpdatedAt = time.Now().UTC()
	r.users[u.ID] = *u
	return nil
}

func (r *UserRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return apperrors.NotFound("user", id.String())
	}
	delete(r.users, id)
	return nil
}

// TokenRepository is a mutex-guarded in-memory token ledger, one bucket per
// kind. Consume removes (or flags) under the same lock as the lookup, so
// concurrent consumers of one token cannot both succeed.
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[domain.TokenKind]map[string]domain.Token
}

// NewTokenRepository creates an empty in-memory token repository.
func NewTokenRepository() *TokenRepository {
	buckets := make(map[domain.TokenKind]map[string]domain.Token)
	for _, k := range []domain.TokenKind{domain.TokenSession, domain.TokenVerification, domain.TokenReset, domain.TokenChange} {
		buckets[k] = make(map[string]domain.Token)
	}
	return &TokenRepository{tokens: buckets}
}

func (r *TokenRepository) bucket(kind domain.TokenKind) (map[string]domain.Token, error) {
	b, ok := r.tokens[kind]
	if !ok {
		return nil, apperrors.InvalidInput("unknown token kind " + string(kind))
	}
	return b, nil
}

func (r *TokenRepository) Insert(_ context.Context, tok *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.bucket(tok.Kind)
	if err != nil {
		return err
	}
	if _, exists := b[tok.Token]; exists {
		return apperrors.Conflict("token value collision")
	}
	b[tok.Token] = *tok
	return nil
}

func (r *TokenRepository) GetByValue(_ context.Context, kind domain.TokenKind, value string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.bucket(kind)
	if err != nil {
		return nil, err
	}
	tok, ok := b[value]
	if !ok || tok.Used || tok.Expired(time.Now().UTC()) {
		return nil, apperrors.ErrNotFound
	}
	return &tok, nil
}

func (r *TokenRepository) Consume(_ context.Context, kind domain.TokenKind, value string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.bucket(kind)
	if err != nil {
		return nil, err
	}
	tok, ok := b[value]
	if !ok || tok.Used || tok.Expired(time.Now().UTC()) {
		return nil, apperrors.ErrNotFound
	}

	if kind == domain.TokenReset {
		tok.Used = true
		b[value] = tok
	} else {
		delete(b, value)
	}
	return &tok, nil
}

func (r *TokenRepository) DeleteForUser(_ context.Context, kind domain.TokenKind, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.bucket(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	for value, tok := range b {
		if tok.UserID == userID {
			delete(b, value)
			n++
		}
	}
	return n, nil
}

func (r *TokenRepository) PurgeExpired(_ context.Context, kind domain.TokenKind, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := r.bucket(kind)
	if err != nil {
		return 0, err
	}
	var n int64
	for value, tok := range b {
		purge := tok.ExpiresAt.Before(cutoff)
		if kind == domain.TokenReset && tok.Used && tok.CreatedAt.Before(cutoff) {
			purge = true
		}
		if purge {
			delete(b, value)
			n++
		}
	}
	return n, nil
}
