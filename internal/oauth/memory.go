package oauth

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore is the default Store: four mutex-guarded maps with no
// persistence. Expired entries are evicted lazily when touched; an optional
// background sweep bounds memory growth without changing external behavior.
type MemoryStore struct {
	mu sync.RWMutex

	clients       map[string]*RegisteredClient
	codes         map[string]*AuthorizationCode
	accessTokens  map[string]*AccessToken
	refreshTokens map[string]*RefreshToken

	now    func() time.Time
	logger *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients:       make(map[string]*RegisteredClient),
		codes:         make(map[string]*AuthorizationCode),
		accessTokens:  make(map[string]*AccessToken),
		refreshTokens: make(map[string]*RefreshToken),
		now:           time.Now,
		logger:        slog.Default(),
		stopCleanup:   make(chan struct{}),
	}
}

// SetClock overrides the time source. Used by tests to exercise expiry.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetLogger sets a custom logger.
func (s *MemoryStore) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

func (s *MemoryStore) SaveClient(client *RegisteredClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
	return nil
}

func (s *MemoryStore) GetClient(clientID string) (*RegisteredClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return client, nil
}

func (s *MemoryStore) SaveAuthorizationCode(code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

// RedeemAuthorizationCode performs lookup, validation and single-use
// deletion under one lock. Two concurrent redemptions of the same code can
// never both succeed: the second one finds the code gone and gets
// ErrNotFound. Codes that fail validation stay in the store so a later call
// with correct parameters can still succeed, except expired codes, which
// are evicted on sight.
func (s *MemoryStore) RedeemAuthorizationCode(code string, validate func(*AuthorizationCode) error) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	if err := validate(record); err != nil {
		if errors.Is(err, ErrCodeExpired) {
			delete(s.codes, code)
		}
		return nil, err
	}
	delete(s.codes, code)
	return record, nil
}

func (s *MemoryStore) SaveAccessToken(token *AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token.Token] = token
	return nil
}

func (s *MemoryStore) GetAccessToken(token string) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.accessTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) DeleteAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, token)
	return nil
}

func (s *MemoryStore) SaveRefreshToken(token *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.Token] = token
	return nil
}

func (s *MemoryStore) GetRefreshToken(token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.refreshTokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) Ping() error { return nil }

// Close stops the background sweep if one is running.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
	return nil
}

// StartCleanup launches a timer-driven sweep that removes expired codes and
// access tokens. Refresh tokens carry no expiry and are never swept.
func (s *MemoryStore) StartCleanup(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, code := range s.codes {
		if code.ExpiresAt.Before(now) {
			delete(s.codes, key)
			removed++
		}
	}
	for key, token := range s.accessTokens {
		if token.ExpiresAt.Before(now) {
			delete(s.accessTokens, key)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept expired oauth records", "removed", removed)
	}
}
