package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

// MemoryMerchantStore is an in-memory MerchantStore for tests and
// single-process development. Uniqueness is enforced under the lock,
// matching what the Postgres constraints guarantee.
type MemoryMerchantStore struct {
	mu       sync.RWMutex
	byID     map[string]*core.Merchant
	byEmail  map[string]string
	byWallet map[string]string
}

// NewMemoryMerchantStore creates an empty merchant store.
func NewMemoryMerchantStore() *MemoryMerchantStore {
	return &MemoryMerchantStore{
		byID:     make(map[string]*core.Merchant),
		byEmail:  make(map[string]string),
		byWallet: make(map[string]string),
	}
}

func (s *MemoryMerchantStore) Create(ctx context.Context, m *core.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	emailKey := strings.ToLower(m.Email)
	if _, taken := s.byEmail[emailKey]; taken {
		return core.ErrEmailTaken
	}
	for _, addr := range []string{m.StacksAddress, m.BitcoinAddress} {
		if addr == "" {
			continue
		}
		if _, taken := s.byWallet[strings.ToLower(addr)]; taken {
			return core.ErrWalletTaken
		}
	}

	cp := cloneMerchant(m)
	s.byID[m.ID] = cp
	s.byEmail[emailKey] = m.ID
	if m.StacksAddress != "" {
		s.byWallet[strings.ToLower(m.StacksAddress)] = m.ID
	}
	if m.BitcoinAddress != "" {
		s.byWallet[strings.ToLower(m.BitcoinAddress)] = m.ID
	}
	return nil
}

func (s *MemoryMerchantStore) Update(ctx context.Context, m *core.Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[m.ID]
	if !ok {
		return core.ErrMerchantNotFound
	}

	emailKey := strings.ToLower(m.Email)
	if owner, taken := s.byEmail[emailKey]; taken && owner != m.ID {
		return core.ErrEmailTaken
	}

	delete(s.byEmail, strings.ToLower(old.Email))
	s.byEmail[emailKey] = m.ID
	s.byID[m.ID] = cloneMerchant(m)
	return nil
}

func (s *MemoryMerchantStore) GetByID(ctx context.Context, id string) (*core.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return nil, core.ErrMerchantNotFound
	}
	return cloneMerchant(m), nil
}

func (s *MemoryMerchantStore) GetByEmail(ctx context.Context, email string) (*core.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, core.ErrMerchantNotFound
	}
	return cloneMerchant(s.byID[id]), nil
}

func (s *MemoryMerchantStore) GetByWalletAddress(ctx context.Context, address string) (*core.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byWallet[strings.ToLower(address)]
	if !ok {
		return nil, core.ErrMerchantNotFound
	}
	return cloneMerchant(s.byID[id]), nil
}

func (s *MemoryMerchantStore) BindWallet(ctx context.Context, merchantID, stacksAddress, bitcoinAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[merchantID]
	if !ok {
		return core.ErrMerchantNotFound
	}
	for _, addr := range []string{stacksAddress, bitcoinAddress} {
		if addr == "" {
			continue
		}
		if owner, taken := s.byWallet[strings.ToLower(addr)]; taken && owner != merchantID {
			return core.ErrWalletTaken
		}
	}

	if stacksAddress != "" {
		m.StacksAddress = stacksAddress
		s.byWallet[strings.ToLower(stacksAddress)] = merchantID
	}
	if bitcoinAddress != "" {
		m.BitcoinAddress = bitcoinAddress
		s.byWallet[strings.ToLower(bitcoinAddress)] = merchantID
	}
	return nil
}

func (s *MemoryMerchantStore) Search(ctx context.Context, email, name string) ([]*core.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Merchant
	for _, m := range s.byID {
		if email != "" && strings.EqualFold(localPart(m.Email), localPart(email)) {
			out = append(out, cloneMerchant(m))
			continue
		}
		if name != "" && m.Name != "" {
			a, b := strings.ToLower(name), strings.ToLower(m.Name)
			if strings.Contains(a, b) || strings.Contains(b, a) {
				out = append(out, cloneMerchant(m))
			}
		}
	}
	return out, nil
}

func localPart(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return email[:at]
}

func cloneMerchant(m *core.Merchant) *core.Merchant {
	cp := *m
	cp.LinkedAccountIDs = append([]string(nil), m.LinkedAccountIDs...)
	return &cp
}

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*core.Session)}
}

func (s *MemorySessionStore) Put(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, merchantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.MerchantID != merchantID {
		return core.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemorySessionStore) ListByMerchant(ctx context.Context, merchantID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Session
	for _, sess := range s.sessions {
		if sess.MerchantID == merchantID {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MemoryAPIKeyStore is an in-memory APIKeyStore.
type MemoryAPIKeyStore struct {
	mu            sync.RWMutex
	byID          map[string]*core.APIKey
	byFingerprint map[string]string
}

// NewMemoryAPIKeyStore creates an empty API key store.
func NewMemoryAPIKeyStore() *MemoryAPIKeyStore {
	return &MemoryAPIKeyStore{
		byID:          make(map[string]*core.APIKey),
		byFingerprint: make(map[string]string),
	}
}

func (s *MemoryAPIKeyStore) Create(ctx context.Context, k *core.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneKey(k)
	s.byID[k.ID] = cp
	s.byFingerprint[k.Fingerprint] = k.ID
	return nil
}

func (s *MemoryAPIKeyStore) Update(ctx context.Context, k *core.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[k.ID]; !ok {
		return core.ErrAPIKeyNotFound
	}
	s.byID[k.ID] = cloneKey(k)
	return nil
}

func (s *MemoryAPIKeyStore) GetByID(ctx context.Context, merchantID, keyID string) (*core.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byID[keyID]
	if !ok || k.MerchantID != merchantID {
		return nil, core.ErrAPIKeyNotFound
	}
	return cloneKey(k), nil
}

func (s *MemoryAPIKeyStore) GetByFingerprint(ctx context.Context, fingerprint string) (*core.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, core.ErrAPIKeyNotFound
	}
	return cloneKey(s.byID[id]), nil
}

func (s *MemoryAPIKeyStore) ListByMerchant(ctx context.Context, merchantID string) ([]*core.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.APIKey
	for _, k := range s.byID {
		if k.MerchantID == merchantID {
			out = append(out, cloneKey(k))
		}
	}
	return out, nil
}

func cloneKey(k *core.APIKey) *core.APIKey {
	cp := *k
	cp.Permissions = append([]core.Permission(nil), k.Permissions...)
	cp.IPRestrictions = append([]string(nil), k.IPRestrictions...)
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		cp.ExpiresAt = &t
	}
	if k.RevokedAt != nil {
		t := *k.RevokedAt
		cp.RevokedAt = &t
	}
	if k.GraceExpiresAt != nil {
		t := *k.GraceExpiresAt
		cp.GraceExpiresAt = &t
	}
	return &cp
}

// MemoryLinkStore is an in-memory LinkStore.
type MemoryLinkStore struct {
	mu       sync.Mutex
	requests map[string]*core.LinkingRequest
}

// NewMemoryLinkStore creates an empty link store.
func NewMemoryLinkStore() *MemoryLinkStore {
	return &MemoryLinkStore{requests: make(map[string]*core.LinkingRequest)}
}

func (s *MemoryLinkStore) Put(ctx context.Context, r *core.LinkingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.requests[r.Token] = &cp
	return nil
}

func (s *MemoryLinkStore) Get(ctx context.Context, token string) (*core.LinkingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[token]
	if !ok {
		return nil, core.ErrLinkNotFound
	}
	cp := *r
	return &cp, nil
}

// Consume marks a token redeemed; exactly one concurrent caller wins.
func (s *MemoryLinkStore) Consume(ctx context.Context, token string, at time.Time) (*core.LinkingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[token]
	if !ok {
		return nil, core.ErrLinkNotFound
	}
	if r.ConfirmedAt != nil {
		return nil, core.ErrLinkTokenConsumed
	}
	t := at
	r.ConfirmedAt = &t
	cp := *r
	return &cp, nil
}

var (
	_ ports.MerchantStore = (*MemoryMerchantStore)(nil)
	_ ports.SessionStore  = (*MemorySessionStore)(nil)
	_ ports.APIKeyStore   = (*MemoryAPIKeyStore)(nil)
	_ ports.LinkStore     = (*MemoryLinkStore)(nil)
)
