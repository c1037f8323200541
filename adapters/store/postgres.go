package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sbtc-gateway/warden/core"
	"github.com/sbtc-gateway/warden/ports"
)

// PostgresMerchantStore persists merchants in Postgres. Unique indexes
// on email, stacks_address and bitcoin_address are the safety mechanism
// behind the service-level pre-checks.
type PostgresMerchantStore struct {
	db *sql.DB
}

// NewPostgresMerchantStore creates a Postgres-backed merchant store.
func NewPostgresMerchantStore(db *sql.DB) ports.MerchantStore {
	return &PostgresMerchantStore{db: db}
}

const merchantColumns = `id, name, email, email_verified, business_type,
	stacks_address, bitcoin_address, auth_method, password_hash,
	generated_password, profile_complete, linked_account_ids,
	created_at, updated_at`

func (s *PostgresMerchantStore) Create(ctx context.Context, m *core.Merchant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchants (`+merchantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		m.ID, m.Name, strings.ToLower(m.Email), m.EmailVerified, m.BusinessType,
		nullable(m.StacksAddress), nullable(m.BitcoinAddress), string(m.AuthMethod), m.PasswordHash,
		nullable(m.GeneratedPassword), m.ProfileComplete, pq.Array(m.LinkedAccountIDs),
		m.CreatedAt, m.UpdatedAt,
	)
	return mapMerchantConflict(err)
}

func (s *PostgresMerchantStore) Update(ctx context.Context, m *core.Merchant) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE merchants SET
			name = $2, email = $3, email_verified = $4, business_type = $5,
			stacks_address = $6, bitcoin_address = $7, auth_method = $8,
			password_hash = $9, generated_password = $10, profile_complete = $11,
			linked_account_ids = $12, updated_at = $13
		WHERE id = $1
	`,
		m.ID, m.Name, strings.ToLower(m.Email), m.EmailVerified, m.BusinessType,
		nullable(m.StacksAddress), nullable(m.BitcoinAddress), string(m.AuthMethod),
		m.PasswordHash, nullable(m.GeneratedPassword), m.ProfileComplete,
		pq.Array(m.LinkedAccountIDs), m.UpdatedAt,
	)
	if err != nil {
		return mapMerchantConflict(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrMerchantNotFound
	}
	return nil
}

func (s *PostgresMerchantStore) GetByID(ctx context.Context, id string) (*core.Merchant, error) {
	return s.get(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = $1`, id)
}

func (s *PostgresMerchantStore) GetByEmail(ctx context.Context, email string) (*core.Merchant, error) {
	return s.get(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE email = $1`, strings.ToLower(email))
}

func (s *PostgresMerchantStore) GetByWalletAddress(ctx context.Context, address string) (*core.Merchant, error) {
	return s.get(ctx, `
		SELECT `+merchantColumns+` FROM merchants
		WHERE lower(stacks_address) = lower($1) OR lower(bitcoin_address) = lower($1)
	`, address)
}

func (s *PostgresMerchantStore) BindWallet(ctx context.Context, merchantID, stacksAddress, bitcoinAddress string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE merchants SET
			stacks_address = COALESCE(NULLIF($2, ''), stacks_address),
			bitcoin_address = COALESCE(NULLIF($3, ''), bitcoin_address),
			updated_at = now()
		WHERE id = $1
	`, merchantID, stacksAddress, bitcoinAddress)
	if err != nil {
		return mapMerchantConflict(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrMerchantNotFound
	}
	return nil
}

func (s *PostgresMerchantStore) Search(ctx context.Context, email, name string) ([]*core.Merchant, error) {
	local := localPart(email)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+merchantColumns+` FROM merchants
		WHERE ($1 <> '' AND split_part(email, '@', 1) = $1)
		   OR ($2 <> '' AND name ILIKE '%' || $2 || '%')
		LIMIT 20
	`, strings.ToLower(local), name)
	if err != nil {
		return nil, fmt.Errorf("merchant search failed: %w", err)
	}
	defer rows.Close()

	var out []*core.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresMerchantStore) get(ctx context.Context, query string, args ...interface{}) (*core.Merchant, error) {
	m, err := scanMerchant(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrMerchantNotFound
	}
	return m, err
}

func scanMerchant(row rowScanner) (*core.Merchant, error) {
	var m core.Merchant
	var stacks, bitcoin, generated sql.NullString
	var authMethod string
	var linked pq.StringArray

	err := row.Scan(
		&m.ID, &m.Name, &m.Email, &m.EmailVerified, &m.BusinessType,
		&stacks, &bitcoin, &authMethod, &m.PasswordHash,
		&generated, &m.ProfileComplete, &linked,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.StacksAddress = stacks.String
	m.BitcoinAddress = bitcoin.String
	m.GeneratedPassword = generated.String
	m.AuthMethod = core.AuthMethod(authMethod)
	m.LinkedAccountIDs = linked
	return &m, nil
}

// mapMerchantConflict translates unique-violation errors into the
// conflict sentinels the services act on.
func mapMerchantConflict(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if strings.Contains(pqErr.Constraint, "email") {
			return core.ErrEmailTaken
		}
		return core.ErrWalletTaken
	}
	return fmt.Errorf("merchant store: %w", err)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// PostgresAPIKeyStore persists API keys in Postgres.
type PostgresAPIKeyStore struct {
	db *sql.DB
}

// NewPostgresAPIKeyStore creates a Postgres-backed API key store.
func NewPostgresAPIKeyStore(db *sql.DB) ports.APIKeyStore {
	return &PostgresAPIKeyStore{db: db}
}

const apiKeyColumns = `id, merchant_id, name, secret_hash, fingerprint, preview,
	permissions, environment, ip_restrictions, rate_limit,
	created_at, expires_at, revoked_at, grace_expires_at, superseded_by`

func (s *PostgresAPIKeyStore) Create(ctx context.Context, k *core.APIKey) error {
	perms := make([]string, len(k.Permissions))
	for i, p := range k.Permissions {
		perms[i] = string(p)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		k.ID, k.MerchantID, k.Name, k.SecretHash, k.Fingerprint, k.Preview,
		pq.Array(perms), string(k.Environment), pq.Array(k.IPRestrictions), k.RateLimit,
		k.CreatedAt, nullTime(k.ExpiresAt), nullTime(k.RevokedAt), nullTime(k.GraceExpiresAt), nullable(k.SupersededBy),
	)
	if err != nil {
		return fmt.Errorf("api key store: %w", err)
	}
	return nil
}

func (s *PostgresAPIKeyStore) Update(ctx context.Context, k *core.APIKey) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET
			name = $2, revoked_at = $3, grace_expires_at = $4, superseded_by = $5
		WHERE id = $1
	`, k.ID, k.Name, nullTime(k.RevokedAt), nullTime(k.GraceExpiresAt), nullable(k.SupersededBy))
	if err != nil {
		return fmt.Errorf("api key store: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrAPIKeyNotFound
	}
	return nil
}

func (s *PostgresAPIKeyStore) GetByID(ctx context.Context, merchantID, keyID string) (*core.APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND merchant_id = $2
	`, keyID, merchantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAPIKeyNotFound
	}
	return k, err
}

func (s *PostgresAPIKeyStore) GetByFingerprint(ctx context.Context, fingerprint string) (*core.APIKey, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE fingerprint = $1
	`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAPIKeyNotFound
	}
	return k, err
}

func (s *PostgresAPIKeyStore) ListByMerchant(ctx context.Context, merchantID string) ([]*core.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE merchant_id = $1 ORDER BY created_at DESC
	`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("api key store: %w", err)
	}
	defer rows.Close()

	var out []*core.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanAPIKey(row rowScanner) (*core.APIKey, error) {
	var k core.APIKey
	var perms, ips pq.StringArray
	var env, superseded sql.NullString
	var expiresAt, revokedAt, graceAt sql.NullTime

	err := row.Scan(
		&k.ID, &k.MerchantID, &k.Name, &k.SecretHash, &k.Fingerprint, &k.Preview,
		&perms, &env, &ips, &k.RateLimit,
		&k.CreatedAt, &expiresAt, &revokedAt, &graceAt, &superseded,
	)
	if err != nil {
		return nil, err
	}

	k.Permissions = make([]core.Permission, len(perms))
	for i, p := range perms {
		k.Permissions[i] = core.Permission(p)
	}
	k.IPRestrictions = ips
	k.Environment = core.Environment(env.String)
	k.SupersededBy = superseded.String
	k.ExpiresAt = timePtr(expiresAt)
	k.RevokedAt = timePtr(revokedAt)
	k.GraceExpiresAt = timePtr(graceAt)
	return &k, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
