package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbtc-gateway/warden/core"
)

func merchantRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "email", "email_verified", "business_type",
		"stacks_address", "bitcoin_address", "auth_method", "password_hash",
		"generated_password", "profile_complete", "linked_account_ids",
		"created_at", "updated_at",
	})
}

func apiKeyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "merchant_id", "name", "secret_hash", "fingerprint", "preview",
		"permissions", "environment", "ip_restrictions", "rate_limit",
		"created_at", "expires_at", "revoked_at", "grace_expires_at", "superseded_by",
	})
}

func TestPostgresMerchantGetByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresMerchantStore(db)

	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT .+ FROM merchants WHERE email = \$1`).
		WithArgs("alice@example.com").
		WillReturnRows(merchantRows().AddRow(
			"m1", "Alice's Shop", "alice@example.com", true, "retail",
			"SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7", nil, "email", "hash",
			nil, true, "{m2}",
			now, now,
		))

	m, err := s.GetByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7", m.StacksAddress)
	assert.Empty(t, m.BitcoinAddress)
	assert.Equal(t, core.AuthMethodEmail, m.AuthMethod)
	assert.Equal(t, []string{"m2"}, []string(m.LinkedAccountIDs))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMerchantNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresMerchantStore(db)

	mock.ExpectQuery(`(?s)SELECT .+ FROM merchants WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(merchantRows())

	_, err = s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrMerchantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMerchantCreateConflicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresMerchantStore(db)

	m := &core.Merchant{ID: "m1", Email: "alice@example.com", AuthMethod: core.AuthMethodEmail}

	mock.ExpectExec(`INSERT INTO merchants`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "merchants_email_key"})
	err = s.Create(context.Background(), m)
	assert.ErrorIs(t, err, core.ErrEmailTaken)

	mock.ExpectExec(`INSERT INTO merchants`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "merchants_stacks_address_key"})
	err = s.Create(context.Background(), m)
	assert.ErrorIs(t, err, core.ErrWalletTaken)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMerchantUpdateMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresMerchantStore(db)

	mock.ExpectExec(`UPDATE merchants SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Update(context.Background(), &core.Merchant{ID: "missing", Email: "a@b.co"})
	assert.ErrorIs(t, err, core.ErrMerchantNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBindWalletConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresMerchantStore(db)

	mock.ExpectExec(`UPDATE merchants SET`).
		WithArgs("m1", "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7", "").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "merchants_stacks_address_key"})

	err = s.BindWallet(context.Background(), "m1", "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7", "")
	assert.ErrorIs(t, err, core.ErrWalletTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMerchantSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresMerchantStore(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`split_part(email, '@', 1) = $1`)).
		WithArgs("founder", "Acme").
		WillReturnRows(merchantRows().AddRow(
			"m2", "Acme", "founder@acme.io", false, "other",
			nil, nil, "email", "hash",
			nil, false, "{}",
			now, now,
		))

	out, err := s.Search(context.Background(), "Founder@gmail.com", "Acme")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "m2", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAPIKeyGetByFingerprint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresAPIKeyStore(db)

	now := time.Now()
	grace := now.Add(24 * time.Hour)
	mock.ExpectQuery(`(?s)SELECT .+ FROM api_keys WHERE fingerprint = \$1`).
		WithArgs("fp").
		WillReturnRows(apiKeyRows().AddRow(
			"k1", "m1", "Checkout backend", "hash", "fp", "sk_test_abcd...wxyz",
			"{read,write}", "test", "{203.0.113.9}", 100,
			now, nil, nil, grace, "k2",
		))

	k, err := s.GetByFingerprint(context.Background(), "fp")
	require.NoError(t, err)
	assert.Equal(t, "k1", k.ID)
	assert.Equal(t, []core.Permission{core.PermissionRead, core.PermissionWrite}, k.Permissions)
	assert.Equal(t, core.EnvTest, k.Environment)
	assert.Equal(t, []string{"203.0.113.9"}, k.IPRestrictions)
	assert.Nil(t, k.RevokedAt)
	require.NotNil(t, k.GraceExpiresAt)
	assert.WithinDuration(t, grace, *k.GraceExpiresAt, time.Second)
	assert.Equal(t, "k2", k.SupersededBy)

	mock.ExpectQuery(`(?s)SELECT .+ FROM api_keys WHERE fingerprint = \$1`).
		WithArgs("unknown").
		WillReturnRows(apiKeyRows())
	_, err = s.GetByFingerprint(context.Background(), "unknown")
	assert.ErrorIs(t, err, core.ErrAPIKeyNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAPIKeyUpdateMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresAPIKeyStore(db)

	mock.ExpectExec(`UPDATE api_keys SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.Update(context.Background(), &core.APIKey{ID: "missing"})
	assert.ErrorIs(t, err, core.ErrAPIKeyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAPIKeyListByMerchant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewPostgresAPIKeyStore(db)

	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT .+ FROM api_keys\s+WHERE merchant_id = \$1 ORDER BY created_at DESC`).
		WithArgs("m1").
		WillReturnRows(apiKeyRows().
			AddRow("k2", "m1", "Rotated", "hash", "fp2", "sk_live_efgh...stuv",
				"{read}", "live", "{}", 0, now, nil, nil, nil, nil).
			AddRow("k1", "m1", "Original", "hash", "fp1", "sk_live_abcd...wxyz",
				"{read}", "live", "{}", 0, now.Add(-time.Hour), nil, nil, nil, nil))

	keys, err := s.ListByMerchant(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k2", keys[0].ID)
	assert.Equal(t, "k1", keys[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
