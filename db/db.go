// Package db provides the optional Postgres-backed token store. The in-memory
// credential cache is authoritative; the store only survives restarts and
// captures rotated refresh tokens so operators don't have to copy them from
// logs into the environment.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/pawbrew/cat-cafe/backend/crypto"
)

// botTokenProvider is the single row key; this service manages one shared
// bot identity only.
const botTokenProvider = "twitch-bot"

var (
	encryptor     crypto.Encryptor
	encryptorOnce sync.Once
	encryptorErr  error
)

// initEncryptor initializes encryption from ENCRYPTION_KEY. Unset key means
// plaintext storage (encryption_version = 0).
func initEncryptor() {
	encryptorOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db_encryption"))
			return
		}
		enc, err := crypto.NewAESEncryptor(key)
		if err != nil {
			encryptorErr = fmt.Errorf("failed to initialize encryption: %w", err)
			slog.Error("encryption initialization failed", slog.Any("error", encryptorErr), slog.String("component", "db_encryption"))
			return
		}
		encryptor = enc
		slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"))
	})
}

func getEncryptor() (crypto.Encryptor, error) {
	initEncryptor()
	if encryptorErr != nil {
		return nil, encryptorErr
	}
	return encryptor, nil
}

// Connect opens a Postgres connection for the given DSN.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty DSN")
	}
	return sql.Open("pgx", dsn)
}

// Migrate applies idempotent embedded schema changes. Used as a fallback when
// the versioned migrations in db/migrations are unavailable.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0
		)`,
		`ALTER TABLE oauth_tokens ADD COLUMN IF NOT EXISTS encryption_version INTEGER DEFAULT 0`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// UpsertBotToken stores the current bot credential row, encrypting the token
// values when ENCRYPTION_KEY is configured.
func UpsertBotToken(ctx context.Context, dbx *sql.DB, access, refresh string, expiry time.Time, scope string) error {
	enc, err := getEncryptor()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}

	encVersion := 0
	accessToStore, refreshToStore := access, refresh
	if enc != nil {
		encVersion = 1
		if access != "" {
			if accessToStore, err = crypto.EncryptString(enc, access); err != nil {
				return fmt.Errorf("encrypt access token: %w", err)
			}
		}
		if refresh != "" {
			if refreshToStore, err = crypto.EncryptString(enc, refresh); err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
		}
	}

	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, botTokenProvider, accessToStore, refreshToStore, expiry, scope, encVersion)
	return err
}

// GetBotToken retrieves the stored bot credential row; zero values when the
// row does not exist. Decrypts when the row was written with encryption.
func GetBotToken(ctx context.Context, dbx *sql.DB) (access, refresh string, expiry time.Time, scope string, err error) {
	var encVersion int
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, botTokenProvider)
	err = row.Scan(&access, &refresh, &expiry, &scope, &encVersion)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}

	if encVersion == 1 {
		enc, encErr := getEncryptor()
		if encErr != nil {
			return "", "", time.Time{}, "", fmt.Errorf("get encryptor for decryption: %w", encErr)
		}
		if enc == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if access != "" {
			if access, err = crypto.DecryptString(enc, access); err != nil {
				return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", err)
			}
		}
		if refresh != "" {
			if refresh, err = crypto.DecryptString(enc, refresh); err != nil {
				return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", err)
			}
		}
	}
	return access, refresh, expiry, scope, nil
}

// TokenStoreAdapter implements twitchauth.TokenStore over the oauth_tokens table.
type TokenStoreAdapter struct{ DB *sql.DB }

func (t *TokenStoreAdapter) Load(ctx context.Context) (access, refresh string, expiry time.Time, scope string, err error) {
	return GetBotToken(ctx, t.DB)
}

func (t *TokenStoreAdapter) Save(ctx context.Context, access, refresh string, expiry time.Time, scope string) error {
	return UpsertBotToken(ctx, t.DB, access, refresh, expiry, scope)
}
