package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/cobaltlabs/aegis/internal/domain"
)

const userColumns = `
	u.id, u.email, u.password_hash, u.first_name, u.last_name,
	u.is_active, u.email_verified, u.mfa_enabled,
	COALESCE(u.mfa_secret, ''), u.mfa_backup_codes, u.last_login_at,
	u.role_id, r.name, u.created_at, u.updated_at
`

// PostgresUserRepo implements domain.UserRepository against the directory
// store's users/roles tables, plus the audit_logs sink.
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo creates a new repository instance.
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	var lastLogin sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.IsActive,
		&user.EmailVerified,
		&user.MFAEnabled,
		&user.MFASecret,
		pq.Array(&user.MFABackupCodes),
		&lastLogin,
		&user.RoleID,
		&user.RoleName,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("database error: %w", err)
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return user, nil
}

// GetByEmail retrieves a user by lowercased email, joining with the roles
// table to avoid N+1 queries.
func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		JOIN roles r ON u.role_id = r.id
		WHERE u.email = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, strings.ToLower(email)))
}

// GetByID retrieves a user by their UUID.
func (r *PostgresUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		JOIN roles r ON u.role_id = r.id
		WHERE u.id = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// Create inserts a new user. A unique violation on email surfaces as
// domain.ErrDuplicateEmail.
func (r *PostgresUserRepo) Create(ctx context.Context, user *domain.User) error {
	// Resolve role name to ID when the caller only supplied a name.
	if user.RoleID == "" {
		roleName := user.RoleName
		if roleName == "" {
			roleName = "user"
		}
		if err := r.db.QueryRowContext(ctx, "SELECT id, name FROM roles WHERE name = $1", roleName).
			Scan(&user.RoleID, &user.RoleName); err != nil {
			return fmt.Errorf("role %q not found: %w", roleName, err)
		}
	}

	query := `
		INSERT INTO users (email, password_hash, first_name, last_name,
			is_active, email_verified, mfa_enabled, mfa_secret, mfa_backup_codes,
			role_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	var mfaSecret sql.NullString
	if user.MFASecret != "" {
		mfaSecret = sql.NullString{String: user.MFASecret, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.IsActive,
		user.EmailVerified,
		user.MFAEnabled,
		mfaSecret,
		pq.Array(user.MFABackupCodes),
		user.RoleID,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.ErrDuplicateEmail
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (r *PostgresUserRepo) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.exec(ctx, `
		UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3
	`, passwordHash, time.Now(), userID)
}

// UpdateMFA persists the MFA enrollment state in one write: secret, hashed
// backup codes and the enabled flag together.
func (r *PostgresUserRepo) UpdateMFA(ctx context.Context, userID, secret string, backupCodes []string, enabled bool) error {
	var mfaSecret sql.NullString
	if secret != "" {
		mfaSecret = sql.NullString{String: secret, Valid: true}
	}
	return r.exec(ctx, `
		UPDATE users SET mfa_secret = $1, mfa_backup_codes = $2, mfa_enabled = $3, updated_at = $4
		WHERE id = $5
	`, mfaSecret, pq.Array(backupCodes), enabled, time.Now(), userID)
}

// UpdateLastLogin stamps the last successful authentication.
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2
	`, at, userID)
}

// SetEmailVerified marks the address confirmed.
func (r *PostgresUserRepo) SetEmailVerified(ctx context.Context, userID string) error {
	return r.exec(ctx, `
		UPDATE users SET email_verified = TRUE, updated_at = $1 WHERE id = $2
	`, time.Now(), userID)
}

func (r *PostgresUserRepo) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// LogSecurityEvent inserts an immutable record into the audit_logs table.
func (r *PostgresUserRepo) LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (user_id, event_type, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	// user_id may be NULL for anonymous failed logins.
	var uid sql.NullString
	if userID != "" {
		uid = sql.NullString{String: userID, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query, uid, eventType, ip, metaJSON, time.Now())
	return err
}
