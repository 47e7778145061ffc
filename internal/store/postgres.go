package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate reports a unique-constraint violation: the row a
// check-then-insert path raced to create already exists.
var ErrDuplicate = errors.New("duplicate row")

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- organizations ---

func (s *PostgresStore) CreateOrganization(ctx context.Context, org Organization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, created_at)
		VALUES ($1, $2, $3)
	`, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM organizations WHERE id=$1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	return nil
}

// --- identities ---

func (s *PostgresStore) CreateIdentity(ctx context.Context, identity Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, email, password_hash)
		VALUES ($1, LOWER($2), $3)
	`, identity.ID, identity.Email, identity.PasswordHash)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert identity: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIdentityByEmail(ctx context.Context, email string) (Identity, error) {
	var identity Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM identities WHERE email = LOWER($1)
	`, email).Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &identity.CreatedAt)
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

func (s *PostgresStore) GetIdentityByID(ctx context.Context, id string) (Identity, error) {
	var identity Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM identities WHERE id=$1
	`, id).Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &identity.CreatedAt)
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

func (s *PostgresStore) UpdateIdentityPassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE identities SET password_hash=$2 WHERE id=$1
	`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update identity password: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteIdentity removes the credential record. The user profile, if
// any, cascades with it; registration uses this as its compensating
// action so the email stays reusable.
func (s *PostgresStore) DeleteIdentity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// --- users ---

const userColumns = `id, organization_id, name, email, role, manager_id, points, avatar, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var managerID sql.NullString
	err := row.Scan(&user.ID, &user.OrganizationID, &user.Name, &user.Email, &user.Role, &managerID, &user.Points, &user.Avatar, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	if managerID.Valid {
		user.ManagerID = &managerID.String
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	var managerID any
	if user.ManagerID != nil {
		managerID = *user.ManagerID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, name, email, role, manager_id, points, avatar)
		VALUES ($1, $2, $3, LOWER($4), $5, $6, $7, $8)
	`, user.ID, user.OrganizationID, user.Name, user.Email, user.Role, managerID, user.Points, user.Avatar)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	return scanUser(row)
}

func (s *PostgresStore) ListUsersByOrg(ctx context.Context, organizationID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE organization_id=$1
		ORDER BY created_at, id
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, id, role string, managerID *string) error {
	var manager any
	if managerID != nil {
		manager = *managerID
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET role=$2, manager_id=$3 WHERE id=$1
	`, id, role, manager)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, id, avatar string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET avatar=$2 WHERE id=$1`, id, avatar)
	if err != nil {
		return fmt.Errorf("update user avatar: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddUserPoints credits points to a user. Credits are additive so
// concurrent awards never clobber each other.
func (s *PostgresStore) AddUserPoints(ctx context.Context, id string, points int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET points = points + $2 WHERE id=$1
	`, id, points)
	if err != nil {
		return fmt.Errorf("add user points: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// --- tasks ---

const taskColumns = `id, organization_id, title, description, assigned_to, assigned_by, points, status, created_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var task Task
	var assignedBy sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&task.ID, &task.OrganizationID, &task.Title, &task.Description, &task.AssignedTo, &assignedBy, &task.Points, &task.Status, &task.CreatedAt, &completedAt)
	if err != nil {
		return Task{}, err
	}
	// assigned_by nulls out when the assigner's account is deleted.
	task.AssignedBy = assignedBy.String
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return task, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, organization_id, title, description, assigned_to, assigned_by, points, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, task.ID, task.OrganizationID, task.Title, task.Description, task.AssignedTo, task.AssignedBy, task.Points, task.Status, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id)
	return scanTask(row)
}

func (s *PostgresStore) ListTasksByOrg(ctx context.Context, organizationID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE organization_id=$1
		ORDER BY created_at DESC, id
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// CompleteTask transitions a task to COMPLETED only if it is still
// PENDING. Returns false when the guard fails, which racing callers
// treat as "someone else already completed it".
func (s *PostgresStore) CompleteTask(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=$2, completed_at=$3
		WHERE id=$1 AND status=$4
	`, id, TaskCompleted, completedAt, TaskPending)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete task rows: %w", err)
	}
	return affected == 1, nil
}

// --- time logs ---

const timeLogColumns = `id, user_id, organization_id, clock_in, clock_out, location_in_lat, location_in_lng, location_out_lat, location_out_lng, log_date`

func scanTimeLog(row interface{ Scan(...any) error }) (TimeLog, error) {
	var log TimeLog
	var clockOut sql.NullTime
	var inLat, inLng, outLat, outLng sql.NullFloat64
	err := row.Scan(&log.ID, &log.UserID, &log.OrganizationID, &log.ClockIn, &clockOut, &inLat, &inLng, &outLat, &outLng, &log.Date)
	if err != nil {
		return TimeLog{}, err
	}
	if clockOut.Valid {
		log.ClockOut = &clockOut.Time
	}
	if inLat.Valid && inLng.Valid {
		log.LocationIn = &LatLng{Lat: inLat.Float64, Lng: inLng.Float64}
	}
	if outLat.Valid && outLng.Valid {
		log.LocationOut = &LatLng{Lat: outLat.Float64, Lng: outLng.Float64}
	}
	return log, nil
}

func (s *PostgresStore) CreateTimeLog(ctx context.Context, log TimeLog) error {
	var inLat, inLng any
	if log.LocationIn != nil {
		inLat, inLng = log.LocationIn.Lat, log.LocationIn.Lng
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO time_logs (id, user_id, organization_id, clock_in, location_in_lat, location_in_lng, log_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, log.ID, log.UserID, log.OrganizationID, log.ClockIn, inLat, inLng, log.Date)
	if isUniqueViolation(err) {
		// Lost a race past the open-log check; the partial index holds.
		return fmt.Errorf("insert time log: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert time log: %w", err)
	}
	return nil
}

func (s *PostgresStore) OpenTimeLog(ctx context.Context, userID, date string) (*TimeLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+timeLogColumns+` FROM time_logs
		WHERE user_id=$1 AND log_date=$2 AND clock_out IS NULL
	`, userID, date)
	log, err := scanTimeLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open time log: %w", err)
	}
	return &log, nil
}

// CloseTimeLog sets clock-out on the open log for (user, date).
// Returns false when no open log exists.
func (s *PostgresStore) CloseTimeLog(ctx context.Context, userID, date string, clockOut time.Time, location *LatLng) (bool, error) {
	var outLat, outLng any
	if location != nil {
		outLat, outLng = location.Lat, location.Lng
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE time_logs
		SET clock_out=$3, location_out_lat=$4, location_out_lng=$5
		WHERE user_id=$1 AND log_date=$2 AND clock_out IS NULL
	`, userID, date, clockOut, outLat, outLng)
	if err != nil {
		return false, fmt.Errorf("close time log: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close time log rows: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) ListTimeLogsByOrg(ctx context.Context, organizationID string) ([]TimeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+timeLogColumns+` FROM time_logs
		WHERE organization_id=$1
		ORDER BY clock_in DESC, id
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list time logs: %w", err)
	}
	defer rows.Close()

	var logs []TimeLog
	for rows.Next() {
		log, err := scanTimeLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan time log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// --- refresh sessions and revocations ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}
