package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Repository persists roster and attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// -------- Users --------

// CreateUser inserts a person and returns it with the assigned id.
// The password is stored as a bcrypt hash for portal login.
func (r *Repository) CreateUser(ctx context.Context, p Person, password string) (Person, error) {
	if p.Name == "" {
		return Person{}, errors.New("name required")
	}
	if p.Department == "" {
		p.Department = "General"
	}
	if !p.Role.Valid() {
		p.Role = RoleStudent
	}

	var hash []byte
	if password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return Person{}, fmt.Errorf("hash password: %w", err)
		}
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (name, department, email, profile_image_url, role, password_hash)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, created_at
	`, p.Name, p.Department, p.Email, p.ProfileImageURL, string(p.Role), nullableBytes(hash))
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return Person{}, err
	}
	return p, nil
}

// GetUser returns a single person by id, or ErrNotFound.
func (r *Repository) GetUser(ctx context.Context, id int64) (Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, department, email, profile_image_url, role, created_at
		FROM users WHERE id = $1
	`, id)
	return scanPerson(row)
}

// GetUserByEmail returns a single person by email, or ErrNotFound.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, department, email, profile_image_url, role, created_at
		FROM users WHERE email = $1
	`, email)
	return scanPerson(row)
}

// VerifyPassword checks a login attempt and returns the person on success.
func (r *Repository) VerifyPassword(ctx context.Context, email, password string) (Person, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, department, email, profile_image_url, role, created_at, password_hash
		FROM users WHERE email = $1
	`, email)
	var p Person
	var roleStr string
	var hash sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Department, &p.Email, &p.ProfileImageURL, &roleStr, &p.CreatedAt, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Person{}, ErrNotFound
		}
		return Person{}, err
	}
	p.Role = ParseRole(roleStr)
	if !hash.Valid || bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)) != nil {
		return Person{}, errors.New("invalid credentials")
	}
	return p, nil
}

// ListUsers returns the full roster, newest first.
func (r *Repository) ListUsers(ctx context.Context) ([]Person, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, department, email, profile_image_url, role, created_at
		FROM users
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		p, err := scanPersonRows(rows)
		if err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// UpdateUser updates the mutable person fields. Empty name or department
// leaves the stored value untouched, matching the original PUT semantics.
func (r *Repository) UpdateUser(ctx context.Context, id int64, name, department string) (Person, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET name = COALESCE(NULLIF($2, ''), name),
		    department = COALESCE(NULLIF($3, ''), department)
		WHERE id = $1
		RETURNING id, name, department, email, profile_image_url, role, created_at
	`, id, name, department)
	return scanPerson(row)
}

// DeleteUser removes a person and cascades their attendance events.
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance WHERE user_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// -------- Attendance --------

// InsertEvent writes a new event and returns it with id and timestamp.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (user_id, timestamp, screenshot_path)
		VALUES ($1,$2,$3)
		RETURNING id
	`, evt.UserID, evt.Timestamp, evt.ScreenshotPath)
	if err := row.Scan(&evt.ID); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// ListEvents returns events with basic filters, newest first.
func (r *Repository) ListEvents(ctx context.Context, userID int64, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, user_id, timestamp, screenshot_path FROM attendance`
	args := []any{}
	if userID > 0 {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.UserID, &evt.Timestamp, &evt.ScreenshotPath); err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// ListAllEvents returns the full event collection for aggregation.
func (r *Repository) ListAllEvents(ctx context.Context) ([]Event, error) {
	return r.ListEvents(ctx, 0, 1<<30, 0)
}

// ResetAll wipes all people and attendance events in one transaction.
// Announcements survive a reset, matching the original wipe.
func (r *Repository) ResetAll(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attendance`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return err
	}
	return tx.Commit()
}

// -------- Announcements --------

// CreateAnnouncement inserts an announcement.
func (r *Repository) CreateAnnouncement(ctx context.Context, a Announcement) (Announcement, error) {
	if a.Title == "" {
		return Announcement{}, errors.New("title required")
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO announcements (title, body, audience)
		VALUES ($1,$2,$3)
		RETURNING id, created_at
	`, a.Title, a.Body, a.Audience)
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return Announcement{}, err
	}
	return a, nil
}

// ListAnnouncements returns announcements visible to the given role:
// those addressed to it plus those with no audience.
func (r *Repository) ListAnnouncements(ctx context.Context, role Role) ([]Announcement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, body, audience, created_at
		FROM announcements
		WHERE audience = '' OR audience = $1
		ORDER BY created_at DESC, id DESC
	`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Announcement
	for rows.Next() {
		var a Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.Audience, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// -------- scanning helpers --------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (Person, error) {
	var p Person
	var roleStr string
	if err := row.Scan(&p.ID, &p.Name, &p.Department, &p.Email, &p.ProfileImageURL, &roleStr, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Person{}, ErrNotFound
		}
		return Person{}, err
	}
	p.Role = ParseRole(roleStr)
	return p, nil
}

func scanPersonRows(rows *sql.Rows) (Person, error) {
	var p Person
	var roleStr string
	if err := rows.Scan(&p.ID, &p.Name, &p.Department, &p.Email, &p.ProfileImageURL, &roleStr, &p.CreatedAt); err != nil {
		return Person{}, err
	}
	p.Role = ParseRole(roleStr)
	return p, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
