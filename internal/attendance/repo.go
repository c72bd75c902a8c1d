package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance records in Postgres. The unique key on
// (student_id, course_id, attendance_date) is what makes Insert an
// atomic create-if-absent: a concurrent duplicate surfaces as
// ErrDuplicateCheckIn, never as a silent double record.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, course_id, attendance_date, check_in_time, status, match_score, image_path, remarks, created_at, updated_at`

// Get returns the record for the key, or nil when none exists.
func (r *Repository) Get(ctx context.Context, studentID, courseID int64, date time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendances
		WHERE student_id = $1 AND course_id = $2 AND attendance_date = $3
	`, studentID, courseID, DateKey(date))
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert writes a new record. A unique-key conflict is reported as
// ErrDuplicateCheckIn and leaves the existing record unchanged.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendances (id, student_id, course_id, attendance_date, check_in_time, status, match_score, image_path, remarks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at
	`, rec.ID, rec.StudentID, rec.CourseID, DateKey(rec.Date), rec.CheckInTime,
		string(rec.Status), rec.MatchScore, nullString(rec.ImagePath), rec.Remarks)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicateCheckIn
		}
		return Record{}, err
	}
	return rec, nil
}

// Update rewrites status and remarks in place, the only sanctioned
// overwrite path.
func (r *Repository) Update(ctx context.Context, rec Record) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendances
		SET status = $2, remarks = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, rec.ID, string(rec.Status), rec.Remarks)
	if err := row.Scan(&rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListByCourse returns a course's records, optionally bounded by dates
// (inclusive). Zero times mean unbounded.
func (r *Repository) ListByCourse(ctx context.Context, courseID int64, from, to time.Time) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendances WHERE course_id = $1`
	args := []any{courseID}
	if !from.IsZero() {
		args = append(args, DateKey(from))
		query += ` AND attendance_date >= $2`
	}
	if !to.IsZero() {
		args = append(args, DateKey(to))
		query += ` AND attendance_date <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY attendance_date DESC, student_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListByStudent returns all of one student's records, newest first.
func (r *Repository) ListByStudent(ctx context.Context, studentID int64) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendances
		WHERE student_id = $1
		ORDER BY attendance_date DESC, course_id
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// UnrecordedStudents returns enrolled students with no record for the
// (course, date) key. The absence sweep feeds on this.
func (r *Repository) UnrecordedStudents(ctx context.Context, courseID int64, date time.Time) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.student_id
		FROM enrollments e
		WHERE e.course_id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM attendances a
			WHERE a.student_id = e.student_id
			  AND a.course_id = e.course_id
			  AND a.attendance_date = $2
		  )
		ORDER BY e.student_id
	`, courseID, DateKey(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(scan func(...any) error) (Record, error) {
	var (
		rec       Record
		status    string
		imagePath sql.NullString
	)
	err := scan(&rec.ID, &rec.StudentID, &rec.CourseID, &rec.Date, &rec.CheckInTime,
		&status, &rec.MatchScore, &imagePath, &rec.Remarks, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.ImagePath = imagePath.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

