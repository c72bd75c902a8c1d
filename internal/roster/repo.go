package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"rollcall/internal/access"
	"rollcall/internal/facematch"
)

var (
	// ErrNotFound covers missing identities, courses, and enrollments.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers unique violations: duplicate email, course
	// code, or enrollment pair.
	ErrConflict = errors.New("already exists")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Repository persists identities, courses, and enrollments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateIdentity inserts an identity with its role payload and returns
// the assigned id.
func (r *Repository) CreateIdentity(ctx context.Context, ident Identity, passwordHash string) (Identity, error) {
	var studentNo, major, className, faceVector, teacherNo, department, adminNo sql.NullString
	switch {
	case ident.Student != nil:
		studentNo = nullable(ident.Student.StudentNo)
		major = nullable(ident.Student.Major)
		className = nullable(ident.Student.ClassName)
		if len(ident.Student.FaceVector) > 0 {
			raw, err := json.Marshal(ident.Student.FaceVector)
			if err != nil {
				return Identity{}, err
			}
			faceVector = sql.NullString{String: string(raw), Valid: true}
		}
	case ident.Teacher != nil:
		teacherNo = nullable(ident.Teacher.TeacherNo)
		department = nullable(ident.Teacher.Department)
	case ident.Admin != nil:
		adminNo = nullable(ident.Admin.AdminNo)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO identities (name, email, password_hash, role, student_no, major, class_name, face_vector, teacher_no, department, admin_no)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id, created_at
	`, ident.Name, ident.Email, passwordHash, string(ident.Role),
		studentNo, major, className, faceVector, teacherNo, department, adminNo)
	if err := row.Scan(&ident.ID, &ident.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Identity{}, fmt.Errorf("email %s: %w", ident.Email, ErrConflict)
		}
		return Identity{}, err
	}
	return ident, nil
}

// GetIdentity returns an identity by id.
func (r *Repository) GetIdentity(ctx context.Context, id int64) (Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, student_no, major, class_name, face_vector, teacher_no, department, admin_no, created_at
		FROM identities WHERE id = $1
	`, id)
	ident, _, err := scanIdentity(row, false)
	return ident, err
}

// GetIdentityByEmail returns an identity and its password hash for login.
func (r *Repository) GetIdentityByEmail(ctx context.Context, email string) (Identity, string, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, student_no, major, class_name, face_vector, teacher_no, department, admin_no, created_at, password_hash
		FROM identities WHERE email = $1
	`, email)
	return scanIdentity(row, true)
}

// DeleteIdentity removes an identity; enrollments and attendance cascade.
func (r *Repository) DeleteIdentity(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

// SetFaceVector stores a student's face feature vector.
func (r *Repository) SetFaceVector(ctx context.Context, studentID int64, vec []float64) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET face_vector = $2, updated_at = NOW()
		WHERE id = $1 AND role = 'student'
	`, studentID, string(raw))
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

// CreateCourse inserts a course owned by a teacher.
func (r *Repository) CreateCourse(ctx context.Context, c Course) (Course, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO courses (code, name, teacher_id, category, day_of_week, start_time, end_time, location)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at
	`, c.Code, c.Name, c.TeacherID, nullable(c.Category), nullable(c.DayOfWeek),
		nullable(c.StartTime), nullable(c.EndTime), nullable(c.Location))
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Course{}, fmt.Errorf("course code %s: %w", c.Code, ErrConflict)
		}
		return Course{}, err
	}
	return c, nil
}

// GetCourse returns a course by id.
func (r *Repository) GetCourse(ctx context.Context, id int64) (Course, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, name, teacher_id, category, day_of_week, start_time, end_time, location, created_at
		FROM courses WHERE id = $1
	`, id)
	var (
		category, dayOfWeek, startTime, endTime, loc sql.NullString
		course                                       Course
	)
	if err := row.Scan(&course.ID, &course.Code, &course.Name, &course.TeacherID,
		&category, &dayOfWeek, &startTime, &endTime, &loc, &course.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Course{}, ErrNotFound
		}
		return Course{}, err
	}
	course.Category = category.String
	course.DayOfWeek = dayOfWeek.String
	course.StartTime = startTime.String
	course.EndTime = endTime.String
	course.Location = loc.String
	return course, nil
}

// UpdateCourse rewrites a course's mutable fields.
func (r *Repository) UpdateCourse(ctx context.Context, c Course) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE courses
		SET name = $2, category = $3, day_of_week = $4, start_time = $5, end_time = $6, location = $7
		WHERE id = $1
	`, c.ID, c.Name, nullable(c.Category), nullable(c.DayOfWeek),
		nullable(c.StartTime), nullable(c.EndTime), nullable(c.Location))
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

// DeleteCourse removes a course; enrollments and attendance cascade.
func (r *Repository) DeleteCourse(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

// ListCoursesByTeacher returns the courses a teacher owns.
func (r *Repository) ListCoursesByTeacher(ctx context.Context, teacherID int64) ([]Course, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, code, name, teacher_id, category, day_of_week, start_time, end_time, location, created_at
		FROM courses WHERE teacher_id = $1 ORDER BY code
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Course
	for rows.Next() {
		var (
			course                                       Course
			category, dayOfWeek, startTime, endTime, loc sql.NullString
		)
		if err := rows.Scan(&course.ID, &course.Code, &course.Name, &course.TeacherID,
			&category, &dayOfWeek, &startTime, &endTime, &loc, &course.CreatedAt); err != nil {
			return nil, err
		}
		course.Category = category.String
		course.DayOfWeek = dayOfWeek.String
		course.StartTime = startTime.String
		course.EndTime = endTime.String
		course.Location = loc.String
		out = append(out, course)
	}
	return out, rows.Err()
}

// Enroll links a student to a course. A second enrollment for the same
// pair is ErrConflict.
func (r *Repository) Enroll(ctx context.Context, studentID, courseID int64) (Enrollment, error) {
	e := Enrollment{StudentID: studentID, CourseID: courseID}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO enrollments (student_id, course_id)
		VALUES ($1, $2)
		RETURNING id, enrolled_at
	`, studentID, courseID)
	if err := row.Scan(&e.ID, &e.EnrolledAt); err != nil {
		if isUniqueViolation(err) {
			return Enrollment{}, fmt.Errorf("student %d in course %d: %w", studentID, courseID, ErrConflict)
		}
		return Enrollment{}, err
	}
	return e, nil
}

// Drop removes a student's enrollment.
func (r *Repository) Drop(ctx context.Context, studentID, courseID int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM enrollments WHERE student_id = $1 AND course_id = $2
	`, studentID, courseID)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

// EnrollmentExists reports whether (student, course) is enrolled.
func (r *Repository) EnrollmentExists(ctx context.Context, studentID, courseID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2)
	`, studentID, courseID).Scan(&exists)
	return exists, err
}

// CountEnrolled returns how many students are enrolled in a course. The
// stats denominator comes from here, not from records present.
func (r *Repository) CountEnrolled(ctx context.Context, courseID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM enrollments WHERE course_id = $1
	`, courseID).Scan(&n)
	return n, err
}

// FaceCandidates returns the stored face vectors of a course's enrolled
// students, for matching a probe against.
func (r *Repository) FaceCandidates(ctx context.Context, courseID int64) ([]facematch.Candidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.id, i.face_vector
		FROM identities i
		JOIN enrollments e ON e.student_id = i.id
		WHERE e.course_id = $1 AND i.face_vector IS NOT NULL
		ORDER BY i.id
	`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []facematch.Candidate
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var vec []float64
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			// A corrupt stored vector drops out of the candidate set
			// instead of failing the whole check-in.
			continue
		}
		out = append(out, facematch.Candidate{IdentityID: id, Vector: vec})
	}
	return out, rows.Err()
}

// scanIdentity reads the shared identity column set and folds the
// nullable role columns into the payload the role tag selects.
func scanIdentity(row *sql.Row, withHash bool) (Identity, string, error) {
	var (
		ident                                   Identity
		role                                    string
		studentNo, major, className, faceVector sql.NullString
		teacherNo, department, adminNo          sql.NullString
		hash                                    string
	)
	dest := []any{
		&ident.ID, &ident.Name, &ident.Email, &role,
		&studentNo, &major, &className, &faceVector,
		&teacherNo, &department, &adminNo, &ident.CreatedAt,
	}
	if withHash {
		dest = append(dest, &hash)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, "", ErrNotFound
		}
		return Identity{}, "", err
	}
	ident.Role = access.Role(role)
	switch ident.Role {
	case access.RoleStudent:
		info := &StudentInfo{
			StudentNo: studentNo.String,
			Major:     major.String,
			ClassName: className.String,
		}
		if faceVector.Valid {
			_ = json.Unmarshal([]byte(faceVector.String), &info.FaceVector)
		}
		ident.Student = info
	case access.RoleTeacher:
		ident.Teacher = &TeacherInfo{TeacherNo: teacherNo.String, Department: department.String}
	case access.RoleAdmin:
		ident.Admin = &AdminInfo{AdminNo: adminNo.String}
	}
	return ident, hash, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func noRowsAsNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
