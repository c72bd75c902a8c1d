package roster

import (
	"time"

	"rollcall/internal/access"
)

// StudentInfo carries the student-only attributes of an identity.
type StudentInfo struct {
	StudentNo  string    `json:"student_no"`
	Major      string    `json:"major,omitempty"`
	ClassName  string    `json:"class_name,omitempty"`
	FaceVector []float64 `json:"-"`
}

// TeacherInfo carries the teacher-only attributes of an identity.
type TeacherInfo struct {
	TeacherNo  string `json:"teacher_no"`
	Department string `json:"department,omitempty"`
}

// AdminInfo carries the admin-only attributes of an identity.
type AdminInfo struct {
	AdminNo string `json:"admin_no"`
}

// Identity is a person: one base record with a role tag and exactly one
// role-specific payload populated.
type Identity struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	Role      access.Role  `json:"role"`
	Student   *StudentInfo `json:"student,omitempty"`
	Teacher   *TeacherInfo `json:"teacher,omitempty"`
	Admin     *AdminInfo   `json:"admin,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// HasFaceVector reports whether the identity is a student with stored
// face data.
func (i Identity) HasFaceVector() bool {
	return i.Student != nil && len(i.Student.FaceVector) > 0
}

// Course is a taught course. StartTime/EndTime are clock strings in
// "15:04" form; a course without a start time never classifies anyone
// as late.
type Course struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	TeacherID int64     `json:"teacher_id"`
	Category  string    `json:"category,omitempty"`
	DayOfWeek string    `json:"day_of_week,omitempty"`
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Enrollment links a student to a course, unique per pair. Its existence
// is the precondition for any attendance record on the pair.
type Enrollment struct {
	ID         int64     `json:"id"`
	StudentID  int64     `json:"student_id"`
	CourseID   int64     `json:"course_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
