// Package access decides whether an actor may perform an action on a
// target. It is a pure predicate: no lookups, no side effects. Callers
// resolve the target (course owner, student id) before asking.
package access

import "errors"

// ErrForbidden is returned for every denied decision.
var ErrForbidden = errors.New("forbidden")

// Role tags an identity.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAdmin
}

// Action names an operation subject to authorization.
type Action string

const (
	ActionManageCourse    Action = "course:manage"     // create/update/delete a course
	ActionRecordCheckIn   Action = "attendance:record" // face or manual marking, bulk apply
	ActionViewCourseStats Action = "attendance:view"   // course-wide records and stats
	ActionEnroll          Action = "enrollment:enroll"
	ActionDrop            Action = "enrollment:drop"
	ActionViewOwnRecords  Action = "attendance:view-own"
	ActionUploadFace      Action = "face:upload"
)

// Actor is the authenticated caller, passed explicitly into every core
// operation. The engine never reads ambient session state.
type Actor struct {
	ID   int64
	Role Role
}

// Target scopes a decision. CourseOwnerID is the course's teacher,
// StudentID the student a self-scoped action concerns. Zero values mean
// the dimension is not part of the decision.
type Target struct {
	CourseOwnerID int64
	StudentID     int64
}

// Authorize returns nil when actor may perform action on target and
// ErrForbidden otherwise. Admins may do everything; teachers act only on
// courses they own; students act only on themselves.
func Authorize(actor Actor, action Action, target Target) error {
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleTeacher:
		switch action {
		case ActionManageCourse, ActionRecordCheckIn, ActionViewCourseStats:
			if target.CourseOwnerID == actor.ID {
				return nil
			}
		}
		return ErrForbidden
	case RoleStudent:
		switch action {
		case ActionEnroll, ActionDrop, ActionViewOwnRecords, ActionUploadFace:
			if target.StudentID == actor.ID {
				return nil
			}
		}
		return ErrForbidden
	default:
		return ErrForbidden
	}
}
