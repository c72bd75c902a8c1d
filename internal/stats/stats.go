// Package stats folds finished attendance records into per-student and
// per-course summaries. It only reads; record mutation belongs to the
// ledger.
package stats

import (
	"sort"

	"rollcall/internal/attendance"
)

// StudentStat summarizes one student's records in the input set.
type StudentStat struct {
	StudentID      int64   `json:"student_id"`
	Total          int     `json:"total"`
	Present        int     `json:"present"`
	Late           int     `json:"late"`
	Absent         int     `json:"absent"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// OverallStat aggregates across all input records. TotalStudents is the
// enrollment count, not the number of students with records: a student
// who never produced a record still widens the denominator context.
type OverallStat struct {
	TotalRecords          int     `json:"total_records"`
	TotalStudents         int     `json:"total_students"`
	Present               int     `json:"present"`
	Late                  int     `json:"late"`
	Absent                int     `json:"absent"`
	AverageAttendanceRate float64 `json:"average_attendance_rate"`
}

// Summary is the aggregator output.
type Summary struct {
	PerStudent []StudentStat `json:"student_stats"`
	Overall    OverallStat   `json:"overall_stats"`
}

// Aggregate groups records by student, computes per-status counts and
// attendance rates, and sorts students by rate descending. Ties keep
// first-seen order. enrolledCount feeds Overall.TotalStudents.
func Aggregate(records []attendance.Record, enrolledCount int) Summary {
	byStudent := make(map[int64]*StudentStat)
	var order []int64
	overall := OverallStat{TotalRecords: len(records), TotalStudents: enrolledCount}

	for _, rec := range records {
		st, ok := byStudent[rec.StudentID]
		if !ok {
			st = &StudentStat{StudentID: rec.StudentID}
			byStudent[rec.StudentID] = st
			order = append(order, rec.StudentID)
		}
		st.Total++
		switch rec.Status {
		case attendance.StatusPresent:
			st.Present++
			overall.Present++
		case attendance.StatusLate:
			st.Late++
			overall.Late++
		case attendance.StatusAbsent:
			st.Absent++
			overall.Absent++
		}
	}

	perStudent := make([]StudentStat, 0, len(order))
	for _, id := range order {
		st := byStudent[id]
		st.AttendanceRate = rate(st.Present, st.Total)
		perStudent = append(perStudent, *st)
	}
	sort.SliceStable(perStudent, func(i, j int) bool {
		return perStudent[i].AttendanceRate > perStudent[j].AttendanceRate
	})

	overall.AverageAttendanceRate = rate(overall.Present, overall.TotalRecords)
	return Summary{PerStudent: perStudent, Overall: overall}
}

func rate(present, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(present) / float64(total) * 100
}
