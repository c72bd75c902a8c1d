package main

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/access"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/faceclient"
	"rollcall/internal/facematch"
	"rollcall/internal/imagestore"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/stats"
)

type api struct {
	cfg    config.App
	ledger *attendance.Service
	roster *roster.Repository
	face   *faceclient.Client
	images *imagestore.Client
	jobs   queue.Queue
}

func actorFrom(c *gin.Context) (access.Actor, bool) {
	claims, ok := auth.FromContext(c)
	if !ok {
		return access.Actor{}, false
	}
	id, err := claims.IdentityID()
	if err != nil {
		return access.Actor{}, false
	}
	return access.Actor{ID: id, Role: access.Role(claims.Role)}, true
}

// fail maps engine errors to HTTP statuses. Internal detail never
// reaches the caller beyond a categorized message.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, access.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, attendance.ErrNotFound), errors.Is(err, roster.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, attendance.ErrDuplicateCheckIn):
		c.JSON(http.StatusConflict, gin.H{"error": "attendance already recorded for this date"})
	case errors.Is(err, roster.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, attendance.ErrNotEnrolled), errors.Is(err, attendance.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	}
	return time.Parse("2006-01-02", s)
}

func courseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid course id"})
		return 0, false
	}
	return id, true
}

func (a *api) register(c *gin.Context) {
	var req struct {
		Name      string `json:"name" binding:"required"`
		Email     string `json:"email" binding:"required,email"`
		Password  string `json:"password" binding:"required,min=6"`
		Role      string `json:"role" binding:"required"`
		StudentNo string `json:"student_no"`
		Major     string `json:"major"`
		ClassName string `json:"class_name"`
		TeacherNo string `json:"teacher_no"`
		Dept      string `json:"department"`
		AdminNo   string `json:"admin_no"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := access.Role(req.Role)
	if !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be student, teacher, or admin"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		fail(c, err)
		return
	}

	ident := roster.Identity{Name: req.Name, Email: req.Email, Role: role}
	switch role {
	case access.RoleStudent:
		ident.Student = &roster.StudentInfo{StudentNo: req.StudentNo, Major: req.Major, ClassName: req.ClassName}
	case access.RoleTeacher:
		ident.Teacher = &roster.TeacherInfo{TeacherNo: req.TeacherNo, Department: req.Dept}
	case access.RoleAdmin:
		ident.Admin = &roster.AdminInfo{AdminNo: req.AdminNo}
	}

	created, err := a.roster.CreateIdentity(c.Request.Context(), ident, string(hash))
	if err != nil {
		fail(c, err)
		return
	}

	tokens, err := auth.Issue(created.ID, string(role), a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"identity":      created,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (a *api) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ident, hash, err := a.roster.GetIdentityByEmail(c.Request.Context(), req.Email)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	tokens, err := auth.Issue(ident.ID, string(ident.Role), a.cfg.JWTIssuer, a.cfg.JWTSigningKey, a.cfg.AccessTTL, a.cfg.RefreshTTL)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identity":      ident,
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (a *api) createCourse(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no actor"})
		return
	}
	var req struct {
		Code      string `json:"code" binding:"required"`
		Name      string `json:"name" binding:"required"`
		TeacherID int64  `json:"teacher_id"`
		Category  string `json:"category"`
		DayOfWeek string `json:"day_of_week"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Location  string `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Teachers create courses they own; admins may assign any teacher.
	teacherID := req.TeacherID
	if teacherID == 0 {
		teacherID = actor.ID
	}
	if err := access.Authorize(actor, access.ActionManageCourse, access.Target{CourseOwnerID: teacherID}); err != nil {
		fail(c, err)
		return
	}

	course, err := a.roster.CreateCourse(c.Request.Context(), roster.Course{
		Code: req.Code, Name: req.Name, TeacherID: teacherID,
		Category: req.Category, DayOfWeek: req.DayOfWeek,
		StartTime: req.StartTime, EndTime: req.EndTime, Location: req.Location,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (a *api) getCourse(c *gin.Context) {
	id, ok := courseID(c)
	if !ok {
		return
	}
	course, err := a.roster.GetCourse(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (a *api) updateCourse(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	course, err := a.roster.GetCourse(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if err := access.Authorize(actor, access.ActionManageCourse, access.Target{CourseOwnerID: course.TeacherID}); err != nil {
		fail(c, err)
		return
	}

	var req struct {
		Name      string `json:"name"`
		Category  string `json:"category"`
		DayOfWeek string `json:"day_of_week"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Location  string `json:"location"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != "" {
		course.Name = req.Name
	}
	course.Category = req.Category
	course.DayOfWeek = req.DayOfWeek
	course.StartTime = req.StartTime
	course.EndTime = req.EndTime
	course.Location = req.Location

	if err := a.roster.UpdateCourse(c.Request.Context(), course); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, course)
}

func (a *api) deleteCourse(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	course, err := a.roster.GetCourse(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	if err := access.Authorize(actor, access.ActionManageCourse, access.Target{CourseOwnerID: course.TeacherID}); err != nil {
		fail(c, err)
		return
	}
	if err := a.roster.DeleteCourse(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) enroll(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	if err := access.Authorize(actor, access.ActionEnroll, access.Target{StudentID: actor.ID}); err != nil {
		fail(c, err)
		return
	}
	if _, err := a.roster.GetCourse(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	enr, err := a.roster.Enroll(c.Request.Context(), actor.ID, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, enr)
}

func (a *api) drop(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	if err := access.Authorize(actor, access.ActionDrop, access.Target{StudentID: actor.ID}); err != nil {
		fail(c, err)
		return
	}
	if err := a.roster.Drop(c.Request.Context(), actor.ID, id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) uploadFaceData(c *gin.Context) {
	actor, _ := actorFrom(c)
	if err := access.Authorize(actor, access.ActionUploadFace, access.Target{StudentID: actor.ID}); err != nil {
		fail(c, err)
		return
	}
	var req struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := a.face.Extract(c.Request.Context(), req.Image)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "face extraction failed"})
		return
	}
	if err := a.roster.SetFaceVector(c.Request.Context(), actor.ID, res.Vector); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": true, "confidence": res.Confidence})
}

// faceCheckIn runs the face path: extract a probe, match it against the
// course's enrolled candidates, then record the check-in. Evidence
// upload is best-effort; its failure never loses the attendance write.
func (a *api) faceCheckIn(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	var req struct {
		Image string `json:"image" binding:"required"`
		Date  string `json:"date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return
	}
	ctx := c.Request.Context()

	probe, err := a.face.Extract(ctx, req.Image)
	if err != nil {
		metrics.CheckIns.WithLabelValues("extraction_failed").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "face extraction failed"})
		return
	}

	candidates, err := a.roster.FaceCandidates(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}

	match := facematch.Match(probe.Vector, candidates, a.cfg.MatchTolerance)
	if !match.Accepted {
		metrics.CheckIns.WithLabelValues("no_match").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "no matching student",
			"best_score": match.BestScore,
		})
		return
	}

	imageRef := ""
	if a.images != nil {
		if uploaded, err := a.images.UploadBase64(req.Image); err != nil {
			log.Printf("evidence upload failed: %v", err)
		} else {
			imageRef = uploaded.SecureURL
		}
	}

	rec, err := a.ledger.RecordCheckIn(ctx, actor, match.IdentityID, id, date, time.Now(), &match.BestScore, imageRef)
	if err != nil {
		if errors.Is(err, attendance.ErrDuplicateCheckIn) {
			metrics.CheckIns.WithLabelValues("duplicate").Inc()
		} else {
			metrics.CheckIns.WithLabelValues("error").Inc()
		}
		fail(c, err)
		return
	}
	metrics.CheckIns.WithLabelValues("recorded").Inc()
	c.JSON(http.StatusCreated, gin.H{"record": rec, "score": match.BestScore})
}

func (a *api) manualUpsert(c *gin.Context) {
	actor, _ := actorFrom(c)
	var req struct {
		StudentID int64  `json:"student_id" binding:"required"`
		CourseID  int64  `json:"course_id" binding:"required"`
		Date      string `json:"date"`
		Status    string `json:"status" binding:"required"`
		Remarks   string `json:"remarks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return
	}

	rec, err := a.ledger.ManualUpsert(c.Request.Context(), actor, req.StudentID, req.CourseID, date, attendance.Status(req.Status), req.Remarks)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (a *api) bulkApply(c *gin.Context) {
	actor, _ := actorFrom(c)
	var req struct {
		CourseID int64                  `json:"course_id" binding:"required"`
		Date     string                 `json:"date"`
		Items    []attendance.BatchItem `json:"attendances" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return
	}

	res, err := a.ledger.ApplyBatch(c.Request.Context(), actor, req.CourseID, date, req.Items)
	if err != nil {
		fail(c, err)
		return
	}
	metrics.BulkItems.WithLabelValues("ok").Add(float64(res.SuccessCount))
	metrics.BulkItems.WithLabelValues("failed").Add(float64(res.ErrorCount))
	c.JSON(http.StatusOK, res)
}

func (a *api) courseAttendances(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	records, err := a.ledger.CourseRecords(c.Request.Context(), actor, id, from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (a *api) myAttendances(c *gin.Context) {
	actor, _ := actorFrom(c)
	records, err := a.ledger.StudentRecords(c.Request.Context(), actor, actor.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (a *api) courseStats(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	from, to, ok := dateRange(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	records, err := a.ledger.CourseRecords(ctx, actor, id, from, to)
	if err != nil {
		fail(c, err)
		return
	}
	enrolled, err := a.roster.CountEnrolled(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats.Aggregate(records, enrolled))
}

func (a *api) enqueueSweep(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, ok := courseID(c)
	if !ok {
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	_ = c.ShouldBindJSON(&req) // body optional, defaults to today
	date, err := parseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, want YYYY-MM-DD"})
		return
	}
	ctx := c.Request.Context()

	course, err := a.roster.GetCourse(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if err := access.Authorize(actor, access.ActionRecordCheckIn, access.Target{CourseOwnerID: course.TeacherID}); err != nil {
		fail(c, err)
		return
	}

	msg, err := queue.NewSweepMessage(id, date)
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.jobs.Publish(ctx, msg); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "course_id": id, "date": date.Format("2006-01-02")})
}

func (a *api) myCourses(c *gin.Context) {
	actor, _ := actorFrom(c)
	if err := access.Authorize(actor, access.ActionManageCourse, access.Target{CourseOwnerID: actor.ID}); err != nil {
		fail(c, err)
		return
	}
	courses, err := a.roster.ListCoursesByTeacher(c.Request.Context(), actor.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

// removeIdentity is admin-only; enrollments and attendance cascade.
func (a *api) removeIdentity(c *gin.Context) {
	actor, _ := actorFrom(c)
	if actor.Role != access.RoleAdmin {
		fail(c, access.ErrForbidden)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}
	if err := a.roster.DeleteIdentity(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// dateRange reads optional from/to query params.
func dateRange(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
			return from, to, false
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
			return from, to, false
		}
		to = parsed
	}
	return from, to, true
}
