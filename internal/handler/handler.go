package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"labtrack/internal/audit"
	"labtrack/internal/auth"
	"labtrack/internal/lab"
	"labtrack/internal/metrics"
	"labtrack/internal/queue"
	"labtrack/internal/store"
)

// SaveRequester schedules an asynchronous snapshot save.
type SaveRequester interface {
	Request()
}

// AuditLister reads recorded audit events.
type AuditLister interface {
	List(ctx context.Context, labID, kind string, limit, offset int) ([]audit.Event, error)
}

// Tokens configures JWT issuing and verification.
type Tokens struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Handler struct {
	svc    *lab.Service
	dir    *auth.Directory
	q      queue.Queue
	saver  SaveRequester // nil disables background saves
	audit  AuditLister   // nil if no database
	tokens Tokens
	now    func() time.Time
}

func New(svc *lab.Service, dir *auth.Directory, q queue.Queue, saver SaveRequester, auditRepo AuditLister, tokens Tokens) *Handler {
	return &Handler{svc: svc, dir: dir, q: q, saver: saver, audit: auditRepo, tokens: tokens, now: time.Now}
}

// Register mounts the /v1 routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/v1/login", h.Login)
	r.POST("/v1/refresh", h.Refresh)

	v1 := r.Group("/v1", auth.UserAuth(h.tokens.SigningKey, h.tokens.Issuer))
	ao := auth.RequireRole(lab.RoleAcademicOfficer)
	reporting := auth.RequireRole(lab.RoleHOD, lab.RoleAcademicOfficer)

	v1.GET("/labs", h.ListLabs)
	v1.POST("/labs", ao, h.CreateLab)
	v1.PUT("/labs/:id/schedule", ao, h.SetSchedule)
	v1.POST("/labs/:id/instructor", ao, h.AssignInstructor)
	v1.POST("/labs/:id/tas", ao, h.AssignTA)
	v1.POST("/labs/:id/sessions", auth.RequireRole(lab.RoleAttendant, lab.RoleAcademicOfficer), h.RecordSession)
	v1.GET("/labs/:id/timesheet", h.LabTimesheet)

	v1.GET("/reports/schedule", reporting, h.WeeklySchedule)
	v1.GET("/reports/timesheet", reporting, h.WeeklyTimesheet)

	v1.POST("/makeup-requests", auth.RequireRole(lab.RoleInstructor), h.RequestMakeup)
	v1.GET("/makeup-requests", h.ListMakeups)
	v1.POST("/makeup-requests/:id/approve", auth.RequireRole(lab.RoleAttendant), h.ApproveMakeup)

	v1.POST("/snapshot/save", ao, h.SaveSnapshot)
	v1.POST("/snapshot/load", ao, h.LoadSnapshot)

	v1.GET("/audit", reporting, h.ListAudit)
}

// ---------- Auth ----------

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := h.dir.Authenticate(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.issue(c, u)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, h.tokens.SigningKey, h.tokens.Issuer)
	if err != nil || !claims.Refresh {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	u, ok := h.dir.Lookup(claims.Username)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	h.issue(c, u)
}

func (h *Handler) issue(c *gin.Context, u lab.User) {
	tokens, err := auth.Issue(u, h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"user":          u,
	})
}

// ---------- Labs ----------

type labView struct {
	*lab.Lab
	ContactHours float64 `json:"contact_hours"`
	Leaves       int     `json:"leaves"`
}

func (h *Handler) ListLabs(c *gin.Context) {
	u, _ := auth.CurrentUser(c)
	mode, err := lab.ParseViewMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	labs := h.svc.Visible(u, mode, h.now())
	metrics.FilterRequests.WithLabelValues(string(u.Role), string(mode)).Inc()
	metrics.FilterResults.Observe(float64(len(labs)))

	out := make([]labView, 0, len(labs))
	for _, l := range labs {
		out = append(out, labView{Lab: l, ContactHours: l.TotalContactHours(), Leaves: l.LeavesCount()})
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode, "labs": out})
}

type windowBody struct {
	Start *time.Time `json:"start" binding:"required"`
	End   *time.Time `json:"end" binding:"required"`
}

func (w windowBody) window() (lab.ScheduleWindow, error) {
	win := lab.NewWindow(*w.Start, *w.End)
	return win, win.Validate()
}

type createLabRequest struct {
	Name     string      `json:"name" binding:"required"`
	Building string      `json:"building"`
	Room     string      `json:"room"`
	Schedule *windowBody `json:"schedule"`
}

func (h *Handler) CreateLab(c *gin.Context) {
	var req createLabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var venue *lab.Venue
	if req.Building != "" || req.Room != "" {
		venue = &lab.Venue{Building: req.Building, Room: req.Room}
	}
	var window *lab.ScheduleWindow
	if req.Schedule != nil {
		if req.Schedule.Start == nil || req.Schedule.End == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "schedule needs start and end"})
			return
		}
		w, err := req.Schedule.window()
		if err != nil {
			h.fail(c, "create_lab", err)
			return
		}
		window = &w
	}
	l := h.svc.CreateLab(req.Name, venue, window)
	h.done(c, "create_lab", queue.LabCreated, l.ID, l.Name)
	c.JSON(http.StatusCreated, l)
}

func (h *Handler) SetSchedule(c *gin.Context) {
	var req windowBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := req.window()
	if err == nil {
		err = h.svc.SetSchedule(c.Param("id"), w)
	}
	if err != nil {
		h.fail(c, "set_schedule", err)
		return
	}
	h.done(c, "set_schedule", queue.LabScheduled, c.Param("id"), w.ExpectedStart.Format(time.RFC3339))
	c.JSON(http.StatusOK, gin.H{"lab_id": c.Param("id"), "schedule": w})
}

type staffRequest struct {
	Name string `json:"name"`
	TAID string `json:"ta_id"`
}

func (h *Handler) AssignInstructor(c *gin.Context) {
	var req staffRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	p, err := h.svc.AssignInstructor(c.Param("id"), strings.TrimSpace(req.Name))
	if err != nil {
		h.fail(c, "assign_instructor", err)
		return
	}
	h.done(c, "assign_instructor", queue.StaffAssigned, c.Param("id"), "instructor "+p.ID)
	c.JSON(http.StatusOK, p)
}

// AssignTA creates a new TA from name, or links an existing one by ta_id.
func (h *Handler) AssignTA(c *gin.Context) {
	var req staffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	labID := c.Param("id")
	switch {
	case req.TAID != "":
		if err := h.svc.LinkTA(labID, req.TAID); err != nil {
			h.fail(c, "link_ta", err)
			return
		}
		h.done(c, "link_ta", queue.StaffAssigned, labID, "ta "+req.TAID)
		c.JSON(http.StatusOK, gin.H{"lab_id": labID, "ta_id": req.TAID})
	case strings.TrimSpace(req.Name) != "":
		p, err := h.svc.AssignTA(labID, strings.TrimSpace(req.Name))
		if err != nil {
			h.fail(c, "assign_ta", err)
			return
		}
		h.done(c, "assign_ta", queue.StaffAssigned, labID, "ta "+p.ID)
		c.JSON(http.StatusCreated, p)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "name or ta_id is required"})
	}
}

type sessionRequest struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
	Leave bool       `json:"leave"`
}

// RecordSession appends a worked session or, with leave set, an absence.
func (h *Handler) RecordSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := lab.Leave()
	detail := "leave"
	if !req.Leave {
		if req.Start == nil || req.End == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start and end are required unless leave is set"})
			return
		}
		if req.Start.After(*req.End) {
			h.fail(c, "record_session", lab.ErrInvalidWindow)
			return
		}
		sess = lab.Worked(*req.Start, *req.End)
		detail = req.Start.Format(time.RFC3339)
	}
	if err := h.svc.RecordSession(c.Param("id"), sess); err != nil {
		h.fail(c, "record_session", err)
		return
	}
	h.done(c, "record_session", queue.SessionRecorded, c.Param("id"), detail)
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) LabTimesheet(c *gin.Context) {
	if _, ok := h.visible(c, c.Param("id")); !ok {
		return
	}
	ts, err := h.svc.LabTimesheet(c.Param("id"))
	if err != nil {
		h.fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

// visible returns the lab, or writes the error response and returns false
// when the lab is unknown or hidden from the current user.
func (h *Handler) visible(c *gin.Context, labID string) (*lab.Lab, bool) {
	u, _ := auth.CurrentUser(c)
	l, err := h.svc.Lab(labID)
	if err != nil {
		h.fail(c, "", err)
		return nil, false
	}
	if !lab.CanSee(u, l) {
		c.JSON(http.StatusForbidden, gin.H{"error": "lab not visible to user"})
		return nil, false
	}
	return l, true
}

// ---------- Reports ----------

func (h *Handler) week(c *gin.Context) (int, int, bool) {
	year, week := lab.WeekOfYear(h.now())
	if v := c.Query("year"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
			return 0, 0, false
		}
		year = parsed
	}
	if v := c.Query("week"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 54 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid week"})
			return 0, 0, false
		}
		week = parsed
	}
	return year, week, true
}

func (h *Handler) WeeklySchedule(c *gin.Context) {
	year, week, ok := h.week(c)
	if !ok {
		return
	}
	entries := h.svc.WeeklySchedule(year, week)
	if entries == nil {
		entries = []lab.ScheduleEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"year": year, "week": week, "labs": entries})
}

func (h *Handler) WeeklyTimesheet(c *gin.Context) {
	year, week, ok := h.week(c)
	if !ok {
		return
	}
	entries := h.svc.WeeklyTimesheet(year, week)
	if entries == nil {
		entries = []lab.TimesheetEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"year": year, "week": week, "labs": entries})
}

// ---------- Makeup requests ----------

type makeupRequest struct {
	LabID string     `json:"lab_id" binding:"required"`
	Start *time.Time `json:"start" binding:"required"`
	End   *time.Time `json:"end" binding:"required"`
}

type makeupView struct {
	lab.MakeupRequest
	Status string `json:"status"`
}

func (h *Handler) RequestMakeup(c *gin.Context) {
	var req makeupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w := lab.NewWindow(*req.Start, *req.End)
	if err := w.Validate(); err != nil {
		h.fail(c, "request_makeup", err)
		return
	}
	l, ok := h.visible(c, req.LabID)
	if !ok {
		return
	}
	// the request references the lab's instructor record, not the login
	var instructorID string
	if l.Instructor != nil {
		instructorID = l.Instructor.ID
	}
	mr, err := h.svc.RequestMakeup(req.LabID, instructorID, w)
	if err != nil {
		h.fail(c, "request_makeup", err)
		return
	}
	h.done(c, "request_makeup", queue.MakeupRequested, mr.LabID, mr.ID)
	c.JSON(http.StatusCreated, makeupView{MakeupRequest: mr, Status: mr.Status()})
}

// ListMakeups lists requests for labs the user can see, optionally narrowed
// by lab_id and status.
func (h *Handler) ListMakeups(c *gin.Context) {
	u, _ := auth.CurrentUser(c)
	seen := make(map[string]bool)
	for _, l := range h.svc.Visible(u, lab.ViewAll, h.now()) {
		seen[l.ID] = true
	}
	status := strings.ToLower(c.Query("status"))
	out := []makeupView{}
	for _, r := range h.svc.Requests(c.Query("lab_id")) {
		if !seen[r.LabID] || (status != "" && r.Status() != status) {
			continue
		}
		out = append(out, makeupView{MakeupRequest: r, Status: r.Status()})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (h *Handler) ApproveMakeup(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.ApproveMakeup(id); err != nil {
		h.fail(c, "approve_makeup", err)
		return
	}
	var labID string
	for _, r := range h.svc.Requests("") {
		if r.ID == id {
			labID = r.LabID
			break
		}
	}
	h.done(c, "approve_makeup", queue.MakeupApproved, labID, id)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "approved"})
}

// ---------- Snapshot ----------

func (h *Handler) SaveSnapshot(c *gin.Context) {
	err := h.svc.Save(c.Request.Context())
	metrics.SnapshotSaves.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		h.fail(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// LoadSnapshot replaces the dataset from storage. A failed load leaves the
// service with an empty dataset.
func (h *Handler) LoadSnapshot(c *gin.Context) {
	if err := h.svc.Load(c.Request.Context()); err != nil {
		h.fail(c, "", err)
		return
	}
	h.publish(c, queue.SnapshotLoaded, "", "")
	c.JSON(http.StatusOK, gin.H{"status": "loaded", "labs": len(h.svc.Snapshot().Labs)})
}

// ---------- Audit ----------

func (h *Handler) ListAudit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log not configured"})
		return
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	events, err := h.audit.List(c.Request.Context(), c.Query("lab_id"), c.Query("kind"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ---------- helpers ----------

// done records a successful mutation: metrics, a queued audit event and a
// background save.
func (h *Handler) done(c *gin.Context, op, kind, labID, detail string) {
	metrics.Mutations.WithLabelValues(op, "ok").Inc()
	h.publish(c, kind, labID, detail)
	if h.saver != nil {
		h.saver.Request()
	}
}

func (h *Handler) publish(c *gin.Context, kind, labID, detail string) {
	if h.q == nil {
		return
	}
	u, _ := auth.CurrentUser(c)
	body, err := json.Marshal(audit.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		LabID:   labID,
		ActorID: u.ID,
		Detail:  detail,
		When:    h.now(),
	})
	if err != nil {
		log.Printf("encode event %s: %v", kind, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.q.Publish(ctx, queue.Message{Type: kind, Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

// fail maps core errors onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	result := "error"
	var ioErr *store.IOError
	switch {
	case errors.Is(err, lab.ErrNotFound):
		status, result = http.StatusNotFound, "not_found"
	case errors.Is(err, lab.ErrInvalidWindow):
		status, result = http.StatusBadRequest, "invalid"
	case errors.As(err, &ioErr):
		status = http.StatusBadGateway
		log.Printf("storage %s failed: %v", ioErr.Op, err)
	}
	if op != "" {
		metrics.Mutations.WithLabelValues(op, result).Inc()
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
