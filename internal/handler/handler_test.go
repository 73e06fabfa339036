package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"labtrack/internal/audit"
	"labtrack/internal/auth"
	"labtrack/internal/lab"
	"labtrack/internal/queue"
	"labtrack/internal/store"
)

var now = time.Date(2024, 11, 18, 11, 0, 0, 0, time.UTC)

type countingSaver struct {
	mu sync.Mutex
	n  int
}

func (s *countingSaver) Request() {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

func (s *countingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type fixture struct {
	t      *testing.T
	router *gin.Engine
	svc    *lab.Service
	q      *queue.InMemory
	saver  *countingSaver
	tokens map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, store.NewMemory())
}

func newFixtureWith(t *testing.T, st lab.Snapshotter) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir, err := auth.DefaultDirectory(bcrypt.MinCost, "pw")
	if err != nil {
		t.Fatal(err)
	}
	svc := lab.NewService(lab.SampleDataset(now), st, lab.WithClock(func() time.Time { return now }))
	f := &fixture{t: t, svc: svc, q: queue.NewInMemory(64), saver: &countingSaver{}, tokens: map[string]string{}}
	h := New(svc, dir, f.q, f.saver, nil, Tokens{Issuer: "labtrack", SigningKey: "secret", AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour})
	h.now = func() time.Time { return now }
	f.router = gin.New()
	h.Register(f.router)
	return f
}

func (f *fixture) do(method, path, user string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(user))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) token(user string) string {
	f.t.Helper()
	if tok, ok := f.tokens[user]; ok {
		return tok
	}
	w := f.do(http.MethodPost, "/v1/login", "", gin.H{"username": user, "password": "pw"})
	if w.Code != http.StatusOK {
		f.t.Fatalf("login %s: %d %s", user, w.Code, w.Body)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	decode(f.t, w, &resp)
	f.tokens[user] = resp.AccessToken
	return resp.AccessToken
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
}

func labIDs(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var resp struct {
		Labs []struct {
			ID    string `json:"id"`
			LabID string `json:"lab_id"`
		} `json:"labs"`
	}
	decode(t, w, &resp)
	ids := make([]string, 0, len(resp.Labs))
	for _, l := range resp.Labs {
		if l.LabID != "" {
			ids = append(ids, l.LabID)
			continue
		}
		ids = append(ids, l.ID)
	}
	return ids
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/v1/login", "", gin.H{"username": "officer", "password": "wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/login", "", gin.H{"username": "officer"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing password: %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/labs", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list: %d", w.Code)
	}
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/v1/login", "", gin.H{"username": "hod", "password": "pw"})
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decode(t, w, &resp)
	if w := f.do(http.MethodPost, "/v1/refresh", "", gin.H{"refresh_token": resp.RefreshToken}); w.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", w.Code, w.Body)
	}
	if w := f.do(http.MethodPost, "/v1/refresh", "", gin.H{"refresh_token": resp.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("access token accepted as refresh: %d", w.Code)
	}
}

func TestListLabsByRoleAndMode(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		user, mode string
		want       []string
	}{
		{"officer", "", []string{"LAB001", "LAB002", "LAB003"}},
		{"hod", "today", []string{"LAB001"}},
		{"attendant_cs", "all", []string{"LAB001", "LAB002"}},
		{"attendant_eng", "ALL", []string{"LAB003"}},
		{"instructor1", "all", []string{"LAB001", "LAB003"}},
		{"instructor2", "active_now", []string{}},
		{"ta1", "active_now", []string{"LAB001"}},
		{"ta2", "all", []string{"LAB001", "LAB003"}},
	}
	for _, tc := range cases {
		w := f.do(http.MethodGet, "/v1/labs?mode="+tc.mode, tc.user, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s/%s: %d", tc.user, tc.mode, w.Code)
		}
		if got := labIDs(t, w); !equal(got, tc.want) {
			t.Errorf("%s/%s = %v, want %v", tc.user, tc.mode, got, tc.want)
		}
	}
	if w := f.do(http.MethodGet, "/v1/labs?mode=tomorrow", "officer", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown mode: %d", w.Code)
	}
}

func TestListLabsIncludesAggregates(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/v1/labs", "attendant_cs", nil)
	var resp struct {
		Labs []struct {
			ID           string  `json:"id"`
			ContactHours float64 `json:"contact_hours"`
			Leaves       int     `json:"leaves"`
		} `json:"labs"`
	}
	decode(t, w, &resp)
	if resp.Labs[0].ContactHours != 3.75 || resp.Labs[0].Leaves != 1 {
		t.Fatalf("LAB001 aggregates = %+v", resp.Labs[0])
	}
}

func TestOfficerMutations(t *testing.T) {
	f := newFixture(t)
	start := now.Add(24 * time.Hour)
	w := f.do(http.MethodPost, "/v1/labs", "officer", gin.H{
		"name": "Operating Systems", "building": "CS Building", "room": "Room 204",
		"schedule": gin.H{"start": start, "end": start.Add(2 * time.Hour)},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body)
	}
	var created lab.Lab
	decode(t, w, &created)

	if w := f.do(http.MethodPost, "/v1/labs/"+created.ID+"/instructor", "officer", gin.H{"name": "Dr. Ahmed Hassan"}); w.Code != http.StatusOK {
		t.Fatalf("assign instructor: %d %s", w.Code, w.Body)
	}
	if w := f.do(http.MethodPost, "/v1/labs/"+created.ID+"/tas", "officer", gin.H{"ta_id": "TA-001"}); w.Code != http.StatusOK {
		t.Fatalf("link ta: %d %s", w.Code, w.Body)
	}
	if w := f.do(http.MethodPost, "/v1/labs/"+created.ID+"/tas", "officer", gin.H{"name": "Hina Pervez"}); w.Code != http.StatusCreated {
		t.Fatalf("assign ta: %d %s", w.Code, w.Body)
	}
	if w := f.do(http.MethodPost, "/v1/labs/"+created.ID+"/sessions", "attendant_cs", gin.H{"leave": true}); w.Code != http.StatusCreated {
		t.Fatalf("record leave: %d %s", w.Code, w.Body)
	}

	got, err := f.svc.Lab(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Instructor == nil || got.Instructor.ID != "I-"+created.ID || len(got.TAs) != 2 || got.LeavesCount() != 1 {
		t.Fatalf("lab after mutations = %+v", got)
	}
	if f.saver.count() != 5 {
		t.Fatalf("save requests = %d, want 5", f.saver.count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, _ := f.q.Consume(ctx)
	first := <-msgs
	if first.Type != queue.LabCreated {
		t.Fatalf("first event = %s", first.Type)
	}
	var evt audit.Event
	if err := json.Unmarshal(first.Body, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.LabID != created.ID || evt.ActorID != "U-001" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestMutationErrors(t *testing.T) {
	f := newFixture(t)
	start := now
	cases := []struct {
		name, method, path, user string
		body                     any
		want                     int
	}{
		{"unknown lab schedule", http.MethodPut, "/v1/labs/NOPE/schedule", "officer", gin.H{"start": start, "end": start.Add(time.Hour)}, http.StatusNotFound},
		{"inverted window", http.MethodPut, "/v1/labs/LAB001/schedule", "officer", gin.H{"start": start, "end": start.Add(-time.Hour)}, http.StatusBadRequest},
		{"missing end", http.MethodPut, "/v1/labs/LAB001/schedule", "officer", gin.H{"start": start}, http.StatusBadRequest},
		{"unknown ta", http.MethodPost, "/v1/labs/LAB001/tas", "officer", gin.H{"ta_id": "TA-999"}, http.StatusNotFound},
		{"empty ta body", http.MethodPost, "/v1/labs/LAB001/tas", "officer", gin.H{}, http.StatusBadRequest},
		{"session needs times", http.MethodPost, "/v1/labs/LAB001/sessions", "attendant_cs", gin.H{"start": start}, http.StatusBadRequest},
		{"session unknown lab", http.MethodPost, "/v1/labs/NOPE/sessions", "officer", gin.H{"leave": true}, http.StatusNotFound},
		{"instructor cannot create", http.MethodPost, "/v1/labs", "instructor1", gin.H{"name": "X"}, http.StatusForbidden},
		{"ta cannot record", http.MethodPost, "/v1/labs/LAB001/sessions", "ta1", gin.H{"leave": true}, http.StatusForbidden},
	}
	before := f.svc.Snapshot()
	for _, tc := range cases {
		if w := f.do(tc.method, tc.path, tc.user, tc.body); w.Code != tc.want {
			t.Errorf("%s: %d, want %d (%s)", tc.name, w.Code, tc.want, w.Body)
		}
	}
	after := f.svc.Snapshot()
	if len(after.Labs) != len(before.Labs) || len(after.Labs[0].Sessions) != len(before.Labs[0].Sessions) || !after.Labs[0].Schedule.ExpectedStart.Equal(*before.Labs[0].Schedule.ExpectedStart) {
		t.Fatal("failed requests mutated the dataset")
	}
	if f.saver.count() != 0 {
		t.Fatalf("failed requests scheduled %d saves", f.saver.count())
	}
}

func TestMakeupWorkflow(t *testing.T) {
	f := newFixture(t)
	start := now.Add(72 * time.Hour)
	w := f.do(http.MethodPost, "/v1/makeup-requests", "instructor1", gin.H{"lab_id": "LAB003", "start": start, "end": start.Add(2 * time.Hour)})
	if w.Code != http.StatusCreated {
		t.Fatalf("request: %d %s", w.Code, w.Body)
	}
	var mr struct {
		ID           string `json:"id"`
		InstructorID string `json:"instructor_id"`
		Status       string `json:"status"`
	}
	decode(t, w, &mr)
	// LAB003 is led by instructor record I-001, whatever the login id
	if mr.Status != "pending" || mr.InstructorID != "I-001" {
		t.Fatalf("request = %+v", mr)
	}

	if w := f.do(http.MethodPost, "/v1/makeup-requests", "instructor1", gin.H{"lab_id": "LAB002", "start": start, "end": start.Add(time.Hour)}); w.Code != http.StatusForbidden {
		t.Fatalf("request for foreign lab: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/makeup-requests", "instructor1", gin.H{"lab_id": "NOPE", "start": start, "end": start.Add(time.Hour)}); w.Code != http.StatusNotFound {
		t.Fatalf("request for unknown lab: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/makeup-requests/"+mr.ID+"/approve", "officer", nil); w.Code != http.StatusForbidden {
		t.Fatalf("officer approve: %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/v1/makeup-requests/"+mr.ID+"/approve", "attendant_eng", nil); w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body)
	}
	if w := f.do(http.MethodPost, "/v1/makeup-requests/MR-404/approve", "attendant_eng", nil); w.Code != http.StatusNotFound {
		t.Fatalf("approve unknown: %d", w.Code)
	}

	w = f.do(http.MethodGet, "/v1/makeup-requests?status=approved", "instructor1", nil)
	var list struct {
		Requests []struct {
			ID string `json:"id"`
		} `json:"requests"`
	}
	decode(t, w, &list)
	if len(list.Requests) != 2 || list.Requests[0].ID != "MR-001" || list.Requests[1].ID != mr.ID {
		t.Fatalf("approved requests = %+v", list.Requests)
	}

	w = f.do(http.MethodGet, "/v1/labs/LAB003/timesheet", "hod", nil)
	var ts lab.LabTimesheet
	decode(t, w, &ts)
	if len(ts.ApprovedMakeups) != 1 || ts.TotalSessions != 2 || ts.Leaves != 1 {
		t.Fatalf("timesheet = %+v", ts)
	}
}

func TestTimesheetVisibility(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/v1/labs/LAB003/timesheet", "attendant_cs", nil); w.Code != http.StatusForbidden {
		t.Fatalf("hidden lab: %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/labs/NOPE/timesheet", "officer", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown lab: %d", w.Code)
	}
}

func TestWeeklyReports(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/v1/reports/schedule", "hod", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("schedule: %d", w.Code)
	}
	if got := labIDs(t, w); !equal(got, []string{"LAB001", "LAB002", "LAB003"}) {
		t.Fatalf("schedule labs = %v", got)
	}
	w = f.do(http.MethodGet, "/v1/reports/timesheet?year=2024&week=46", "officer", nil)
	if got := labIDs(t, w); !equal(got, []string{"LAB001", "LAB002", "LAB003"}) {
		t.Fatalf("timesheet labs for week 46 = %v", got)
	}
	if w := f.do(http.MethodGet, "/v1/reports/schedule?week=99", "hod", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad week: %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/v1/reports/schedule", "ta1", nil); w.Code != http.StatusForbidden {
		t.Fatalf("ta report: %d", w.Code)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/v1/snapshot/save", "officer", nil); w.Code != http.StatusOK {
		t.Fatalf("save: %d %s", w.Code, w.Body)
	}
	f.svc.Replace(lab.NewDataset())
	if w := f.do(http.MethodPost, "/v1/snapshot/load", "officer", nil); w.Code != http.StatusOK {
		t.Fatalf("load: %d %s", w.Code, w.Body)
	}
	if n := len(f.svc.Snapshot().Labs); n != 3 {
		t.Fatalf("labs after load = %d", n)
	}
	if w := f.do(http.MethodPost, "/v1/snapshot/save", "hod", nil); w.Code != http.StatusForbidden {
		t.Fatalf("hod save: %d", w.Code)
	}
}

type unreadableStore struct{ saves int }

func (u *unreadableStore) Load(context.Context) (*lab.Dataset, error) {
	return nil, &store.IOError{Op: "load", Backend: "test", Err: errors.New("unsupported version")}
}

func (u *unreadableStore) Save(context.Context, *lab.Dataset) error {
	u.saves++
	return nil
}

func TestFailedSnapshotLoad(t *testing.T) {
	st := &unreadableStore{}
	f := newFixtureWith(t, st)
	if w := f.do(http.MethodPost, "/v1/snapshot/load", "officer", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("load: %d %s", w.Code, w.Body)
	}
	if !f.svc.LoadFailed() || len(f.svc.Snapshot().Labs) != 0 {
		t.Fatal("service should run on an empty fallback after a failed load")
	}
	if st.saves != 0 {
		t.Fatalf("failed load wrote %d snapshots", st.saves)
	}
	if w := f.do(http.MethodPost, "/v1/snapshot/save", "officer", nil); w.Code != http.StatusOK {
		t.Fatalf("explicit save: %d", w.Code)
	}
	if f.svc.LoadFailed() {
		t.Fatal("explicit save should clear the failed-load state")
	}
}

func TestAuditWithoutDatabase(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/v1/audit", "hod", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("audit: %d", w.Code)
	}
}
