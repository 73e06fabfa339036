package lab

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a lab or makeup request id is unknown.
	// Nothing is mutated when it is returned.
	ErrNotFound = errors.New("not found")
	// ErrInvalidWindow reports a schedule window whose start is after its end.
	ErrInvalidWindow = errors.New("window start is after end")
)

// Role is the staff role of a requesting user.
type Role string

const (
	RoleAcademicOfficer Role = "ACADEMIC_OFFICER"
	RoleAttendant       Role = "ATTENDANT"
	RoleHOD             Role = "HOD"
	RoleInstructor      Role = "INSTRUCTOR"
	RoleTA              Role = "TA"
)

// ParseRole maps a case-insensitive role name to a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleAcademicOfficer, RoleAttendant, RoleHOD, RoleInstructor, RoleTA:
		return r, true
	}
	return "", false
}

// Venue is where a lab meets.
type Venue struct {
	Building string `json:"building"`
	Room     string `json:"room"`
}

// ScheduleWindow is a planned time slot. Either end may be unset.
type ScheduleWindow struct {
	ExpectedStart *time.Time `json:"expected_start,omitempty"`
	ExpectedEnd   *time.Time `json:"expected_end,omitempty"`
}

// NewWindow builds a fully set window.
func NewWindow(start, end time.Time) ScheduleWindow {
	return ScheduleWindow{ExpectedStart: &start, ExpectedEnd: &end}
}

// Complete reports whether both ends are set.
func (w ScheduleWindow) Complete() bool {
	return w.ExpectedStart != nil && w.ExpectedEnd != nil
}

// Validate rejects complete windows that end before they start.
func (w ScheduleWindow) Validate() error {
	if w.Complete() && w.ExpectedStart.After(*w.ExpectedEnd) {
		return ErrInvalidWindow
	}
	return nil
}

// Session is a timesheet entry. Both ends nil records a leave.
type Session struct {
	ActualStart *time.Time `json:"actual_start,omitempty"`
	ActualEnd   *time.Time `json:"actual_end,omitempty"`
}

// Worked builds a session for a normal worked interval.
func Worked(start, end time.Time) Session {
	return Session{ActualStart: &start, ActualEnd: &end}
}

// Leave builds a session recording an absence.
func Leave() Session { return Session{} }

// Complete reports whether both actual ends are recorded. Only complete
// sessions count toward contact hours.
func (s Session) Complete() bool {
	return s.ActualStart != nil && s.ActualEnd != nil
}

// Person is a role-agnostic staff identity.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Staff is a Person linked to the labs they are assigned to.
type Staff struct {
	Person
	LabIDs []string `json:"lab_ids"`
}

// AssignLab records a lab id; already present ids are ignored.
func (s *Staff) AssignLab(labID string) {
	for _, id := range s.LabIDs {
		if id == labID {
			return
		}
	}
	s.LabIDs = append(s.LabIDs, labID)
}

// Instructor leads a lab.
type Instructor struct {
	Staff
}

// TA assists in a lab.
type TA struct {
	Staff
}

// Lab is the aggregate root. Instructor and TAs reference staff records
// held by the Dataset.
type Lab struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Venue      *Venue          `json:"venue,omitempty"`
	Instructor *Person         `json:"instructor,omitempty"`
	TAs        []Person        `json:"tas"`
	Schedule   *ScheduleWindow `json:"schedule,omitempty"`
	Sessions   []Session       `json:"sessions"`
}

// AddTA appends ta unless a TA with the same id is already listed.
func (l *Lab) AddTA(ta Person) bool {
	for _, existing := range l.TAs {
		if existing.ID == ta.ID {
			return false
		}
	}
	l.TAs = append(l.TAs, ta)
	return true
}

// AddSession appends a timesheet entry. Sessions are never edited or removed.
func (l *Lab) AddSession(s Session) {
	l.Sessions = append(l.Sessions, s)
}

// MakeupRequest proposes an extra session. Approved moves false to true only.
type MakeupRequest struct {
	ID           string         `json:"id"`
	LabID        string         `json:"lab_id"`
	InstructorID string         `json:"instructor_id"`
	Window       ScheduleWindow `json:"window"`
	Approved     bool           `json:"approved"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Status names the workflow state of a request.
func (r MakeupRequest) Status() string {
	if r.Approved {
		return "approved"
	}
	return "pending"
}

// User is a verified identity handed over by the auth collaborator.
// Building is only meaningful for attendants.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Building string `json:"building,omitempty"`
}

// Dataset is the unit exchanged with the persistence collaborator.
type Dataset struct {
	Labs        []*Lab           `json:"labs"`
	Instructors []*Instructor    `json:"instructors"`
	TAs         []*TA            `json:"tas"`
	Requests    []*MakeupRequest `json:"requests"`
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{}
}

// FindLab returns the lab with the given id or nil.
func (d *Dataset) FindLab(id string) *Lab {
	for _, l := range d.Labs {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (d *Dataset) findInstructor(id string) *Instructor {
	for _, i := range d.Instructors {
		if i.ID == id {
			return i
		}
	}
	return nil
}

func (d *Dataset) findTA(id string) *TA {
	for _, t := range d.TAs {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (d *Dataset) findRequest(id string) *MakeupRequest {
	for _, r := range d.Requests {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Clone returns a deep copy so callers can read or persist it without
// holding the service lock.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Labs:        make([]*Lab, 0, len(d.Labs)),
		Instructors: make([]*Instructor, 0, len(d.Instructors)),
		TAs:         make([]*TA, 0, len(d.TAs)),
		Requests:    make([]*MakeupRequest, 0, len(d.Requests)),
	}
	for _, l := range d.Labs {
		out.Labs = append(out.Labs, l.clone())
	}
	for _, i := range d.Instructors {
		c := *i
		c.LabIDs = append([]string(nil), i.LabIDs...)
		out.Instructors = append(out.Instructors, &c)
	}
	for _, t := range d.TAs {
		c := *t
		c.LabIDs = append([]string(nil), t.LabIDs...)
		out.TAs = append(out.TAs, &c)
	}
	for _, r := range d.Requests {
		c := *r
		c.Window = r.Window.clone()
		out.Requests = append(out.Requests, &c)
	}
	return out
}

func (l *Lab) clone() *Lab {
	c := &Lab{ID: l.ID, Name: l.Name}
	if l.Venue != nil {
		v := *l.Venue
		c.Venue = &v
	}
	if l.Instructor != nil {
		i := *l.Instructor
		c.Instructor = &i
	}
	c.TAs = append([]Person(nil), l.TAs...)
	if l.Schedule != nil {
		w := l.Schedule.clone()
		c.Schedule = &w
	}
	for _, s := range l.Sessions {
		c.Sessions = append(c.Sessions, Session{ActualStart: copyTime(s.ActualStart), ActualEnd: copyTime(s.ActualEnd)})
	}
	return c
}

func (w ScheduleWindow) clone() ScheduleWindow {
	return ScheduleWindow{ExpectedStart: copyTime(w.ExpectedStart), ExpectedEnd: copyTime(w.ExpectedEnd)}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
