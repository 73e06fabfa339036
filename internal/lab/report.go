package lab

import "time"

// ScheduleEntry is one lab in the weekly schedule report.
type ScheduleEntry struct {
	LabID      string         `json:"lab_id"`
	Name       string         `json:"name"`
	Venue      *Venue         `json:"venue,omitempty"`
	Instructor string         `json:"instructor,omitempty"`
	Window     ScheduleWindow `json:"window"`
}

// TimesheetEntry groups one lab's sessions for a report.
type TimesheetEntry struct {
	LabID    string    `json:"lab_id"`
	Name     string    `json:"name"`
	Sessions []Session `json:"sessions"`
}

// LabTimesheet is the semester view of one lab.
type LabTimesheet struct {
	LabID           string           `json:"lab_id"`
	Name            string           `json:"name"`
	Instructor      string           `json:"instructor,omitempty"`
	TAs             []string         `json:"tas"`
	Sessions        []Session        `json:"sessions"`
	ContactHours    float64          `json:"contact_hours"`
	Leaves          int              `json:"leaves"`
	TotalSessions   int              `json:"total_sessions"`
	ApprovedMakeups []ScheduleWindow `json:"approved_makeups"`
}

// WeekOfYear numbers weeks the US way: weeks start on Sunday and week 1 is
// the week containing January 1.
func WeekOfYear(t time.Time) (year, week int) {
	jan1 := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	offset := int(jan1.Weekday())
	return t.Year(), (t.YearDay()-1+offset)/7 + 1
}

func inWeek(t *time.Time, year, week int) bool {
	if t == nil {
		return false
	}
	y, w := WeekOfYear(*t)
	return y == year && w == week
}

// WeeklySchedule lists labs whose planned start falls in the given week.
func (s *Service) WeeklySchedule(year, week int) []ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ScheduleEntry
	for _, l := range s.data.Labs {
		if l.Schedule == nil || !inWeek(l.Schedule.ExpectedStart, year, week) {
			continue
		}
		e := ScheduleEntry{LabID: l.ID, Name: l.Name, Window: l.Schedule.clone()}
		if l.Venue != nil {
			v := *l.Venue
			e.Venue = &v
		}
		if l.Instructor != nil {
			e.Instructor = l.Instructor.Name
		}
		out = append(out, e)
	}
	return out
}

// WeeklyTimesheet lists, per lab, the sessions that started in the given week.
// Labs without such sessions are omitted.
func (s *Service) WeeklyTimesheet(year, week int) []TimesheetEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []TimesheetEntry
	for _, l := range s.data.Labs {
		var sessions []Session
		for _, sess := range l.Sessions {
			if inWeek(sess.ActualStart, year, week) {
				sessions = append(sessions, Session{ActualStart: copyTime(sess.ActualStart), ActualEnd: copyTime(sess.ActualEnd)})
			}
		}
		if len(sessions) > 0 {
			out = append(out, TimesheetEntry{LabID: l.ID, Name: l.Name, Sessions: sessions})
		}
	}
	return out
}

// LabTimesheet aggregates one lab's attendance with its approved makeups.
func (s *Service) LabTimesheet(labID string) (LabTimesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l := s.data.FindLab(labID)
	if l == nil {
		return LabTimesheet{}, ErrNotFound
	}
	c := l.clone()
	ts := LabTimesheet{
		LabID:           c.ID,
		Name:            c.Name,
		TAs:             make([]string, 0, len(c.TAs)),
		Sessions:        c.Sessions,
		ContactHours:    c.TotalContactHours(),
		Leaves:          c.LeavesCount(),
		TotalSessions:   len(c.Sessions),
		ApprovedMakeups: []ScheduleWindow{},
	}
	if c.Instructor != nil {
		ts.Instructor = c.Instructor.Name
	}
	for _, ta := range c.TAs {
		ts.TAs = append(ts.TAs, ta.Name)
	}
	for _, r := range s.data.Requests {
		if r.LabID == labID && r.Approved {
			ts.ApprovedMakeups = append(ts.ApprovedMakeups, r.Window.clone())
		}
	}
	return ts, nil
}
