package lab

import (
	"strings"
	"time"
)

// Visible returns the labs user may see in mode, preserving dataset order.
// The result is recomputed on every call.
//
// Instructor and TA scoping compares display names case-insensitively, so two
// staff members sharing a display name see each other's labs.
func Visible(labs []*Lab, user User, mode ViewMode, now time.Time) []*Lab {
	out := make([]*Lab, 0, len(labs))
	for _, l := range labs {
		if !Qualifies(l, mode, now) {
			continue
		}
		if CanSee(user, l) {
			out = append(out, l)
		}
	}
	return out
}

// CanSee applies the role scoping rule for a single lab. Names compare with
// plain case folding, so an empty user name matches an empty staff name.
func CanSee(user User, l *Lab) bool {
	switch user.Role {
	case RoleAcademicOfficer, RoleHOD:
		return true
	case RoleAttendant:
		return user.Building != "" && l.Venue != nil && strings.EqualFold(l.Venue.Building, user.Building)
	case RoleInstructor:
		return l.Instructor != nil && strings.EqualFold(l.Instructor.Name, user.Name)
	case RoleTA:
		for _, ta := range l.TAs {
			if strings.EqualFold(ta.Name, user.Name) {
				return true
			}
		}
	}
	return false
}
