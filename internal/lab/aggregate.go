package lab

// TotalContactHours sums the worked time of complete sessions in hours.
// Durations are truncated to whole minutes before dividing by 60.
func (l *Lab) TotalContactHours() float64 {
	total := 0.0
	for _, s := range l.Sessions {
		if !s.Complete() {
			continue
		}
		minutes := int64(s.ActualEnd.Sub(*s.ActualStart).Minutes())
		total += float64(minutes) / 60.0
	}
	return total
}

// LeavesCount counts sessions missing either actual end.
func (l *Lab) LeavesCount() int {
	n := 0
	for _, s := range l.Sessions {
		if !s.Complete() {
			n++
		}
	}
	return n
}
