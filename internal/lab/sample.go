package lab

import "time"

// SampleDataset returns a small demo dataset anchored on the week of now:
// three labs across two buildings, instructors, TAs, recorded sessions
// including leaves, and one approved plus one pending makeup request.
func SampleDataset(now time.Time) *Dataset {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	at := func(days, hour int) time.Time {
		return day.AddDate(0, 0, days).Add(time.Duration(hour) * time.Hour)
	}

	ds := NewDataset()
	ahmed := &Instructor{Staff{Person: Person{ID: "I-001", Name: "Dr. Ahmed Hassan"}}}
	fatima := &Instructor{Staff{Person: Person{ID: "I-002", Name: "Dr. Fatima Zahra"}}}
	ds.Instructors = append(ds.Instructors, ahmed, fatima)

	ali := &TA{Staff{Person: Person{ID: "TA-001", Name: "Ali Khan"}}}
	sara := &TA{Staff{Person: Person{ID: "TA-002", Name: "Sara Hussain"}}}
	usman := &TA{Staff{Person: Person{ID: "TA-003", Name: "Usman Baig"}}}
	ds.TAs = append(ds.TAs, ali, sara, usman)

	db := &Lab{ID: "LAB001", Name: "Database Systems", Venue: &Venue{Building: "CS Building", Room: "Room 101"}}
	w := NewWindow(at(0, 10), at(0, 12))
	db.Schedule = &w
	db.Instructor = &Person{ID: ahmed.ID, Name: ahmed.Name}
	db.AddTA(ali.Person)
	db.AddTA(sara.Person)
	db.AddSession(Worked(at(-14, 10), at(-14, 12)))
	db.AddSession(Worked(at(-7, 10), at(-7, 11).Add(45*time.Minute)))
	db.AddSession(Leave())
	ahmed.AssignLab(db.ID)
	ali.AssignLab(db.ID)
	sara.AssignLab(db.ID)

	web := &Lab{ID: "LAB002", Name: "Web Development", Venue: &Venue{Building: "CS Building", Room: "Room 102"}}
	w = NewWindow(at(1, 14), at(1, 16))
	web.Schedule = &w
	web.Instructor = &Person{ID: fatima.ID, Name: fatima.Name}
	web.AddTA(usman.Person)
	web.AddSession(Worked(at(-6, 14), at(-6, 16)))
	fatima.AssignLab(web.ID)
	usman.AssignLab(web.ID)

	ds2 := &Lab{ID: "LAB003", Name: "Data Structures", Venue: &Venue{Building: "Engineering Wing", Room: "Room 301"}}
	w = NewWindow(at(2, 9), at(2, 11))
	ds2.Schedule = &w
	ds2.Instructor = &Person{ID: ahmed.ID, Name: ahmed.Name}
	ds2.AddTA(sara.Person)
	ds2.AddSession(Worked(at(-5, 9), at(-5, 11)))
	ds2.AddSession(Leave())
	ahmed.AssignLab(ds2.ID)
	sara.AssignLab(ds2.ID)

	ds.Labs = append(ds.Labs, db, web, ds2)
	ds.Requests = append(ds.Requests,
		&MakeupRequest{ID: "MR-001", LabID: db.ID, InstructorID: ahmed.ID, Window: NewWindow(at(3, 10), at(3, 12)), Approved: true, CreatedAt: at(-1, 9)},
		&MakeupRequest{ID: "MR-002", LabID: web.ID, InstructorID: fatima.ID, Window: NewWindow(at(4, 14), at(4, 16)), CreatedAt: at(-1, 11)},
	)
	return ds
}
