package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"labtrack/internal/lab"
)

var now = time.Date(2024, time.November, 18, 8, 0, 0, 0, time.UTC)

func TestEncodeDecodeKeepsNullableTimes(t *testing.T) {
	ds := lab.SampleDataset(now)
	body, err := Encode(ds)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Labs) != 3 || len(got.Requests) != 2 || len(got.TAs) != 3 {
		t.Fatalf("decoded %d labs, %d requests, %d TAs", len(got.Labs), len(got.Requests), len(got.TAs))
	}
	first := got.Labs[0]
	if first.LeavesCount() != 1 || first.TotalContactHours() != ds.Labs[0].TotalContactHours() {
		t.Fatalf("aggregates changed through the codec: %+v", first.Sessions)
	}
	if !first.Schedule.ExpectedStart.Equal(*ds.Labs[0].Schedule.ExpectedStart) {
		t.Fatal("schedule start changed through the codec")
	}
	if got.TAs[0].Name != "Ali Khan" || len(got.TAs[0].LabIDs) != 1 {
		t.Fatalf("TA record = %+v", got.TAs[0])
	}
}

func TestDecodeEmptyAndFutureVersion(t *testing.T) {
	ds, err := Decode(nil)
	if err != nil || ds == nil || len(ds.Labs) != 0 {
		t.Fatalf("Decode(nil) = %v, %v", ds, err)
	}
	if _, err := Decode([]byte(`{"version":99}`)); err == nil {
		t.Fatal("expected error for newer snapshot version")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestDecodeDropsNullRecords(t *testing.T) {
	ds, err := Decode([]byte(`{"version":1,"labs":[null,{"id":"L1","name":"CS101"},null],"instructors":[null],"tas":[null],"requests":[null]}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Labs) != 1 || ds.Labs[0].ID != "L1" {
		t.Fatalf("labs = %+v", ds.Labs)
	}
	if len(ds.Instructors)+len(ds.TAs)+len(ds.Requests) != 0 {
		t.Fatalf("null staff or requests kept: %+v", ds)
	}
	svc := lab.NewService(ds, nil)
	if _, err := svc.Lab("missing"); err == nil {
		t.Fatal("expected not found")
	}
	if n := len(svc.Visible(lab.User{Role: lab.RoleHOD}, lab.ViewActiveNow, time.Now())); n != 0 {
		t.Fatalf("visible = %d", n)
	}
	_ = svc.Snapshot()
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ds, err := m.Load(ctx)
	if err != nil || len(ds.Labs) != 0 {
		t.Fatalf("empty load = %v, %v", ds, err)
	}
	src := lab.SampleDataset(now)
	if err := m.Save(ctx, src); err != nil {
		t.Fatal(err)
	}
	src.Labs[0].Name = "mutated after save"
	ds, err = m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Labs[0].Name != "Database Systems" {
		t.Fatalf("memory store shares state: %q", ds.Labs[0].Name)
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "labs.db")
	s, err := NewSQLite(path, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	ds, err := s.Load(ctx)
	if err != nil || len(ds.Labs) != 0 {
		t.Fatalf("first load = %v, %v", ds, err)
	}
	if err := s.Save(ctx, lab.SampleDataset(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := lab.SampleDataset(now)
	second.Labs = second.Labs[:1]
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("second save: %v", err)
	}
	ds, err = s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Labs) != 1 {
		t.Fatalf("labs = %d, want upserted snapshot with 1", len(ds.Labs))
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (*lab.Dataset, error) { return nil, errors.New("x") }
func (failingStore) Save(context.Context, *lab.Dataset) error {
	return &IOError{Op: "save", Backend: "test", Err: errors.New("disk full")}
}

func TestIOErrorIsDistinct(t *testing.T) {
	svc := lab.NewService(nil, failingStore{})
	err := svc.Save(context.Background())
	var ioe *IOError
	if !errors.As(err, &ioe) || ioe.Backend != "test" {
		t.Fatalf("err = %v, want wrapped *IOError", err)
	}
}

func TestSaverCoalescesAndFlushes(t *testing.T) {
	m := NewMemory()
	svc := lab.NewService(nil, m)
	saver := NewSaver(m, svc.Snapshot, 20*time.Millisecond)
	saves := make(chan error, 10)
	saver.OnSave(func(err error) { saves <- err })

	ctx, cancel := context.WithCancel(context.Background())
	go saver.Run(ctx)

	svc.CreateLab("CS101", nil, nil)
	saver.Request()
	saver.Request()
	saver.Request()

	select {
	case err := <-saves:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("save never happened")
	}
	cancel()
	<-saver.Done()

	ds, _ := m.Load(context.Background())
	if len(ds.Labs) != 1 {
		t.Fatalf("persisted labs = %d", len(ds.Labs))
	}
	if n := len(saves); n > 1 {
		t.Fatalf("requests did not coalesce: %d extra saves", n)
	}
}
