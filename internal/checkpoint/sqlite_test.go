package checkpoint

import (
	"context"
	"encoding/json"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/conductorhq/conductor/pkg/models"
)

func TestSQLStorePut(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLStore(db)

	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("user1", SlotLatest, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Put(context.Background(), "user1", SlotLatest, sampleState("user1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLStore(db)

	raw, err := json.Marshal(sampleState("user1"))
	if err != nil {
		t.Fatal(err)
	}
	mock.ExpectQuery("SELECT state FROM checkpoints").
		WithArgs("user1", SlotLatest).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(string(raw)))

	got, err := store.Get(context.Background(), "user1", SlotLatest)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.TaskID != "task-1" || got.Phase != models.PhaseWork {
		t.Errorf("state = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStoreGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLStore(db)

	mock.ExpectQuery("SELECT state FROM checkpoints").
		WithArgs("user1", "gone").
		WillReturnRows(sqlmock.NewRows([]string{"state"}))

	got, err := store.Get(context.Background(), "user1", "gone")
	if err != nil || got != nil {
		t.Errorf("missing slot: %v, %v", got, err)
	}
}

func TestSQLStoreList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLStore(db)

	completed := sampleState("user1")
	completed.Status = models.StatusCompleted
	rawA, _ := json.Marshal(completed)
	rawB, _ := json.Marshal(sampleState("user1"))

	mock.ExpectQuery("SELECT slot, state FROM checkpoints").
		WithArgs("user1").
		WillReturnRows(sqlmock.NewRows([]string{"slot", "state"}).
			AddRow(SlotLatest, string(rawA)).
			AddRow("before-refactor", string(rawB)))

	infos, err := store.List(context.Background(), "user1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d infos", len(infos))
	}
	if infos[0].Slot != SlotLatest || !infos[0].Completed {
		t.Errorf("first info = %+v", infos[0])
	}
	if infos[1].Slot != "before-refactor" || infos[1].Completed {
		t.Errorf("second info = %+v", infos[1])
	}
}

func TestSQLStoreRejectsBadSlot(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLStore(db)

	if _, err := store.Get(context.Background(), "user1", "../etc"); err == nil {
		t.Error("traversal slot accepted")
	}
	if err := store.Put(context.Background(), "user1", "", sampleState("user1")); err == nil {
		t.Error("empty slot accepted")
	}
}
