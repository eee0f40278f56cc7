package records

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T, dialect string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewWithDB(db, dialect, nil)
	if err != nil {
		t.Fatalf("NewWithDB() error = %v", err)
	}
	return s, mock
}

func TestRebind(t *testing.T) {
	sqliteStore, _ := newMockStore(t, "sqlite")
	pgStore, _ := newMockStore(t, "postgres")

	q := "SELECT * FROM x WHERE a = ? AND b = ?"
	if got := sqliteStore.rebind(q); got != q {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
	want := "SELECT * FROM x WHERE a = $1 AND b = $2"
	if got := pgStore.rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestInsertDiaryFillsDefaults(t *testing.T) {
	s, mock := newMockStore(t, "sqlite")
	mock.ExpectExec("INSERT INTO ai_diaries").
		WithArgs(sqlmock.AnyArg(), "2026-08-25", "今天很开心。", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	d := Diary{DiaryDate: "2026-08-25", Content: "今天很开心。"}
	if err := s.InsertDiary(context.Background(), &d); err != nil {
		t.Fatalf("InsertDiary() error = %v", err)
	}
	if d.ID == "" {
		t.Error("InsertDiary() left ID empty")
	}
	if d.CreatedAt.IsZero() {
		t.Error("InsertDiary() left CreatedAt zero")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCountDiariesOn(t *testing.T) {
	s, mock := newMockStore(t, "sqlite")
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ai_diaries").
		WithArgs("2026-08-25").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := s.CountDiariesOn(context.Background(), "2026-08-25")
	if err != nil {
		t.Fatalf("CountDiariesOn() error = %v", err)
	}
	if n != 2 {
		t.Errorf("CountDiariesOn() = %d, want 2", n)
	}
}

func TestUpsertDailyDiaryInsertsWhenNoExistingRow(t *testing.T) {
	s, mock := newMockStore(t, "sqlite")
	mock.ExpectExec("UPDATE ai_diaries SET content").
		WithArgs("正文", nil, "2026-08-25").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO ai_diaries").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertDailyDiary(context.Background(), "2026-08-25", "正文", ""); err != nil {
		t.Fatalf("UpsertDailyDiary() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpsertDailyDiaryUpdatesExistingRow(t *testing.T) {
	s, mock := newMockStore(t, "sqlite")
	mock.ExpectExec("UPDATE ai_diaries SET content").
		WithArgs("新正文", "平静", "2026-08-25").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpsertDailyDiary(context.Background(), "2026-08-25", "新正文", "平静"); err != nil {
		t.Fatalf("UpsertDailyDiary() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateStatus(t *testing.T) {
	s, mock := newMockStore(t, "postgres")

	if err := s.UpdateStatus(context.Background(), "ai_diaries", "x", "done"); err == nil {
		t.Error("UpdateStatus() accepted table without status column")
	}
	if err := s.UpdateStatus(context.Background(), "promises", "x", "cancelled"); err == nil {
		t.Error("UpdateStatus() accepted invalid status")
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE promises SET status = $1 WHERE id = $2")).
		WithArgs("done", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpdateStatus(context.Background(), "promises", "p1", "done"); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE wishlists SET status = $1 WHERE id = $2")).
		WithArgs("pending", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.UpdateStatus(context.Background(), "wishlists", "missing", "pending"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteLatestMatching(t *testing.T) {
	s, mock := newMockStore(t, "sqlite")
	mock.ExpectQuery("SELECT id, content FROM chat_memories WHERE content LIKE").
		WithArgs("%猫%").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content"}).AddRow("m1", "养了一只猫"))
	mock.ExpectExec("DELETE FROM chat_memories WHERE id =").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	content, err := s.DeleteLatestMatching(context.Background(), "chat_memories", "猫")
	if err != nil {
		t.Fatalf("DeleteLatestMatching() error = %v", err)
	}
	if content != "养了一只猫" {
		t.Errorf("DeleteLatestMatching() content = %q", content)
	}
}

func TestDeleteLatestMatchingNoRows(t *testing.T) {
	s, mock := newMockStore(t, "sqlite")
	mock.ExpectQuery("SELECT id, content FROM promises").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content"}))

	if _, err := s.DeleteLatestMatching(context.Background(), "promises", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteLatestMatching() error = %v, want ErrNotFound", err)
	}
}

func TestListPromisesOrdersPendingFirst(t *testing.T) {
	s, mock := newMockStore(t, "sqlite")
	now := time.Now()
	mock.ExpectQuery("FROM promises").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content", "status", "created_at"}).
			AddRow("p2", "一起去海边", "pending", now).
			AddRow("p1", "看完那部电影", "done", now.Add(-time.Hour)))

	promises, err := s.ListPromises(context.Background())
	if err != nil {
		t.Fatalf("ListPromises() error = %v", err)
	}
	if len(promises) != 2 || promises[0].Status != "pending" {
		t.Errorf("ListPromises() = %+v", promises)
	}
}
