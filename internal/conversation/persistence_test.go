package conversation

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestSQLLogEnsureSchemaIssuesCreateTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS conversation_messages").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewSQLLog(db).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLLogRecordInsertsMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	msg := Message{Role: RoleUser, Content: "hello", CreatedAt: time.Unix(0, 0).UTC()}
	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs(string(msg.Role), msg.Content, msg.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := NewSQLLog(db).Record(context.Background(), msg); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLLogReplayReturnsMessagesInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	createdAt := time.Unix(1000, 0).UTC()
	rows := sqlmock.NewRows([]string{"role", "content", "created_at"}).
		AddRow(string(RoleUser), "hi", createdAt).
		AddRow(string(RoleAssistant), "hello back", createdAt.Add(time.Second))
	mock.ExpectQuery("SELECT role, content, created_at FROM conversation_messages").
		WillReturnRows(rows)

	got, err := NewSQLLog(db).Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Replay()) = %d, want 2", len(got))
	}
	if got[0].Role != RoleUser || got[1].Role != RoleAssistant {
		t.Errorf("roles out of order: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestConversationAttachLogMirrorsAppends(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO conversation_messages").WillReturnResult(sqlmock.NewResult(1, 1))

	c := New()
	c.AttachLog(NewSQLLog(db))
	if _, err := c.Append(RoleUser, "hi"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
