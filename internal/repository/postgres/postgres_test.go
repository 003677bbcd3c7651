package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

var (
	_ users.Repository     = (*UserRepo)(nil)
	_ workshops.Repository = (*WorkshopRepo)(nil)
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var created = time.Date(2014, 9, 1, 10, 0, 0, 0, time.UTC)

func TestUserRepo_FindByAddress(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(`SELECT u.address, u.is_confirmed .* FROM workshop_users u\s+LEFT JOIN user_deliveries d`).
		WithArgs("ada@example.org").
		WillReturnRows(sqlmock.NewRows([]string{"address", "is_confirmed", "confirmation_key", "name", "profile", "created_at", "delivered"}).
			AddRow("ada@example.org", true, "k", "Ada", []byte(`{"city":"Warsaw"}`), created, "{e1,e2}"))

	u, err := repo.FindByAddress(context.Background(), "ada@example.org")
	require.NoError(t, err)
	assert.True(t, u.IsConfirmed)
	assert.Equal(t, "Ada", u.Attributes.Name)
	assert.Equal(t, "Warsaw", u.Attributes.Profile["city"])
	assert.Equal(t, []string{"e1", "e2"}, u.DeliveredEmailIDs)
}

func TestUserRepo_FindByAddress_Missing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM workshop_users u`).WithArgs("ghost@example.org").WillReturnError(sql.ErrNoRows)

	_, err := NewUserRepo(db).FindByAddress(context.Background(), "ghost@example.org")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepo_CreateUnconfirmed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	upsert := `INSERT INTO workshop_users .* ON CONFLICT \(address\) DO UPDATE .* WHERE workshop_users.is_confirmed = FALSE`

	mock.ExpectExec(upsert).
		WithArgs("ada@example.org", "k1", "Ada", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.CreateUnconfirmed(context.Background(), "ada@example.org", domain.UserAttributes{Name: "Ada"}, "k1"))

	mock.ExpectExec(upsert).
		WithArgs("ada@example.org", "k2", "", []byte("{}")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.CreateUnconfirmed(context.Background(), "ada@example.org", domain.UserAttributes{}, "k2")
	assert.ErrorIs(t, err, domain.ErrUserAlreadyConfirmed)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUserRepo_Confirm(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	q := `UPDATE workshop_users SET is_confirmed = TRUE\s+WHERE address = \$1 AND confirmation_key = \$2 AND is_confirmed = FALSE`

	mock.ExpectExec(q).WithArgs("ada@example.org", "k1").WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Confirm(context.Background(), "ada@example.org", "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(q).WithArgs("ada@example.org", "k1").WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.Confirm(context.Background(), "ada@example.org", "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserRepo_RecordDelivery(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)
	q := `INSERT INTO user_deliveries \(address, email_id\)\s+SELECT \$1, unnest\(\$2::text\[\]\)\s+ON CONFLICT \(address, email_id\) DO NOTHING`

	mock.ExpectExec(q).
		WithArgs("ada@example.org", pq.Array([]string{"e1", "e2"})).
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.RecordDelivery(context.Background(), "ada@example.org", []string{"e1", "e2"}))

	// empty batches never reach the database
	require.NoError(t, repo.RecordDelivery(context.Background(), "ada@example.org", nil))

	mock.ExpectExec(q).
		WithArgs("ghost@example.org", pq.Array([]string{"e1"})).
		WillReturnError(&pq.Error{Code: "23503"})
	err := repo.RecordDelivery(context.Background(), "ghost@example.org", []string{"e1"})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func workshopRow() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"workshop_id", "title", "email_secret", "created_at"}).
		AddRow("go-basics", "Go basics", "s3cr3t", created)
}

func expectChildren(mock sqlmock.Sqlmock, members []string, emails ...[]driverValue) {
	m := sqlmock.NewRows([]string{"address"})
	for _, a := range members {
		m.AddRow(a)
	}
	mock.ExpectQuery(`SELECT address FROM workshop_members WHERE workshop_id = \$1 ORDER BY seq`).
		WithArgs("go-basics").WillReturnRows(m)

	e := sqlmock.NewRows([]string{"email_id", "subject", "body", "received_at", "attachments"})
	for _, row := range emails {
		e.AddRow(row...)
	}
	mock.ExpectQuery(`SELECT email_id, subject, body, received_at, attachments\s+FROM workshop_emails`).
		WithArgs("go-basics").WillReturnRows(e)
}

type driverValue = interface{}

func TestWorkshopRepo_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)
	w := &domain.Workshop{WorkshopID: "go-basics", Title: "Go basics", EmailSecret: "s3cr3t", CreatedAt: created}
	q := `INSERT INTO workshops .* ON CONFLICT \(workshop_id\) DO NOTHING`

	mock.ExpectExec(q).WithArgs("go-basics", "Go basics", "s3cr3t", created).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Create(context.Background(), w))

	mock.ExpectExec(q).WithArgs("go-basics", "Go basics", "s3cr3t", created).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Create(context.Background(), w), domain.ErrWorkshopExists)
}

func TestWorkshopRepo_FindBySecret(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM workshops WHERE email_secret = \$1`).WithArgs("s3cr3t").WillReturnRows(workshopRow())
	expectChildren(mock, []string{"ada@example.org", "bob@example.org"},
		[]driverValue{"e1", "A", "a", created, []byte(`[{"filename":"x.pdf","contentType":"application/pdf","size":3}]`)},
		[]driverValue{"e2", "B", "b", created, []byte(`[]`)},
	)
	mock.ExpectCommit()

	w, err := repo.FindBySecret(context.Background(), "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.org", "bob@example.org"}, w.RegisteredUsers)
	require.Len(t, w.Emails, 2)
	assert.Equal(t, "e1", w.Emails[0].EmailID)
	assert.Equal(t, "x.pdf", w.Emails[0].Attachments[0].Filename)
	assert.Nil(t, w.Emails[1].Attachments)
}

func TestWorkshopRepo_FindByID_Missing(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM workshops WHERE workshop_id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewWorkshopRepo(db).FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrWorkshopNotFound)
}

func TestWorkshopRepo_AppendEmail_LocksAndSnapshots(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)
	email := domain.Email{EmailID: "e3", Subject: "C", Body: "c", ReceivedAt: created}

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM workshops WHERE workshop_id = \$1 FOR UPDATE`).WithArgs("go-basics").WillReturnRows(workshopRow())
	mock.ExpectExec(`INSERT INTO workshop_emails`).
		WithArgs("go-basics", "e3", "C", "c", created, []byte("[]")).
		WillReturnResult(sqlmock.NewResult(3, 1))
	expectChildren(mock, []string{"ada@example.org"},
		[]driverValue{"e3", "C", "c", created, []byte(`[]`)},
	)
	mock.ExpectCommit()

	w, err := repo.AppendEmail(context.Background(), "go-basics", email)
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.org"}, w.RegisteredUsers)
	require.Len(t, w.Emails, 1)
	assert.Equal(t, "e3", w.Emails[0].EmailID)
}

func TestWorkshopRepo_AddUser(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("go-basics").WillReturnRows(workshopRow())
	mock.ExpectExec(`INSERT INTO workshop_members .* ON CONFLICT \(workshop_id, address\) DO NOTHING`).
		WithArgs("go-basics", "ada@example.org").
		WillReturnResult(sqlmock.NewResult(0, 0))
	expectChildren(mock, []string{"ada@example.org"})
	mock.ExpectCommit()

	w, err := NewWorkshopRepo(db).AddUser(context.Background(), "go-basics", "ada@example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"ada@example.org"}, w.RegisteredUsers)
}

func TestWorkshopRepo_AddUser_MissingWorkshop(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := NewWorkshopRepo(db).AddUser(context.Background(), "nope", "ada@example.org")
	assert.ErrorIs(t, err, domain.ErrWorkshopNotFound)
}

func TestWorkshopRepo_RemoveUser(t *testing.T) {
	db, mock := newMock(t)
	repo := NewWorkshopRepo(db)
	del := `DELETE FROM workshop_members WHERE workshop_id = \$1 AND address = \$2`

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("go-basics").WillReturnRows(workshopRow())
	mock.ExpectExec(del).WithArgs("go-basics", "ada@example.org").WillReturnResult(sqlmock.NewResult(0, 1))
	expectChildren(mock, nil)
	mock.ExpectCommit()

	changed, err := repo.RemoveUser(context.Background(), "go-basics", "ada@example.org")
	require.NoError(t, err)
	assert.True(t, changed)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	changed, err = repo.RemoveUser(context.Background(), "nope", "ada@example.org")
	require.NoError(t, err)
	assert.False(t, changed)
}
