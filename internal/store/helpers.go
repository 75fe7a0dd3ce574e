package store

import (
	"database/sql"

	"github.com/leadpipe/leadpipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanUser scans a User from sql.Rows.
func scanUser(rows *sql.Rows) (models.User, error) {
	var u models.User
	var username, firstName, lastName sql.NullString
	err := rows.Scan(&u.ID, &u.ExternalID, &username, &firstName, &lastName, &u.CreatedAt)
	if err != nil {
		return u, err
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	return u, nil
}

// scanUserRow scans a User from a single sql.Row.
func scanUserRow(row *sql.Row) (*models.User, error) {
	var u models.User
	var username, firstName, lastName sql.NullString
	err := row.Scan(&u.ID, &u.ExternalID, &username, &firstName, &lastName, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	return &u, nil
}

// scanMessage scans a Message from sql.Rows.
func scanMessage(rows *sql.Rows) (models.Message, error) {
	var m models.Message
	err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.CreatedAt)
	return m, err
}

// scanLead scans a Lead from sql.Rows.
func scanLead(rows *sql.Rows) (models.Lead, error) {
	var l models.Lead
	var note sql.NullString
	err := rows.Scan(&l.ID, &l.UserID, &l.Contact, &note, &l.CreatedAt)
	if err != nil {
		return l, err
	}
	l.Note = note.String
	return l, nil
}

// scanLeadRow scans a Lead from a single sql.Row.
func scanLeadRow(row *sql.Row) (*models.Lead, error) {
	var l models.Lead
	var note sql.NullString
	err := row.Scan(&l.ID, &l.UserID, &l.Contact, &note, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.Note = note.String
	return &l, nil
}
