package models

import (
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type ContactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) Create(msg *ContactMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	query := `
		INSERT INTO contact_messages (id, name, email, subject, message, locale, ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return r.db.QueryRow(query, msg.ID, msg.Name, msg.Email, msg.Subject, msg.Message, msg.Locale, msg.IP).
		Scan(&msg.CreatedAt)
}

func (r *ContactRepository) GetByID(id uuid.UUID) (*ContactMessage, error) {
	var msg ContactMessage
	query := `SELECT * FROM contact_messages WHERE id = $1`
	if err := r.db.Get(&msg, query, id); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *ContactRepository) ListRecent(limit int) ([]ContactMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	msgs := []ContactMessage{}
	query := `SELECT * FROM contact_messages ORDER BY created_at DESC LIMIT $1`
	if err := r.db.Select(&msgs, query, limit); err != nil {
		return nil, err
	}
	return msgs, nil
}
