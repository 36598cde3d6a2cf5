package models

import "github.com/google/uuid"

type ContactRepositoryInterface interface {
	Create(msg *ContactMessage) error
	GetByID(id uuid.UUID) (*ContactMessage, error)
	ListRecent(limit int) ([]ContactMessage, error)
}
