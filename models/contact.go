package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ContactMessage struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Subject   string    `json:"subject" db:"subject"`
	Message   string    `json:"message" db:"message"`
	Locale    string    `json:"locale" db:"locale"`
	IP        string    `json:"-" db:"ip"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CreateContactRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=120"`
	Email   string `json:"email" validate:"required,email,max=255"`
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,min=10,max=5000"`
	Locale  string `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

// Normalize trims user input and defaults the locale
func (r *CreateContactRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Subject = strings.TrimSpace(r.Subject)
	r.Message = strings.TrimSpace(r.Message)
	r.Locale = strings.TrimSpace(r.Locale)
	if r.Locale == "" {
		r.Locale = "en"
	}
}

// ToMessage builds the stored record for a request received from ip
func (r *CreateContactRequest) ToMessage(ip string) *ContactMessage {
	return &ContactMessage{
		Name:    r.Name,
		Email:   r.Email,
		Subject: r.Subject,
		Message: r.Message,
		Locale:  r.Locale,
		IP:      ip,
	}
}
