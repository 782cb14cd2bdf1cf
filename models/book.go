package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format of PublishedDate
const DateLayout = "2006-01-02"

// Book is a catalogue entry
type Book struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Title         string     `json:"title" db:"title"`
	Author        string     `json:"author" db:"author"`
	Description   string     `json:"description,omitempty" db:"description"`
	PublishedDate *time.Time `json:"published_date,omitempty" db:"published_date"`
	CreatedBy     string     `json:"created_by,omitempty" db:"created_by"` // subject of the caller that added the book
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Book model
func (Book) TableName() string {
	return "books"
}

// NewBook creates a new Book instance
func NewBook(title, author string) *Book {
	now := time.Now().UTC()
	return &Book{
		ID:        uuid.New(),
		Title:     title,
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CreateBookRequest is the payload of POST /api/v1/books
type CreateBookRequest struct {
	Title         string `json:"title" validate:"required,max=255"`
	Author        string `json:"author" validate:"required,max=255"`
	Description   string `json:"description" validate:"max=4000"`
	PublishedDate string `json:"published_date" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateBookRequest is the payload of PUT /api/v1/books/{id}. Omitted
// fields keep their current value; an empty published_date clears it, so
// its format is checked by the service rather than a tag.
type UpdateBookRequest struct {
	Title         *string `json:"title,omitempty" validate:"omitempty,min=1,max=255"`
	Author        *string `json:"author,omitempty" validate:"omitempty,min=1,max=255"`
	Description   *string `json:"description,omitempty" validate:"omitempty,max=4000"`
	PublishedDate *string `json:"published_date,omitempty"`
}

// ParseDate parses a PublishedDate value; empty means unknown
func ParseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
