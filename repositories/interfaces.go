package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/bookshelf-api/models"
)

var (
	// ErrNotFound is returned when no row matches the lookup
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("record already exists")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes fn within a transaction.
	// Commits if fn succeeds, rolls back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// BookRepository handles book data operations
type BookRepository interface {
	// Create inserts a new book
	Create(ctx context.Context, book *models.Book) error

	// GetByID retrieves a book by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Book, error)

	// List retrieves books ordered by title with pagination
	List(ctx context.Context, limit, offset int) ([]*models.Book, error)

	// Count returns the total number of books
	Count(ctx context.Context) (int, error)

	// Update updates a book
	Update(ctx context.Context, book *models.Book) error

	// Delete deletes a book
	Delete(ctx context.Context, id uuid.UUID) error

	// WithTx returns a repository bound to the transaction
	WithTx(tx Transaction) BookRepository
}

// Repositories groups all repositories
type Repositories struct {
	Books BookRepository
}
