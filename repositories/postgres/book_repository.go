package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/bookshelf-api/models"
	"github.com/upb/bookshelf-api/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

const bookColumns = `id, title, author, description, published_date, created_by, created_at, updated_at`

// BookRepository implements repositories.BookRepository
type BookRepository struct {
	db     *DB
	tx     *Transaction
	logger *zap.Logger
}

// NewBookRepository creates a new book repository
func NewBookRepository(db *DB, logger *zap.Logger) repositories.BookRepository {
	return &BookRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new book
func (r *BookRepository) Create(ctx context.Context, book *models.Book) error {
	query := `
		INSERT INTO books (` + bookColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := executorFor(ctx, r.db, r.tx).ExecContext(ctx, query,
		book.ID,
		book.Title,
		book.Author,
		book.Description,
		book.PublishedDate,
		book.CreatedBy,
		book.CreatedAt,
		book.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("book %q by %q: %w", book.Title, book.Author, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to create book: %w", err)
	}

	r.logger.Debug("book created", zap.String("id", book.ID.String()))
	return nil
}

// GetByID retrieves a book by ID
func (r *BookRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	book, err := scanBook(executorFor(ctx, r.db, r.tx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// List retrieves books ordered by title with pagination
func (r *BookRepository) List(ctx context.Context, limit, offset int) ([]*models.Book, error) {
	query := `
		SELECT ` + bookColumns + `
		FROM books
		ORDER BY title, author
		LIMIT $1 OFFSET $2
	`

	rows, err := executorFor(ctx, r.db, r.tx).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	books := make([]*models.Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book rows: %w", err)
	}

	return books, nil
}

// Count returns the total number of books
func (r *BookRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := executorFor(ctx, r.db, r.tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}

// Update updates a book
func (r *BookRepository) Update(ctx context.Context, book *models.Book) error {
	query := `
		UPDATE books
		SET title = $2,
		    author = $3,
		    description = $4,
		    published_date = $5,
		    updated_at = $6
		WHERE id = $1
	`

	result, err := executorFor(ctx, r.db, r.tx).ExecContext(ctx, query,
		book.ID,
		book.Title,
		book.Author,
		book.Description,
		book.PublishedDate,
		book.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("book %q by %q: %w", book.Title, book.Author, repositories.ErrDuplicate)
		}
		return fmt.Errorf("failed to update book: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("book %s: %w", book.ID, repositories.ErrNotFound)
	}

	r.logger.Debug("book updated", zap.String("id", book.ID.String()))
	return nil
}

// Delete deletes a book
func (r *BookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := executorFor(ctx, r.db, r.tx).ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("book %s: %w", id, repositories.ErrNotFound)
	}

	r.logger.Debug("book deleted", zap.String("id", id.String()))
	return nil
}

// WithTx returns a repository bound to the transaction
func (r *BookRepository) WithTx(tx repositories.Transaction) repositories.BookRepository {
	pgTx, ok := tx.(*Transaction)
	if !ok {
		return r
	}
	return &BookRepository{
		db:     r.db,
		tx:     pgTx,
		logger: r.logger,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(row rowScanner) (*models.Book, error) {
	book := &models.Book{}
	var published sql.NullTime
	if err := row.Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.Description,
		&published,
		&book.CreatedBy,
		&book.CreatedAt,
		&book.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if published.Valid {
		t := published.Time
		book.PublishedDate = &t
	}
	return book, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
