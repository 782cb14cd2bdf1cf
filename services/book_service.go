package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/models"
	"github.com/upb/bookshelf-api/repositories"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// BookPage is one page of the catalogue
type BookPage struct {
	Books  []*models.Book `json:"books"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// BookService implements book use cases over a BookRepository
type BookService struct {
	books     repositories.BookRepository
	txManager repositories.TransactionManager
	logger    *zap.Logger
	now       func() time.Time
}

// NewBookService creates a new BookService
func NewBookService(books repositories.BookRepository, txManager repositories.TransactionManager, logger *zap.Logger) *BookService {
	return &BookService{
		books:     books,
		txManager: txManager,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateBook adds a book on behalf of the caller identified by createdBy
func (s *BookService) CreateBook(ctx context.Context, req models.CreateBookRequest, createdBy string) (*models.Book, error) {
	published, err := models.ParseDate(req.PublishedDate)
	if err != nil {
		return nil, invalidField("published_date", "published_date must be YYYY-MM-DD", err)
	}

	book := models.NewBook(strings.TrimSpace(req.Title), strings.TrimSpace(req.Author))
	book.Description = req.Description
	book.PublishedDate = published
	book.CreatedBy = createdBy
	book.CreatedAt = s.now()
	book.UpdatedAt = book.CreatedAt

	if err := checkRequired(book); err != nil {
		return nil, err
	}

	if err := s.books.Create(ctx, book); err != nil {
		return nil, s.mapRepositoryError("create book", err)
	}

	s.logger.Info("book created",
		zap.String("book_id", book.ID.String()),
		zap.String("created_by", createdBy))
	return book, nil
}

// GetBook returns a single book
func (s *BookService) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	book, err := s.books.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapRepositoryError("get book", err)
	}
	return book, nil
}

// ListBooks returns a page of books. Out-of-range paging values are clamped.
func (s *BookService) ListBooks(ctx context.Context, limit, offset int) (*BookPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	books, err := s.books.List(ctx, limit, offset)
	if err != nil {
		return nil, s.mapRepositoryError("list books", err)
	}
	total, err := s.books.Count(ctx)
	if err != nil {
		return nil, s.mapRepositoryError("count books", err)
	}

	return &BookPage{Books: books, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateBook applies the non-nil fields of req to the stored book
func (s *BookService) UpdateBook(ctx context.Context, id uuid.UUID, req models.UpdateBookRequest) (*models.Book, error) {
	var published *time.Time
	if req.PublishedDate != nil {
		parsed, err := models.ParseDate(*req.PublishedDate)
		if err != nil {
			return nil, invalidField("published_date", "published_date must be YYYY-MM-DD", err)
		}
		published = parsed
	}

	return inTransaction(ctx, s.txManager, func(ctx context.Context, tx repositories.Transaction) (*models.Book, error) {
		books := s.books.WithTx(tx)

		book, err := books.GetByID(ctx, id)
		if err != nil {
			return nil, s.mapRepositoryError("get book", err)
		}

		if req.Title != nil {
			book.Title = strings.TrimSpace(*req.Title)
		}
		if req.Author != nil {
			book.Author = strings.TrimSpace(*req.Author)
		}
		if req.Description != nil {
			book.Description = *req.Description
		}
		if req.PublishedDate != nil {
			book.PublishedDate = published
		}
		if err := checkRequired(book); err != nil {
			return nil, err
		}
		book.UpdatedAt = s.now()

		if err := books.Update(ctx, book); err != nil {
			return nil, s.mapRepositoryError("update book", err)
		}

		s.logger.Info("book updated", zap.String("book_id", id.String()))
		return book, nil
	})
}

// DeleteBook removes a book
func (s *BookService) DeleteBook(ctx context.Context, id uuid.UUID) error {
	if err := s.books.Delete(ctx, id); err != nil {
		return s.mapRepositoryError("delete book", err)
	}
	s.logger.Info("book deleted", zap.String("book_id", id.String()))
	return nil
}

// checkRequired rejects titles and authors that are blank after trimming
func checkRequired(book *models.Book) error {
	switch {
	case book.Title == "":
		return invalidField("title", "title must not be blank", nil)
	case book.Author == "":
		return invalidField("author", "author must not be blank", nil)
	}
	return nil
}

func (s *BookService) mapRepositoryError(op string, err error) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return NewDomainError(ErrorTypeNotFound, ErrBookNotFound.Message, err)
	case errors.Is(err, repositories.ErrDuplicate):
		return NewDomainError(ErrorTypeConflict, ErrDuplicateBook.Message, err)
	default:
		if _, ok := asDomainError(err); ok {
			return err
		}
		s.logger.Error("book repository failure", zap.String("operation", op), zap.Error(err))
		return WrapInternal("failed to "+op, err)
	}
}
