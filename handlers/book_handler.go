package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/middleware"
	"github.com/upb/bookshelf-api/models"
	"github.com/upb/bookshelf-api/services"
	"github.com/upb/bookshelf-api/utils"
)

// maxBodyBytes bounds request payloads
const maxBodyBytes = 64 << 10

// BookService defines the book operations the handler depends on
type BookService interface {
	CreateBook(ctx context.Context, req models.CreateBookRequest, createdBy string) (*models.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error)
	ListBooks(ctx context.Context, limit, offset int) (*services.BookPage, error)
	UpdateBook(ctx context.Context, id uuid.UUID, req models.UpdateBookRequest) (*models.Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
}

// BookHandler handles book-related HTTP requests
type BookHandler struct {
	service BookService
	logger  *zap.Logger
}

// NewBookHandler creates a new BookHandler
func NewBookHandler(service BookService, logger *zap.Logger) *BookHandler {
	return &BookHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListBooks handles GET /api/v1/books?limit=&offset=
func (h *BookHandler) HandleListBooks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := queryInt(r, "limit")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid limit", nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid offset", nil)
		return
	}

	page, err := h.service.ListBooks(ctx, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("listed books",
		zap.String("request_id", middleware.RequestIDFrom(ctx)),
		zap.Int("count", len(page.Books)))

	_ = utils.WriteOK(w, page)
}

// HandleCreateBook handles POST /api/v1/books
func (h *BookHandler) HandleCreateBook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.RequestIDFrom(ctx)

	var req models.CreateBookRequest
	if !h.decode(w, r, &req) {
		return
	}

	var createdBy string
	if identity := middleware.IdentityFrom(ctx); identity != nil {
		createdBy = identity.Subject
		if createdBy == "" {
			createdBy = identity.Email
		}
	}

	book, err := h.service.CreateBook(ctx, req, createdBy)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("book created",
		zap.String("request_id", requestID),
		zap.String("book_id", book.ID.String()))

	w.Header().Set("Location", "/api/v1/books/"+book.ID.String())
	_ = utils.WriteCreated(w, book)
}

// HandleGetBook handles GET /api/v1/books/{id}
func (h *BookHandler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, book)
}

// HandleUpdateBook handles PUT /api/v1/books/{id}
func (h *BookHandler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	var req models.UpdateBookRequest
	if !h.decode(w, r, &req) {
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, book)
}

// HandleDeleteBook handles DELETE /api/v1/books/{id}
func (h *BookHandler) HandleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := bookID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("book deleted",
		zap.String("request_id", middleware.RequestIDFrom(r.Context())),
		zap.String("book_id", id.String()))

	utils.WriteNoContent(w)
}

// decode parses and validates a JSON body, writing the 400 itself on failure
func (h *BookHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, h.logger)
		return false
	}
	return true
}

func bookID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid book ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
