package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/services"
	"github.com/upb/bookshelf-api/utils"
)

var statusByErrorType = map[services.ErrorType]int{
	services.ErrorTypeNotFound:     http.StatusNotFound,
	services.ErrorTypeValidation:   http.StatusBadRequest,
	services.ErrorTypeUnauthorized: http.StatusUnauthorized,
	services.ErrorTypeConflict:     http.StatusConflict,
}

// HandleServiceError writes the response for an error returned by a
// service. Only the client-facing message and details leave the process;
// internal and unclassified errors are logged and answered with a 500.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status, ok := statusByErrorType[services.TypeOf(err)]
	if !ok {
		logger.Error("request failed",
			zap.String("error_type", string(services.TypeOf(err))),
			zap.Error(err))
		logWriteError(logger, utils.WriteInternalServerError(w, "An internal error occurred"))
		return
	}

	logWriteError(logger, utils.WriteError(w, status, services.MessageOf(err), services.DetailsOf(err)))
}

// HandleValidationError answers a request body that failed struct validation
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	fields, ok := utils.FieldErrors(err)
	if !ok {
		logWriteError(logger, utils.WriteBadRequest(w, err.Error(), nil))
		return
	}

	details := make(map[string]interface{}, len(fields))
	for name, msg := range fields {
		details[name] = msg
	}
	logWriteError(logger, utils.WriteBadRequest(w, "Validation failed", details))
}

func logWriteError(logger *zap.Logger, err error) {
	if err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}
