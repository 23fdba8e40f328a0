package api

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/joseph-ayodele/research-ingest/internal/common"
)

// Status categories reported to callers.
const (
	CategoryUnauthorized = "unauthorized"
	CategoryForbidden    = "forbidden"
	CategoryBadRequest   = "bad-request"
	CategoryNotFound     = "not-found"
	CategoryConflict     = "conflict"
	CategoryServerError  = "server-error"
)

// Categorize maps an error onto a category and HTTP status.
func Categorize(err error) (string, int) {
	switch common.GRPCCode(err) {
	case codes.Unauthenticated:
		return CategoryUnauthorized, http.StatusUnauthorized
	case codes.PermissionDenied:
		return CategoryForbidden, http.StatusForbidden
	case codes.InvalidArgument:
		return CategoryBadRequest, http.StatusBadRequest
	case codes.NotFound:
		return CategoryNotFound, http.StatusNotFound
	case codes.FailedPrecondition, codes.Aborted, codes.AlreadyExists:
		return CategoryConflict, http.StatusConflict
	}
	return CategoryServerError, http.StatusInternalServerError
}

// ErrorBodyFor builds the wire error for err.
func ErrorBodyFor(err error) ErrorBody {
	cat, _ := Categorize(err)
	reason := err.Error()
	var ae *common.AppError
	if errors.As(err, &ae) && cat != CategoryServerError {
		reason = ae.Message
	}
	return ErrorBody{Category: cat, Kind: common.KindOf(err), Reason: reason}
}

// StatusForCategory is the inverse of Categorize, used by the client.
func StatusForCategory(category string) int {
	switch category {
	case CategoryUnauthorized:
		return http.StatusUnauthorized
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryBadRequest:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
