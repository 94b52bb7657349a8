package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	apperrors "notification-workers/internal/common/errors"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    apperrors.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Fields  []apperrors.FieldError `json:"fields,omitempty"`
}

func (resp *Response) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	_ = render.Render(w, r, &Response{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody(err)
	respondErrorStatus(w, r, statusFor(body.Code), err)
}

func respondErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	_ = render.Render(w, r, &Response{Error: errorBody(err)})
}

func errorBody(err error) *ErrorBody {
	var se *apperrors.StandardError
	if errors.As(err, &se) {
		return &ErrorBody{Code: se.Code, Message: se.Message, Details: se.Details, Fields: se.Fields}
	}
	return &ErrorBody{Code: apperrors.ErrCodeInternal, Message: err.Error()}
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeTemplateNotFound, apperrors.ErrCodeVersionNotFound, apperrors.ErrCodeUnsupported:
		return http.StatusNotFound
	case apperrors.ErrCodeChannelUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
