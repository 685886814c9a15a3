package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/mybrohigh/Xpert/internal/policy"
	"github.com/mybrohigh/Xpert/internal/store"
)

func invalidArgument(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "INVALID_ARGUMENT", message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "NOT_FOUND", message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "FORBIDDEN", message)
}

func writeInternal(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
}

func writeUpstream(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, "UPSTREAM", message)
}

func writeTimeout(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestTimeout, "TIMEOUT", message)
}

func writePayloadTooLarge(w http.ResponseWriter, limit int64) {
	msg := "request body too large"
	if limit > 0 {
		msg = "request body too large (max " + strconv.FormatInt(limit, 10) + " bytes)"
	}
	WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", msg)
}

func writeDecodeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		writePayloadTooLarge(w, tooLarge.Limit)
		return
	}
	invalidArgument(w, err.Error())
}

// writeStoreError maps store-layer sentinel errors to HTTP codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	case errors.Is(err, store.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, policy.ErrInvalidLimit):
		invalidArgument(w, err.Error())
	default:
		writeInternal(w, err)
	}
}
