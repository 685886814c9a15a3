package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mybrohigh/Xpert/internal/auditlog"
	"github.com/mybrohigh/Xpert/internal/model"
)

// emitAudit records one admin mutation on the async trail. The request id
// assigned by the middleware ties the row back to the HTTP exchange.
func emitAudit(audit *auditlog.Service, r *http.Request, action, targetType, targetUsername, meta string) {
	if audit == nil {
		return
	}
	audit.Emit(model.AdminAction{
		CreatedAt:      time.Now().UTC(),
		AdminUsername:  "admin",
		Action:         action,
		TargetType:     targetType,
		TargetUsername: targetUsername,
		Meta:           meta,
		RequestID:      RequestID(r),
	})
}

func parsePaginationOrWriteInvalid(w http.ResponseWriter, r *http.Request) (Pagination, bool) {
	pg, err := ParsePagination(r)
	if err != nil {
		invalidArgument(w, err.Error())
		return Pagination{}, false
	}
	return pg, true
}

func parseBoolQueryOrWriteInvalid(w http.ResponseWriter, r *http.Request, key string) (*bool, bool) {
	v, err := ParseBoolQuery(r, key)
	if err != nil {
		invalidArgument(w, err.Error())
		return nil, false
	}
	return v, true
}

func requireIDPathParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		invalidArgument(w, fmt.Sprintf("%s: must be a positive integer", name))
		return 0, false
	}
	return id, true
}

func requireUsernamePathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := r.PathValue(name)
	if value == "" {
		invalidArgument(w, name+": is required")
		return "", false
	}
	return value, true
}

func parseDaysQuery(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 3650 {
		invalidArgument(w, key+": must be in [1,3650]")
		return 0, false
	}
	return n, true
}
