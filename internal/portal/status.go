package portal

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusClass はポータルのHTTPステータスの分類。
type StatusClass int

const (
	// StatusOK は成功（2xx）。
	StatusOK StatusClass = iota
	// StatusReauth はトークン拒否（401/403）。再ログインして1回だけ再試行する。
	StatusReauth
	// StatusFailed はその他の失敗。
	StatusFailed
)

// ClassifyStatus はHTTPステータスコードを分類する。
func ClassifyStatus(statusCode int) StatusClass {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusOK
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return StatusReauth
	default:
		return StatusFailed
	}
}

// StatusError はポータルが成功以外のステータスを返したことを示す。
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal %s returned status %d", e.Endpoint, e.StatusCode)
}

// IsStatus はerrがstatusCodeのStatusErrorかを返す。
func IsStatus(err error, statusCode int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == statusCode
}
