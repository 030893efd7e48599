package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	sessionIDPattern   = regexp.MustCompile(`^sess_[0-9]{8}_[a-z0-9]{8}$`)
	executionIDPattern = regexp.MustCompile(`^exec_[0-9]{14}_[a-z0-9]{8}$`)
)

func hexSuffix(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

// NewSessionID generates an id of the form sess_<YYYYMMDD>_<8hex>.
func NewSessionID(now time.Time) string {
	return "sess_" + now.UTC().Format("20060102") + "_" + hexSuffix(8)
}

// NewExecutionID generates an id of the form exec_<YYYYMMDDHHMMSS>_<8hex>.
func NewExecutionID(now time.Time) string {
	return "exec_" + now.UTC().Format("20060102150405") + "_" + hexSuffix(8)
}

// ValidSessionID reports whether id matches the session id format.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// ValidExecutionID reports whether id matches the execution id format.
func ValidExecutionID(id string) bool {
	return executionIDPattern.MatchString(id)
}
