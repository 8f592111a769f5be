// Package outcome defines the fixed taxonomy of job outcome codes
// reported by workers and consumed by the pulse tracker,
// the job report ledger and the oozer's rate control.
package outcome

import "fmt"

// Code is a coarse classification of how a unit of work ended.
type Code int

const (
	// Success means the job completed and its data was stored.
	Success Code = iota
	// UserThrottle is rate limiting attributed to the crawled user/parent scope.
	// This is the only bucket that feeds the oozer's proportional controller.
	UserThrottle
	// AppThrottle is application-level rate limiting by the external source.
	AppThrottle
	// AccountThrottle is account-level rate limiting by the external source.
	AccountThrottle
	// TooMuchData means the source refused the request as too large,
	// a signal to break the job down into per-child jobs.
	TooMuchData
	// Timeout means the worker gave up waiting on the external source.
	Timeout
	// Other covers all remaining failures.
	Other
	// StillWorking is a progress heartbeat for long-running jobs, not terminal.
	StillWorking
)

var names = map[Code]string{
	Success:         "success",
	UserThrottle:    "user_throttle",
	AppThrottle:     "app_throttle",
	AccountThrottle: "account_throttle",
	TooMuchData:     "too_much_data",
	Timeout:         "timeout",
	Other:           "other",
	StillWorking:    "still_working",
}

// Codes lists all outcome codes in a stable order.
var Codes = []Code{
	Success,
	UserThrottle,
	AppThrottle,
	AccountThrottle,
	TooMuchData,
	Timeout,
	Other,
	StillWorking,
}

func (c Code) String() string {
	name, ok := names[c]
	if !ok {
		return fmt.Sprintf("outcome(%d)", int(c))
	}
	return name
}

// ParseCode is the inverse of String.
func ParseCode(s string) (Code, error) {
	for code, name := range names {
		if name == s {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome code: %q", s)
}

// Terminal reports whether the code ends a job
// as opposed to a progress heartbeat.
func (c Code) Terminal() bool {
	return c != StillWorking
}

// Failure reports whether the code counts against the job's history.
func (c Code) Failure() bool {
	return c.Terminal() && c != Success
}

// Throttle reports whether the code is any kind of rate limiting.
func (c Code) Throttle() bool {
	switch c {
	case UserThrottle, AppThrottle, AccountThrottle:
		return true
	}
	return false
}
