package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrReminderNotFound       = &AppError{Code: "REM_001", Message: "reminder not found"}
	ErrReminderInvalid        = &AppError{Code: "REM_002", Message: "invalid reminder"}
	ErrInvalidTimeOfDay       = &AppError{Code: "REM_003", Message: "time of day must be HH:MM in 24-hour form"}
	ErrTimesFrequencyMismatch = &AppError{Code: "REM_004", Message: "times of day do not match frequency"}

	ErrDoseLogWrite = &AppError{Code: "DOSE_001", Message: "failed to write dose log entry"}
	ErrDoseNotFound = &AppError{Code: "DOSE_002", Message: "dose log entry not found"}

	ErrAlarmNotOpen    = &AppError{Code: "ALARM_001", Message: "no open alarm for that reminder and time"}
	ErrAlarmNotRinging = &AppError{Code: "ALARM_002", Message: "alarm is not ringing"}
	ErrEngineStopped   = &AppError{Code: "ALARM_003", Message: "alarm engine is not running"}

	ErrChannelUnavailable = &AppError{Code: "CHAN_001", Message: "alert channel unavailable"}

	ErrAssistantDisabled    = &AppError{Code: "ASSIST_001", Message: "assistant is not configured"}
	ErrAssistantUnavailable = &AppError{Code: "ASSIST_002", Message: "assistant provider unavailable"}

	ErrUnauthorized   = &AppError{Code: "AUTH_001", Message: "unauthorized"}
	ErrForbidden      = &AppError{Code: "AUTH_002", Message: "forbidden"}
	ErrUserExists     = &AppError{Code: "AUTH_003", Message: "user already exists"}
	ErrBadCredentials = &AppError{Code: "AUTH_004", Message: "invalid username or password"}

	ErrPairCodeInvalid = &AppError{Code: "DEV_001", Message: "pairing code invalid or expired"}
	ErrDeviceNotFound  = &AppError{Code: "DEV_002", Message: "device not found"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
