package kiosksim

// Refusals the service reports for a well-formed attempt.
const (
	codeDuplicateAttendance = "duplicate_attendance"
	codeVerificationFailed  = "verification_failed"
)

// Kiosk step names used in attempts and logs.
const (
	stepReset    = "reset"
	stepIdentify = "identify"
	stepVerify   = "verify"
	stepSign     = "sign"
	stepConfirm  = "confirm"
	stepCommit   = "commit"
)

const (
	// ChefHeader names the chef opening the session.
	ChefHeader = "X-Chef-ID"

	queueMultiplier      = 2
	percentageMultiplier = 100
)
