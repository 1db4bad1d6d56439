package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13999: Submission, Queue & Checker errors
// 14000-14999: Round & Ranking errors
// 16000-16999: Permission errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	Unauthorized        ErrorCode = 10004
	ServiceUnavailable  ErrorCode = 10007

	// Database errors (10100-10199)
	DatabaseError ErrorCode = 10100

	// Lock errors (10200-10299)
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300

	// ========== Submission, Queue & Checker Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	InvalidReference       ErrorCode = 13006
	AlreadyTerminal        ErrorCode = 13007
	InvalidVerdict         ErrorCode = 13008

	// Queue & checker (13100-13199)
	JudgeSystemError ErrorCode = 13101
	ClaimExpired     ErrorCode = 13110
	UnknownChecker   ErrorCode = 13111
	CheckerCrash     ErrorCode = 13112

	// ========== Round & Ranking Errors (14000-14999) ==========

	// Round (14000-14099)
	RoundNotFound   ErrorCode = 14000
	RoundNotStarted ErrorCode = 14001
	RoundEnded      ErrorCode = 14002
	RoundCycle      ErrorCode = 14006

	// Ranking (14200-14299)
	RankingNotAvailable ErrorCode = 14200

	// ========== Permission Errors (16000-16999) ==========

	PermissionDenied ErrorCode = 16000
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	Unauthorized:        "Unauthorized access",
	ServiceUnavailable:  "Service temporarily unavailable",

	DatabaseError: "Database operation failed",

	LockFailed: "Failed to acquire lock",

	ValidationFailed: "Validation failed",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	InvalidReference:       "Submission references an unknown or inaccessible user, round or task",
	AlreadyTerminal:        "Submission has already been judged",
	InvalidVerdict:         "Verdict status and points are inconsistent",

	JudgeSystemError: "Judge system error",
	ClaimExpired:     "Judge claim expired or was taken over",
	UnknownChecker:   "Checker is not registered",
	CheckerCrash:     "Checker failed to produce a verdict",

	RoundNotFound:   "Round not found",
	RoundNotStarted: "Round has not started yet",
	RoundEnded:      "Round has ended",
	RoundCycle:      "Round tree contains a cycle",

	RankingNotAvailable: "Ranking is hidden until the full judge time",

	PermissionDenied: "Permission denied",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == RoundNotStarted, c == RoundEnded, c == RankingNotAvailable, c >= 16000 && c < 16100:
		return 403
	case c == SubmissionNotFound, c == RoundNotFound:
		return 404
	case c == AlreadyTerminal, c == ClaimExpired:
		return 409
	case c == InvalidReference, c == InvalidParams, c >= 10300 && c < 10400:
		return 400
	case c == ServiceUnavailable:
		return 503
	default:
		return 500
	}
}
