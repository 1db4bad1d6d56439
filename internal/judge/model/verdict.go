package model

import (
	appErr "simoj/pkg/errors"
)

// Verdict is the outcome of judging a submission.
// ok carries points >= 0, error carries 0, c_error carries none.
type Verdict struct {
	Status Status
	Points *int64
	// Reason is a short diagnostic for logs; it is not persisted.
	Reason string
}

// Accepted builds an ok verdict worth points.
func Accepted(points int64) Verdict {
	return Verdict{Status: StatusOK, Points: &points}
}

// Rejected builds a judged failure worth zero points.
func Rejected(reason string) Verdict {
	zero := int64(0)
	return Verdict{Status: StatusError, Points: &zero, Reason: reason}
}

// CheckerFailed builds a c_error verdict.
func CheckerFailed(reason string) Verdict {
	return Verdict{Status: StatusCError, Reason: reason}
}

// Validate enforces the status/points pairing.
func (v Verdict) Validate() error {
	switch v.Status {
	case StatusOK:
		if v.Points == nil || *v.Points < 0 {
			return appErr.New(appErr.InvalidVerdict).WithMessage("ok verdict requires non-negative points")
		}
	case StatusError:
		if v.Points == nil || *v.Points != 0 {
			return appErr.New(appErr.InvalidVerdict).WithMessage("error verdict requires zero points")
		}
	case StatusCError:
		if v.Points != nil {
			return appErr.New(appErr.InvalidVerdict).WithMessage("c_error verdict carries no points")
		}
	default:
		return appErr.Newf(appErr.InvalidVerdict, "status %q is not a verdict", v.Status)
	}
	return nil
}
