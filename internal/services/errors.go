package services

import "errors"

// Domain errors surfaced to handlers as 400-level responses.
var (
	// ErrNoOptionsSelected is returned when a submission requests no
	// modification at all.
	ErrNoOptionsSelected = errors.New("at least one modification must be selected")

	// ErrNotAnExpert is returned when assigning a file to a user who does
	// not hold the expert role.
	ErrNotAnExpert = errors.New("assignee is not an expert")

	// ErrMissingModifiedFile is returned when completing a file without a
	// processed binary attached.
	ErrMissingModifiedFile = errors.New("modified file is missing")

	// ErrIllegalTransition is returned when a status change does not follow
	// the workflow transition table and force was not requested.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrFileClosed is returned when changing a file that already reached a
	// terminal workflow state.
	ErrFileClosed = errors.New("file is closed")

	// ErrEmptyComment is returned when a comment carries neither text nor
	// an image.
	ErrEmptyComment = errors.New("comment needs text or an image")

	// ErrMissingUpload is returned when a submission carries no binary.
	ErrMissingUpload = errors.New("file upload is required")

	// ErrForbidden is returned when the actor may not access the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidStatus is returned for unknown workflow or invoice states.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidAmount is returned for non-positive credit amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrPaymentDeclined is returned when the payment gateway does not
	// approve a charge.
	ErrPaymentDeclined = errors.New("payment declined")
)
