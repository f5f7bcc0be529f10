package annotation

import "errors"

var (
	ErrEmptySelection   = errors.New("select some text to comment on")
	ErrAlreadyAnnotated = errors.New("selected text already has a comment")
	ErrEmptyText        = errors.New("comment text is empty")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrNoPendingComment = errors.New("no comment is being added")
	ErrPersist          = errors.New("persist comments")
)

// ValidationError is a rejected command. Nothing was changed.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a rejected command.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
