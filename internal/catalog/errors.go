package catalog

// TaggedError carries a failure-ledger reason tag alongside the underlying
// error, so task code can classify a failure where it happens.
type TaggedError struct {
	Reason string
	Err    error
}

func (e *TaggedError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *TaggedError) Unwrap() error {
	return e.Err
}

// Tag wraps err with a ledger reason. A nil err stays nil.
func Tag(reason string, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Reason: reason, Err: err}
}
