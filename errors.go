package rdns

// resolverError is the error type delivered to a Callback alongside a synthetic rcode. Callers that
// want the rcode programmatically rather than by string matching can type-assert the error to
// interface{ Rcode() int }. Such an error is always delivered with a nil Reply.
type resolverError struct {
	rcode int
	msg   string
}

func (e *resolverError) Error() string { return e.msg }
func (e *resolverError) Rcode() int    { return e.rcode }

func errNetErr(msg string) error {
	return &resolverError{rcode: RcodeNetErr, msg: "rdns: " + msg}
}

func errTimeout(msg string) error {
	return &resolverError{rcode: RcodeTimeout, msg: "rdns: " + msg}
}

func errServFail(msg string) error {
	return &resolverError{rcode: RcodeServFail, msg: "rdns: " + msg}
}
