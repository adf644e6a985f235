package dispatcher

import "fmt"

// apiError is a dispatcher-level error carrying both the plain-text SQS
// wire code (per spec.md §7) and the HTTP status to surface it with.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string { return e.body }

func badRequest(msg string) *apiError {
	return &apiError{status: 400, body: msg}
}

func nonExistentQueue(name string) *apiError {
	return &apiError{
		status: 400,
		body:   fmt.Sprintf("AWS.SimpleQueueService.NonExistentQueue; Queue: %s", name),
	}
}

func invalidReceiptHandle(handle string) *apiError {
	return &apiError{
		status: 400,
		body:   fmt.Sprintf("ReceiptHandleIsInvalid; ReceiptHandle: %s", handle),
	}
}

func internalError(err error) *apiError {
	return &apiError{status: 500, body: fmt.Sprintf("InternalError; %v", err)}
}
