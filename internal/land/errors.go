package land

import "fmt"

// Join error codes. These are stable wire codes, not display strings.
const (
	JoinCodeRoomFull       = "roomFull"
	JoinCodeUnauthorized   = "unauthorized"
	JoinCodeLandNotFound   = "landNotFound"
	JoinCodeDuplicateLogin = "duplicateLogin"
)

// JoinError is a typed join rejection. The session stays open; the client
// may retry with different parameters.
type JoinError struct {
	Code    string
	Message string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("join rejected (%s): %s", e.Code, e.Message)
}

// ErrRoomFull rejects a join because the land is at capacity.
func ErrRoomFull() *JoinError {
	return &JoinError{Code: JoinCodeRoomFull, Message: "land is full"}
}

// ErrUnauthorized rejects a join on identity grounds.
func ErrUnauthorized(msg string) *JoinError {
	if msg == "" {
		msg = "not authorized to join"
	}
	return &JoinError{Code: JoinCodeUnauthorized, Message: msg}
}

// ErrLandNotFound rejects a join naming a missing instance.
func ErrLandNotFound(id string) *JoinError {
	return &JoinError{Code: JoinCodeLandNotFound, Message: fmt.Sprintf("no land instance %q", id)}
}

// CustomJoinError builds a user-defined join rejection.
func CustomJoinError(code, msg string) *JoinError {
	return &JoinError{Code: code, Message: msg}
}

// Dispatch error codes for actions and events.
const (
	DispatchCodeUnknownAction = "unknownAction"
	DispatchCodeDecodeFailed  = "decodeFailed"
	DispatchCodeHandlerError  = "handlerError"
	DispatchCodeTimeout       = "timeout"
	DispatchCodeLandClosed    = "landClosed"
)

// DispatchError is the typed failure an action returns in its response.
// The session stays open; subsequent actions proceed normally.
type DispatchError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed (%s): %s", e.Code, e.Message)
}

func errUnknownAction(typeIdent string) *DispatchError {
	return &DispatchError{Code: DispatchCodeUnknownAction, Message: fmt.Sprintf("no action %q", typeIdent)}
}

func errDecodeFailed(typeIdent string, err error) *DispatchError {
	return &DispatchError{Code: DispatchCodeDecodeFailed, Message: fmt.Sprintf("decoding %q: %v", typeIdent, err)}
}

func errHandlerError(err error) *DispatchError {
	return &DispatchError{Code: DispatchCodeHandlerError, Message: err.Error()}
}

func errTimeout() *DispatchError {
	return &DispatchError{Code: DispatchCodeTimeout, Message: "action deadline exceeded", Retryable: true}
}

func errLandClosed() *DispatchError {
	return &DispatchError{Code: DispatchCodeLandClosed, Message: "land is retired", Retryable: false}
}

// Terminal close codes pushed through Sink.Kick.
const (
	KickCodeInternal       = 1011 // unrecoverable tick failure
	KickCodeRetired        = 4000 // land retired while session attached
	KickCodeDuplicateLogin = 4002 // single-login enforcement
)
