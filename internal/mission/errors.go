package mission

import "github.com/pkg/errors"

// Errors shared by everything that builds, uploads or flies a mission.
// Callers compare with errors.Is; the values are usually wrapped with
// context.
var (
	ErrNullMission        = errors.New("no mission loaded")
	ErrInvalidMission     = errors.New("invalid mission")
	ErrUploadingWaypoint  = errors.New("uploading waypoints failed")
	ErrMissionFailed      = errors.New("operation not allowed in current state")
	ErrTakeoffFailed      = errors.New("takeoff failed")
	ErrLandingFailed      = errors.New("landing failed")
	ErrExecutionCancelled = errors.New("mission execution cancelled")
)

type failure struct {
	kind  error
	cause error
}

// Failed attributes cause to kind: the result matches both with errors.Is
// and its message reads "<kind>: <cause>".
func Failed(kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &failure{kind: kind, cause: cause}
}

func (f *failure) Error() string        { return f.kind.Error() + ": " + f.cause.Error() }
func (f *failure) Is(target error) bool { return target == f.kind }
func (f *failure) Unwrap() error        { return f.cause }
func (f *failure) Cause() error         { return f.cause }
