// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// services and handlers to distinguish between different failure
// scenarios without inspecting driver errors.
package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// ErrLeaveNotFound covers a missing leave as well as a leave that is not
// owned by the caller or is in the wrong status.  The cases are
// intentionally indistinguishable to the caller.
var ErrLeaveNotFound = errors.New("leave not found")

// ErrMessNotFound is returned when no mess matches the lookup.
var ErrMessNotFound = errors.New("mess not found")

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrOverlappingLeave signals that a leave's date range intersects another
// scheduled or active leave of the same mess.
var ErrOverlappingLeave = errors.New("leave overlaps an existing leave")

// OverlapError carries the leaves that blocked a new leave.  It matches
// ErrOverlappingLeave with errors.Is.
type OverlapError struct {
	Overlaps []model.Leave
}

func (e *OverlapError) Error() string {
	ids := make([]string, 0, len(e.Overlaps))
	for _, l := range e.Overlaps {
		ids = append(ids, fmt.Sprint(l.ID))
	}
	return fmt.Sprintf("%s (ids: %s)", ErrOverlappingLeave, strings.Join(ids, ","))
}

// Is lets errors.Is(err, ErrOverlappingLeave) succeed for *OverlapError.
func (e *OverlapError) Is(target error) bool { return target == ErrOverlappingLeave }
