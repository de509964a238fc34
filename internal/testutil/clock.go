package testutil

import (
	"strconv"
	"sync/atomic"
	"time"

	"geosync/internal/geosync"
)

// SurveyTime is the instant every FixedClock reports.
var SurveyTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return SurveyTime }

// FixedClock returns a clock stopped at SurveyTime.
func FixedClock() geosync.Clock {
	return fixedClock{}
}

// ScratchIDs names scratch files "scratch-1", "scratch-2", ... in call order.
type ScratchIDs struct {
	n atomic.Int64
}

var _ geosync.IDGenerator = (*ScratchIDs)(nil)

func NewStubIDGenerator() *ScratchIDs {
	return &ScratchIDs{}
}

func (g *ScratchIDs) New() string {
	return "scratch-" + strconv.FormatInt(g.n.Add(1), 10)
}
