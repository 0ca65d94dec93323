package session

import (
	"context"
	"errors"

	"ojdriver/internal/sandbox"
	appErr "ojdriver/pkg/errors"
)

// Verdict is the final outcome of a session.
type Verdict string

const (
	VerdictOK  Verdict = "OK"
	VerdictIE  Verdict = "IE"
	VerdictCB  Verdict = "CB"
	VerdictTLE Verdict = "TLE"
	VerdictMLE Verdict = "MLE"
	VerdictSE  Verdict = "SE"
)

// memoryNearLimit is the share of the memory limit, in percent, above which
// a failing process is taken to have run out of memory.
const memoryNearLimit = 90

// Classify maps the error of a session and the final status of its process
// to a verdict. Resource limits win over the protocol error they caused.
func Classify(err error, st sandbox.Status, limits sandbox.Limits) Verdict {
	if st.TimedOut || st.CPUExceeded {
		return VerdictTLE
	}
	if limits.CPUTimeMs > 0 && st.Usage.TimeMs >= limits.CPUTimeMs {
		return VerdictTLE
	}
	failed := err != nil || st.State == sandbox.Signaled
	if failed && limits.MemoryMB > 0 && st.Usage.PeakKB*100 >= limits.MemoryMB*1024*memoryNearLimit {
		return VerdictMLE
	}
	if err == nil {
		return VerdictOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return VerdictTLE
	}
	switch appErr.GetCode(err) {
	case appErr.InterfaceError, appErr.UnresolvedValue, appErr.IndexOutOfBounds, appErr.DriverStopped:
		return VerdictIE
	case appErr.CommunicationBroken:
		return VerdictCB
	case appErr.SessionTimeout, appErr.StepLimitExceeded:
		return VerdictTLE
	default:
		return VerdictSE
	}
}
