package dsr

// transitions lists every legal status edge. Anything else is rejected before
// the request document is touched.
var transitions = map[Status][]Status{
	StatusQueued:         {StatusRunning, StatusCanceled},
	StatusRunning:        {StatusAwaitingReview, StatusSucceeded, StatusFailed, StatusCanceled},
	StatusFailed:         {StatusRunning, StatusQueued},
	StatusCanceled:       {StatusQueued},
	StatusAwaitingReview: {StatusAwaitingReview, StatusReadyToRelease},
	StatusReadyToRelease: {StatusReadyToRelease, StatusReleased},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Runnable reports whether a delivery for a request in this status may start
// a worker. Canceled requests only run again through Retry.
func Runnable(status Status) bool {
	return status == StatusQueued || status == StatusFailed
}

func Retryable(status Status) bool {
	return status == StatusFailed || status == StatusCanceled
}

func Cancelable(status Status) bool {
	return status == StatusQueued || status == StatusRunning
}
