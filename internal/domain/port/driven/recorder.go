package driven

// Recorder receives operational counters. Implementations must be safe for
// concurrent use.
type Recorder interface {
	PageFetched(resource string)
	Retried(target, reason string)
	TokenRefreshed(outcome string)
	RowsWritten(n int)
	RunFinished(kind string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) PageFetched(string) {}
func (NopRecorder) Retried(string, string) {}
func (NopRecorder) TokenRefreshed(string) {}
func (NopRecorder) RowsWritten(int) {}
func (NopRecorder) RunFinished(string) {}
