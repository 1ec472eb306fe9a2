package install

// ProgressSink receives progress events from an install batch. Callers
// supply their own implementation (a TUI, a plain log, or a test spy); the
// orchestrator never renders anything itself.
type ProgressSink interface {
	// OnLog reports an informational line.
	OnLog(line string)

	// OnProgress reports progress within the content currently streaming:
	// percentOfCurrent is 0..100 of that content, bytesDone/bytesTotal are
	// its bytes copied so far and its total size.
	OnProgress(percentOfCurrent float64, bytesDone, bytesTotal int64)

	// OnCIAStart announces that title index (0-based, in caller-supplied
	// order) has begun installing.
	OnCIAStart(index int)

	// OnError reports a non-fatal, per-title error; the batch continues
	// with the next title.
	OnError(err error)
}

// NopSink discards every event. The zero value is ready to use.
type NopSink struct{}

func (NopSink) OnLog(string)                                 {}
func (NopSink) OnProgress(percent float64, done, total int64) {}
func (NopSink) OnCIAStart(index int)                          {}
func (NopSink) OnError(err error)                             {}
