package transfer

// ProgressFunc receives a snapshot of transfer progress after every object
// Push sends and every blob Pull fetches. It must return quickly; slow callbacks delay the transfer.
type ProgressFunc func(Progress)

// Progress is a point-in-time transfer progress snapshot, reported without
// altering wire semantics: it is derived purely from the client's own
// accounting of what it has sent so far (supplemented from the command
// handlers in the original implementation's cli_exec/delivery, which print
// running totals as publish/sync proceed).
type Progress struct {
	ObjectsTotal int
	ObjectsSent  int
	BytesSent    int64
}

type progressTracker struct {
	report ProgressFunc
	total  int
	sent   int
	bytes  int64
}

func newProgress(report ProgressFunc, total int) *progressTracker {
	return &progressTracker{report: report, total: total}
}

func (p *progressTracker) advance(n int64) {
	if p == nil {
		return
	}
	p.sent++
	p.bytes += n
	if p.report != nil {
		p.report(Progress{ObjectsTotal: p.total, ObjectsSent: p.sent, BytesSent: p.bytes})
	}
}
