package transfer

// percent computes done/total as a rounded integer percentage capped at 100.
// The declared total is advisory: overshooting it is not an error.
func percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := (done*100 + total/2) / total
	if p > 100 {
		return 100
	}
	return int(p)
}

// progress suppresses duplicate or decreasing progress notifications.
type progress struct {
	last int
	fn   ProgressFunc
}

func newProgress(fn ProgressFunc) *progress {
	return &progress{last: -1, fn: fn}
}

// update returns the percentage to report, or -1 if nothing changed.
func (p *progress) update(done, total int64) int {
	pct := percent(done, total)
	if pct <= p.last {
		return -1
	}
	p.last = pct
	return pct
}

// report calls fn with pct when pct is a real update.
func (p *progress) report(pct int) {
	if pct >= 0 && p.fn != nil {
		p.fn(pct)
	}
}
