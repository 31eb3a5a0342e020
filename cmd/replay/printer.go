package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/ekyc/internal/capture"
	"github.com/saturnino-fabrica-de-software/ekyc/internal/domain"
)

// printer writes one line per phase change and per verification outcome.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time
	last  domain.Phase
}

func newPrinter(out io.Writer, start time.Time) *printer {
	return &printer{out: out, start: start}
}

func (p *printer) state(s capture.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Phase == p.last {
		return
	}
	p.last = s.Phase
	fmt.Fprintf(p.out, "%8s  %-28s retry=%d  %s\n", p.elapsed(), s.Phase, s.RetryCount, s.Status)
}

func (p *printer) outcome(o capture.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := "pass"
	if !o.Passed {
		result = "fail"
	}
	if o.Err != nil {
		result = "error: " + o.Err.Error()
	}
	fmt.Fprintf(p.out, "%8s  %-28s #%d %s (%s)\n", p.elapsed(), o.Kind, o.Number, result, o.Latency.Round(time.Millisecond))
}

func (p *printer) elapsed() string {
	return time.Since(p.start).Round(10 * time.Millisecond).String()
}
