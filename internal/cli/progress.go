package cli

import (
	"fmt"
	"strings"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

const progressBarWidth = 30

// progressLine renders run progress. On a terminal the line is redrawn in
// place; otherwise a line is written at every tenth of the run.
type progressLine struct {
	p        *printer
	lastStep int
	drawn    bool
}

func newProgressLine(p *printer) *progressLine {
	return &progressLine{p: p, lastStep: -1}
}

func (l *progressLine) update(s domain.ProgressSnapshot) {
	if l.p.live {
		l.p.printf("\r  %s", l.render(s))
		l.drawn = true
		return
	}
	step := s.Percent() / 10
	if step == l.lastStep && !s.Finished() {
		return
	}
	l.lastStep = step
	l.p.printf("  %s\n", l.render(s))
}

// finish ends a redrawn line so following output starts on its own line.
func (l *progressLine) finish() {
	if l.drawn {
		l.p.printf("\n")
		l.drawn = false
	}
}

func (l *progressLine) render(s domain.ProgressSnapshot) string {
	filled := progressBarWidth
	if s.Total > 0 {
		filled = min(s.Done()*progressBarWidth/s.Total, progressBarWidth)
	}
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", progressBarWidth-filled)

	line := "[" + bar + "] " + progressLabel(s)
	if s.Current != "" && !s.Finished() {
		line += " " + l.p.dim(s.Current)
	}
	return line
}

func progressLabel(s domain.ProgressSnapshot) string {
	return fmt.Sprintf("%d/%d  sent %d  failed %d", s.Done(), s.Total, s.Sent, s.Failed)
}
