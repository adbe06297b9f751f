package features

import (
	"sync"
	"time"

	"shen/internal/domain"
	gen "shen/internal/utils/generator"
)

// ackThreshold is the violation count at which the blocking acknowledgment
// prompt is raised. The prompt fires on the second tab switch and every
// one after it.
const ackThreshold = 2

// ProctorMonitor records page-visibility violations for one session. It
// only records; it cannot fail the interview. The warning list is consumed
// by the scoring side.
type ProctorMonitor struct {
	mu         sync.Mutex
	sessionID  string
	violations int
	warnings   []domain.Warning
}

func NewProctorMonitor(sessionID string) *ProctorMonitor {
	return &ProctorMonitor{sessionID: sessionID}
}

// RecordHidden registers one transition to hidden. It returns the appended
// warning and whether the acknowledgment prompt should be raised.
func (p *ProctorMonitor) RecordHidden(at time.Time) (domain.Warning, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.violations++
	warning := domain.Warning{
		ID:        gen.GenerateUUID(),
		SessionID: p.sessionID,
		Kind:      domain.WarningTabSwitch,
		Message:   "Candidate switched away from the interview tab",
		Timestamp: at,
	}
	p.warnings = append(p.warnings, warning)

	return warning, p.violations >= ackThreshold
}

// Violations returns the current violation count.
func (p *ProctorMonitor) Violations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.violations
}

// Warnings returns a copy of the warning list in recording order.
func (p *ProctorMonitor) Warnings() []domain.Warning {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Warning, len(p.warnings))
	copy(out, p.warnings)
	return out
}
