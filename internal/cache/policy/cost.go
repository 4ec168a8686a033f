package policy

import (
	"math"
	"time"
)

// cost is the pomai_cost policy: admission and eviction both score
// candidates with a benefit function (miss cost + reuse probability
// minus memory and risk penalties) and rate-limit each direction to a
// per-second budget.
type cost struct {
	params Params

	windowStart        time.Time
	admissionsInWindow uint64
	evictionsInWindow  uint64
}

func NewCost() Policy {
	return &cost{params: DefaultParams(), windowStart: time.Now()}
}

func (p *cost) Name() string          { return "pomai_cost" }
func (p *cost) OnInsert(string, EntryView) {}
func (p *cost) OnAccess(string, EntryView) {}
func (p *cost) OnErase(string)             {}
func (p *cost) SetParams(params Params)    { p.params = params }
func (p *cost) Params() Params             { return p.params }

func (p *cost) refreshWindow() {
	now := time.Now()
	if now.Sub(p.windowStart) >= time.Second {
		p.windowStart = now
		p.admissionsInWindow = 0
		p.evictionsInWindow = 0
	}
}

func (p *cost) ShouldAdmit(c Candidate) bool {
	p.refreshWindow()
	if p.admissionsInWindow >= p.params.MaxAdmissionsPerSecond {
		return false
	}
	b := p.benefit(c.Entry, c.MissCost)
	if b <= p.params.AdmitThreshold {
		return false
	}
	p.admissionsInWindow++
	return true
}

func (p *cost) PickVictim(entries map[string]EntryView, memoryUsed, memoryLimit uint64) (string, bool) {
	p.refreshWindow()
	if p.evictionsInWindow >= p.params.MaxEvictionsPerSecond {
		return "", false
	}
	if len(entries) == 0 {
		return "", false
	}
	if memoryLimit > 0 && float64(memoryUsed) < float64(memoryLimit)*p.params.EvictPressure {
		return "", false
	}

	var victim string
	worst := math.Inf(1)
	first := true
	for k, e := range entries {
		// Victim scoring always evaluates with miss_cost pinned to 1,
		// independent of the entry's real owner.
		score := p.benefit(e, 1.0)
		if first || score < worst || (score == worst && k < victim) {
			worst, victim, first = score, k, false
		}
	}
	p.evictionsInWindow++
	return victim, true
}

func (p *cost) benefit(e EntryView, missCost float64) float64 {
	now := time.Now()
	ageS := now.Sub(e.LastAccess).Seconds()
	if ageS < 1.0 {
		ageS = 1.0
	}
	pReuse := (float64(e.HitCount) + 1.0) / (ageS + 1.0)
	if pReuse > 1.0 {
		pReuse = 1.0
	}
	memCost := float64(e.SizeBytes)/1024.0 + float64(e.SizeBytes%64)*0.01
	risk := 0.0
	if e.SizeBytes > 256*1024 {
		risk += 1.0
	}
	if ageS < 1.0 {
		risk += 0.5
	}
	return p.params.WMiss*missCost + p.params.WReuse*pReuse - p.params.WMem*memCost - p.params.WRisk*risk
}
