package policy

// lru evicts the entry with the oldest LastAccess, breaking ties
// lexicographically by key so victim selection stays deterministic.
type lru struct {
	params Params
}

func NewLRU() Policy {
	return &lru{params: DefaultParams()}
}

func (p *lru) Name() string                        { return "lru" }
func (p *lru) ShouldAdmit(Candidate) bool           { return true }
func (p *lru) OnInsert(string, EntryView)           {}
func (p *lru) OnAccess(string, EntryView)           {}
func (p *lru) OnErase(string)                       {}
func (p *lru) SetParams(params Params)              { p.params = params }
func (p *lru) Params() Params                       { return p.params }

func (p *lru) PickVictim(entries map[string]EntryView, _, _ uint64) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}
	var victim string
	var victimEntry EntryView
	first := true
	for k, e := range entries {
		if first || e.LastAccess.Before(victimEntry.LastAccess) ||
			(e.LastAccess.Equal(victimEntry.LastAccess) && k < victim) {
			victim, victimEntry, first = k, e, false
		}
	}
	return victim, true
}
