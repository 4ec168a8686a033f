package policy

// lfu evicts the entry with the lowest hit count, breaking ties first by
// LastAccess then lexicographically by key.
type lfu struct {
	params Params
}

func NewLFU() Policy {
	return &lfu{params: DefaultParams()}
}

func (p *lfu) Name() string             { return "lfu" }
func (p *lfu) ShouldAdmit(Candidate) bool { return true }
func (p *lfu) OnInsert(string, EntryView) {}
func (p *lfu) OnAccess(string, EntryView) {}
func (p *lfu) OnErase(string)             {}
func (p *lfu) SetParams(params Params)    { p.params = params }
func (p *lfu) Params() Params             { return p.params }

func (p *lfu) PickVictim(entries map[string]EntryView, _, _ uint64) (string, bool) {
	if len(entries) == 0 {
		return "", false
	}
	var victim string
	var victimEntry EntryView
	first := true
	for k, e := range entries {
		if first || less(e, k, victimEntry, victim) {
			victim, victimEntry, first = k, e, false
		}
	}
	return victim, true
}

func less(a EntryView, aKey string, b EntryView, bKey string) bool {
	if a.HitCount != b.HitCount {
		return a.HitCount < b.HitCount
	}
	if !a.LastAccess.Equal(b.LastAccess) {
		return a.LastAccess.Before(b.LastAccess)
	}
	return aKey < bKey
}
