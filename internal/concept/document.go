package concept

import "time"

// Document is the current-state projection of a session's memory: the
// concept identity plus every discovered entity. It is derived by
// folding the session event log and is never mutated in place by
// callers; the memory store produces a fresh copy per projection.
type Document struct {
	// Name is the working name of the concept.
	Name string `json:"name"`

	// Description is the core value proposition.
	Description string `json:"description"`

	Stakeholders []Stakeholder `json:"stakeholders"`
	Stories      []Story       `json:"stories"`
	Challenges   []Challenge   `json:"challenges"`
	Enhancements []Enhancement `json:"enhancements"`

	// OrgComplexity is the caller-assessed organizational complexity
	// indicator in [0,1].
	OrgComplexity float64 `json:"org_complexity"`

	// TechComplexity is the caller-assessed technical complexity
	// indicator in [0,1].
	TechComplexity float64 `json:"tech_complexity"`

	// Urgency is the declared urgency of the engagement.
	Urgency Urgency `json:"urgency"`

	// UpdatedAt is when the projection last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// StakeholderByID returns the stakeholder with the given ID, or nil.
func (d *Document) StakeholderByID(id string) *Stakeholder {
	for i := range d.Stakeholders {
		if d.Stakeholders[i].ID == id {
			return &d.Stakeholders[i]
		}
	}
	return nil
}

// StoriesFor returns the stories referencing the given stakeholder.
func (d *Document) StoriesFor(stakeholderID string) []Story {
	var out []Story
	for _, s := range d.Stories {
		if s.StakeholderID == stakeholderID {
			out = append(out, s)
		}
	}
	return out
}

// ConfirmedStories returns the stories whose narrative the caller has
// explicitly confirmed.
func (d *Document) ConfirmedStories() []Story {
	var out []Story
	for _, s := range d.Stories {
		if s.Confirmed {
			out = append(out, s)
		}
	}
	return out
}

// ResolvedChallenges returns the challenges with non-empty resolutions.
func (d *Document) ResolvedChallenges() []Challenge {
	var out []Challenge
	for _, c := range d.Challenges {
		if c.Resolved() {
			out = append(out, c)
		}
	}
	return out
}

// CoreStories returns up to three confirmed stories belonging to
// primary stakeholders, the narrative backbone recorded in checkpoints.
func (d *Document) CoreStories() []Story {
	var out []Story
	for _, s := range d.ConfirmedStories() {
		sh := d.StakeholderByID(s.StakeholderID)
		if sh != nil && sh.Tier == TierPrimary {
			out = append(out, s)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}

// MaturityScore rates concept development completeness in [0,1].
//
// Weighting: stakeholder coverage 40%, challenge resolution 30%,
// enhancement opportunities 20%, confirmed-story depth 10%.
func (d *Document) MaturityScore() float64 {
	score := 0.0

	switch n := len(d.Stakeholders); {
	case n >= 3:
		score += 0.4
	case n == 2:
		score += 0.3
	case n == 1:
		score += 0.2
	}

	switch n := len(d.ResolvedChallenges()); {
	case n >= 3:
		score += 0.3
	case n == 2:
		score += 0.2
	case n == 1:
		score += 0.1
	}

	switch n := len(d.Enhancements); {
	case n >= 2:
		score += 0.2
	case n == 1:
		score += 0.1
	}

	switch n := len(d.ConfirmedStories()); {
	case n >= 2:
		score += 0.1
	case n == 1:
		score += 0.05
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// PRDReadiness rates readiness for downstream requirement generation
// in [0,1]: confirmed stories 30%, resolved challenges 30%,
// enhancement vision 20%, overall maturity 20%.
func (d *Document) PRDReadiness() float64 {
	readiness := 0.0

	if len(d.ConfirmedStories()) >= 2 {
		readiness += 0.3
	}
	if len(d.ResolvedChallenges()) >= 2 {
		readiness += 0.3
	}
	if len(d.Enhancements) >= 1 {
		readiness += 0.2
	}
	if d.MaturityScore() >= 0.7 {
		readiness += 0.2
	}

	if readiness > 1.0 {
		readiness = 1.0
	}
	return readiness
}

// Clone returns a deep copy of the document. The memory store hands
// clones to callers so a projection can never alias live state.
func (d *Document) Clone() *Document {
	out := *d
	out.Stakeholders = cloneSlice(d.Stakeholders, func(s Stakeholder) Stakeholder {
		s.PainPoints = append([]string(nil), s.PainPoints...)
		s.Goals = append([]string(nil), s.Goals...)
		return s
	})
	out.Stories = cloneSlice(d.Stories, func(s Story) Story {
		s.PainPoints = append([]string(nil), s.PainPoints...)
		s.SuccessIndicators = append([]string(nil), s.SuccessIndicators...)
		return s
	})
	out.Challenges = cloneSlice(d.Challenges, func(c Challenge) Challenge {
		c.AffectedStakeholders = append([]string(nil), c.AffectedStakeholders...)
		return c
	})
	out.Enhancements = append([]Enhancement(nil), d.Enhancements...)
	return &out
}

func cloneSlice[T any](in []T, fix func(T) T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = fix(v)
	}
	return out
}
