package consensus

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/conceptd/internal/concept"
)

// Built-in producer names, also the keys of weight profiles.
const (
	SourceStructural    = "structural_feasibility"
	SourceHistory       = "historical_success"
	SourceDocumentation = "documentation_consistency"
	SourcePattern       = "pattern_alignment"
	SourceTypeSafety    = "type_safety"
)

// PatternReader is the pattern-store view the history and alignment
// producers consume. Lookup applies consent for the given scope.
type PatternReader interface {
	Lookup(ctx context.Context, fingerprint, scope string) (rate float64, samples int, ok bool, err error)
	Degraded() bool
}

// fingerprint normalizes a concept name to the store's key shape:
// lowercased, whitespace collapsed.
func fingerprint(doc *concept.Document) string {
	return strings.Join(strings.Fields(strings.ToLower(doc.Name)), " ")
}

// DefaultProducers returns the built-in producer set wired to the
// given pattern reader.
func DefaultProducers(patterns PatternReader, minSamples int) []Producer {
	return []Producer{
		&StructuralProducer{},
		&HistoryProducer{Patterns: patterns},
		&DocumentationProducer{},
		&PatternProducer{Patterns: patterns, MinSamples: minSamples},
		&TypeSafetyProducer{},
	}
}

// StructuralProducer scores the structural shape of the concept: named,
// staffed with stakeholders, with confirmed stories behind the primary
// tier and resolutions behind the challenges.
type StructuralProducer struct{}

func (p *StructuralProducer) Name() string { return SourceStructural }

func (p *StructuralProducer) Evaluate(_ context.Context, req *Request) (*Signal, error) {
	doc := req.Doc
	score := 0.0
	var gaps []string

	if doc.Name != "" {
		score += 0.2
	} else {
		gaps = append(gaps, "concept unnamed")
	}
	if len(doc.Stakeholders) > 0 {
		score += 0.2
	} else {
		gaps = append(gaps, "no stakeholders")
	}

	primaries := 0
	covered := 0
	for i := range doc.Stakeholders {
		if doc.Stakeholders[i].Tier != concept.TierPrimary {
			continue
		}
		primaries++
		for j := range doc.Stories {
			if doc.Stories[j].StakeholderID == doc.Stakeholders[i].ID && doc.Stories[j].Confirmed {
				covered++
				break
			}
		}
	}
	if primaries > 0 {
		score += 0.3 * float64(covered) / float64(primaries)
		if covered < primaries {
			gaps = append(gaps, fmt.Sprintf("%d of %d primary stakeholders lack a confirmed story", primaries-covered, primaries))
		}
	} else {
		gaps = append(gaps, "no primary stakeholders")
	}

	if n := len(doc.Challenges); n > 0 {
		score += 0.3 * float64(len(doc.ResolvedChallenges())) / float64(n)
	} else {
		// Untested concepts get half credit here.
		score += 0.15
		gaps = append(gaps, "no challenges raised")
	}

	rationale := "structure is sound"
	if len(gaps) > 0 {
		rationale = strings.Join(gaps, "; ")
	}
	return &Signal{Source: p.Name(), Score: clamp01(score), Rationale: rationale}, nil
}

// HistoryProducer scores against the session's own observed outcomes
// for this concept fingerprint.
type HistoryProducer struct {
	Patterns PatternReader
}

func (p *HistoryProducer) Name() string { return SourceHistory }

func (p *HistoryProducer) Evaluate(ctx context.Context, req *Request) (*Signal, error) {
	rate, samples, ok, err := p.Patterns.Lookup(ctx, fingerprint(req.Doc), req.SessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Signal{Source: p.Name(), Score: 0.5, Rationale: "no prior outcomes for this concept"}, nil
	}
	sig := &Signal{
		Source:    p.Name(),
		Score:     rate,
		Rationale: fmt.Sprintf("success rate %.2f over %d prior outcomes", rate, samples),
	}
	if p.Patterns.Degraded() {
		if sig.Score > 0.5 {
			sig.Score = 0.5
		}
		sig.Rationale += " (pattern store degraded, capped)"
	}
	return sig, nil
}

// DocumentationProducer scores narrative completeness: stories with
// all narrative fields filled, stakeholders with a narrative, resolved
// challenges carrying a concept delta.
type DocumentationProducer struct{}

func (p *DocumentationProducer) Name() string { return SourceDocumentation }

func (p *DocumentationProducer) Evaluate(_ context.Context, req *Request) (*Signal, error) {
	doc := req.Doc
	var ratios []float64

	if n := len(doc.Stories); n > 0 {
		complete := 0
		for i := range doc.Stories {
			s := &doc.Stories[i]
			if s.CurrentSituation != "" && s.EnhancedExperience != "" && s.ValueDelivered != "" {
				complete++
			}
		}
		ratios = append(ratios, float64(complete)/float64(n))
	}
	if n := len(doc.Stakeholders); n > 0 {
		narrated := 0
		for i := range doc.Stakeholders {
			if doc.Stakeholders[i].Narrative != "" {
				narrated++
			}
		}
		ratios = append(ratios, float64(narrated)/float64(n))
	}
	if resolved := doc.ResolvedChallenges(); len(resolved) > 0 {
		withDelta := 0
		for i := range resolved {
			if resolved[i].ConceptDelta != "" {
				withDelta++
			}
		}
		ratios = append(ratios, float64(withDelta)/float64(len(resolved)))
	}

	if len(ratios) == 0 {
		return &Signal{Source: p.Name(), Score: 0, Rationale: "nothing documented yet"}, nil
	}
	sum := 0.0
	for _, r := range ratios {
		sum += r
	}
	score := sum / float64(len(ratios))
	return &Signal{
		Source:    p.Name(),
		Score:     clamp01(score),
		Rationale: fmt.Sprintf("narrative completeness %.2f across %d entity groups", score, len(ratios)),
	}, nil
}

// PatternProducer scores alignment with consented cross-session
// patterns. Low sample counts pull the score toward neutral so a
// single lucky outcome cannot dominate.
type PatternProducer struct {
	Patterns   PatternReader
	MinSamples int
}

func (p *PatternProducer) Name() string { return SourcePattern }

func (p *PatternProducer) Evaluate(ctx context.Context, req *Request) (*Signal, error) {
	rate, samples, ok, err := p.Patterns.Lookup(ctx, fingerprint(req.Doc), "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Signal{Source: p.Name(), Score: 0.5, Rationale: "no consented patterns match"}, nil
	}
	confidence := 1.0
	if p.MinSamples > 0 && samples < p.MinSamples {
		confidence = float64(samples) / float64(p.MinSamples)
	}
	score := 0.5 + (rate-0.5)*confidence
	sig := &Signal{
		Source: p.Name(),
		Score:  clamp01(score),
		Rationale: fmt.Sprintf("pattern success rate %.2f over %d samples (confidence %.2f)",
			rate, samples, confidence),
	}
	if p.Patterns.Degraded() {
		if sig.Score > 0.5 {
			sig.Score = 0.5
		}
		sig.Rationale += " (pattern store degraded, capped)"
	}
	return sig, nil
}

// TypeSafetyProducer scores whether resolutions and success criteria
// are concrete enough to carry into a PRD: resolved challenges change
// the concept, confirmed stories declare success indicators,
// enhancements name their mechanism.
type TypeSafetyProducer struct{}

func (p *TypeSafetyProducer) Name() string { return SourceTypeSafety }

func (p *TypeSafetyProducer) Evaluate(_ context.Context, req *Request) (*Signal, error) {
	doc := req.Doc
	var ratios []float64

	if resolved := doc.ResolvedChallenges(); len(resolved) > 0 {
		concrete := 0
		for i := range resolved {
			if resolved[i].ConceptDelta != "" {
				concrete++
			}
		}
		ratios = append(ratios, float64(concrete)/float64(len(resolved)))
	}
	if confirmed := doc.ConfirmedStories(); len(confirmed) > 0 {
		measured := 0
		for i := range confirmed {
			if len(confirmed[i].SuccessIndicators) > 0 {
				measured++
			}
		}
		ratios = append(ratios, float64(measured)/float64(len(confirmed)))
	}
	if n := len(doc.Enhancements); n > 0 {
		mechanized := 0
		for i := range doc.Enhancements {
			if doc.Enhancements[i].Mechanism != "" {
				mechanized++
			}
		}
		ratios = append(ratios, float64(mechanized)/float64(n))
	}

	if len(ratios) == 0 {
		return &Signal{Source: p.Name(), Score: 0.5, Rationale: "nothing to check yet"}, nil
	}
	sum := 0.0
	for _, r := range ratios {
		sum += r
	}
	score := sum / float64(len(ratios))
	return &Signal{
		Source:    p.Name(),
		Score:     clamp01(score),
		Rationale: fmt.Sprintf("specification concreteness %.2f", score),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
