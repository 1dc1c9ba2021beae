// Package concept defines the entity model for story-driven concept
// development: stakeholders, their validated stories, stress-test
// challenges, and enhancement ideas, plus the projected Document that
// the rest of the engine operates on.
package concept

import (
	"errors"
	"time"
)

// Common validation errors.
var (
	ErrEmptyID             = errors.New("entity ID cannot be empty")
	ErrEmptyName           = errors.New("stakeholder name cannot be empty")
	ErrInvalidTier         = errors.New("tier must be primary, secondary, or tertiary")
	ErrEmptyStakeholderRef = errors.New("story must reference a stakeholder")
	ErrEmptyScenario       = errors.New("challenge scenario cannot be empty")
	ErrEmptyDescription    = errors.New("enhancement description cannot be empty")
	ErrInvalidSeverity     = errors.New("severity must be between 1 and 10")
)

// Tier classifies how central a stakeholder is to the concept.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
	TierTertiary  Tier = "tertiary"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierPrimary || t == TierSecondary || t == TierTertiary
}

// Stakeholder is a persona whose needs anchor the concept.
//
// Stakeholder IDs are unique within a session. Once a Story references
// a stakeholder, the stakeholder is immutable.
type Stakeholder struct {
	// ID is the unique identifier within the session.
	ID string `json:"id"`

	// Name is the human-readable persona name.
	Name string `json:"name"`

	// Tier is the role tier (primary, secondary, tertiary).
	Tier Tier `json:"tier"`

	// Role describes what part this stakeholder plays.
	Role string `json:"role"`

	// Narrative is the stakeholder's current-situation summary.
	Narrative string `json:"narrative"`

	// PainPoints are specific problems the stakeholder faces.
	PainPoints []string `json:"pain_points,omitempty"`

	// Goals capture what the stakeholder wants to achieve.
	Goals []string `json:"goals,omitempty"`

	// CreatedAt is when the stakeholder was discovered.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required stakeholder fields.
func (s *Stakeholder) Validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if s.Name == "" {
		return ErrEmptyName
	}
	if !s.Tier.Valid() {
		return ErrInvalidTier
	}
	return nil
}

// Story is a validated narrative for one stakeholder.
//
// Stories are created during Level 1 and become read-only once the
// Level 1 checkpoint is written. Confirmed is set by an explicit
// caller confirmation; the Level 1 completion checklist requires at
// least one confirmed story.
type Story struct {
	// ID is the unique identifier within the session.
	ID string `json:"id"`

	// StakeholderID references an existing Stakeholder.
	StakeholderID string `json:"stakeholder_id"`

	// CurrentSituation describes the stakeholder's world today.
	CurrentSituation string `json:"current_situation"`

	// PainPoints are the problems this story addresses.
	PainPoints []string `json:"pain_points,omitempty"`

	// EnhancedExperience describes how the concept transforms things.
	EnhancedExperience string `json:"enhanced_experience"`

	// ValueDelivered is the specific outcome the stakeholder receives.
	ValueDelivered string `json:"value_delivered"`

	// SuccessIndicators describe how success is measured.
	SuccessIndicators []string `json:"success_indicators,omitempty"`

	// Confidence scores the story's validity in [0,1].
	Confidence float64 `json:"confidence"`

	// Confirmed records the caller's explicit narrative confirmation.
	Confirmed bool `json:"confirmed"`

	// CreatedAt is when the story was first told.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required story fields.
func (s *Story) Validate() error {
	if s.ID == "" {
		return ErrEmptyID
	}
	if s.StakeholderID == "" {
		return ErrEmptyStakeholderRef
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return errors.New("story confidence must be between 0.0 and 1.0")
	}
	return nil
}

// Challenge is a stress-test scenario and its resolution, created
// during Level 2.
type Challenge struct {
	// ID is the unique identifier within the session.
	ID string `json:"id"`

	// Scenario is the failure or conflict scenario being tested.
	Scenario string `json:"scenario"`

	// Category loosely classifies the challenge (technical, market, ...).
	Category string `json:"category,omitempty"`

	// Severity rates the challenge from 1 (minor) to 10 (existential).
	Severity int `json:"severity"`

	// Resolution describes how the concept addresses the scenario.
	// The Level 2 checklist requires a non-empty resolution.
	Resolution string `json:"resolution"`

	// ConceptDelta records how the concept changed because of this.
	ConceptDelta string `json:"concept_delta,omitempty"`

	// AffectedStakeholders lists stakeholder IDs impacted by the scenario.
	AffectedStakeholders []string `json:"affected_stakeholders,omitempty"`

	// CreatedAt is when the challenge was raised.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required challenge fields.
func (c *Challenge) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if c.Scenario == "" {
		return ErrEmptyScenario
	}
	if c.Severity < 1 || c.Severity > 10 {
		return ErrInvalidSeverity
	}
	return nil
}

// Resolved reports whether the challenge carries a non-empty resolution.
func (c *Challenge) Resolved() bool {
	return c.Resolution != ""
}

// Enhancement is an amplification idea adopted into the concept during
// Level 3.
type Enhancement struct {
	// ID is the unique identifier within the session.
	ID string `json:"id"`

	// Description details the enhancement.
	Description string `json:"description"`

	// Beneficiary names who gains from the enhancement.
	Beneficiary string `json:"beneficiary,omitempty"`

	// Mechanism describes how the enhancement works.
	Mechanism string `json:"mechanism,omitempty"`

	// ImpactScore estimates potential impact in [0,1].
	ImpactScore float64 `json:"impact_score"`

	// FeasibilityScore estimates implementation feasibility in [0,1].
	FeasibilityScore float64 `json:"feasibility_score"`

	// CreatedAt is when the enhancement was adopted.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required enhancement fields.
func (e *Enhancement) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.Description == "" {
		return ErrEmptyDescription
	}
	return nil
}

// Urgency is the caller-declared urgency of the engagement, one of the
// normalized complexity factors.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyModerate Urgency = "moderate"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Weight maps urgency onto [0,1] for complexity scoring.
func (u Urgency) Weight() float64 {
	switch u {
	case UrgencyLow:
		return 0.1
	case UrgencyModerate:
		return 0.4
	case UrgencyHigh:
		return 0.7
	case UrgencyCritical:
		return 1.0
	default:
		return 0.4
	}
}
