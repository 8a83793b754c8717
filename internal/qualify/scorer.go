package qualify

import (
	"fmt"
	"math"

	"github.com/casecurrentai/casecurrent/internal/intake"
)

// Disposition of a qualification run.
type Disposition string

const (
	DispositionAccept  Disposition = "accept"
	DispositionReview  Disposition = "review"
	DispositionDecline Disposition = "decline"
)

// Intake completion states carried on the lead.
const (
	IntakeNone     = "none"
	IntakePartial  = "partial"
	IntakeComplete = "complete"
)

// Factor is one weighted scoring dimension with its evidence.
type Factor struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Earned   float64 `json:"earned"`
	Evidence string  `json:"evidence"`
}

// Reasons is the structured payload downstream dashboards and regression
// suites consume. Shape changes are breaking changes.
type Reasons struct {
	Factors       []Factor `json:"factors"`
	MissingFields []string `json:"missing_fields"`
	Disqualifiers []string `json:"disqualifiers"`
	RoutingHint   string   `json:"routing_hint,omitempty"`
	Explanations  []string `json:"explanations"`
}

// Result of one scorer run.
type Result struct {
	Score       int         `json:"score"`
	Disposition Disposition `json:"disposition"`
	Confidence  int         `json:"confidence"`
	Reasons     Reasons     `json:"reasons"`
}

// Input is everything the scorer reads. Nothing else may influence the
// outcome: identical inputs must produce identical results.
type Input struct {
	Contact *intake.Contact
	Lead    *intake.Lead
	Calls   []intake.Call
}

const (
	weightContact       = 20.0
	weightPracticeArea  = 15.0
	weightIntake        = 25.0
	weightIncident      = 20.0
	weightCommunication = 20.0
	totalWeight         = weightContact + weightPracticeArea + weightIntake + weightIncident + weightCommunication
	factorCount         = 5
)

// Score computes a lead's 0-100 qualification score, disposition, confidence
// and structured reasons from five weighted factors. Pure and deterministic.
func Score(in Input) Result {
	var (
		factors   []Factor
		missing   []string
		evaluated int
		earned    float64
	)

	addFactor := func(f Factor, hasData bool) {
		factors = append(factors, f)
		earned += f.Earned
		if hasData {
			evaluated++
		}
	}

	// Contact completeness: phone and email.
	hasPhone := in.Contact != nil && in.Contact.PrimaryPhone != ""
	hasEmail := in.Contact != nil && in.Contact.PrimaryEmail != ""
	contactFactor := Factor{Name: "contact_completeness", Weight: weightContact}
	switch {
	case hasPhone && hasEmail:
		contactFactor.Earned = weightContact
		contactFactor.Evidence = "phone and email on file"
	case hasPhone || hasEmail:
		contactFactor.Earned = weightContact / 2
		contactFactor.Evidence = "one contact method on file"
	default:
		contactFactor.Evidence = "no contact information"
	}
	if !hasPhone {
		missing = append(missing, "phone")
	}
	if !hasEmail {
		missing = append(missing, "email")
	}
	addFactor(contactFactor, hasPhone || hasEmail)

	// Practice area assignment.
	paFactor := Factor{Name: "practice_area", Weight: weightPracticeArea}
	hasPA := in.Lead != nil && in.Lead.PracticeAreaID != nil
	if hasPA {
		paFactor.Earned = weightPracticeArea
		paFactor.Evidence = fmt.Sprintf("practice area %s assigned", in.Lead.PracticeAreaID)
	} else {
		paFactor.Evidence = "no practice area assigned"
		missing = append(missing, "practice_area")
	}
	addFactor(paFactor, hasPA)

	// Intake completion.
	intakeStatus := IntakeNone
	if in.Lead != nil && in.Lead.IntakeStatus != "" {
		intakeStatus = in.Lead.IntakeStatus
	}
	intakeFactor := Factor{Name: "intake_completion", Weight: weightIntake}
	switch intakeStatus {
	case IntakeComplete:
		intakeFactor.Earned = weightIntake
		intakeFactor.Evidence = "intake complete"
	case IntakePartial:
		intakeFactor.Earned = weightIntake / 2
		intakeFactor.Evidence = "intake partially complete"
	default:
		intakeFactor.Evidence = "intake not started"
		missing = append(missing, "intake")
	}
	addFactor(intakeFactor, intakeStatus != IntakeNone)

	// Incident details: date and location.
	hasDate := in.Lead != nil && in.Lead.IncidentDate != nil
	hasLocation := in.Lead != nil && in.Lead.IncidentLocation != ""
	incidentFactor := Factor{Name: "incident_details", Weight: weightIncident}
	switch {
	case hasDate && hasLocation:
		incidentFactor.Earned = weightIncident
		incidentFactor.Evidence = "incident date and location recorded"
	case hasDate || hasLocation:
		incidentFactor.Earned = weightIncident / 2
		incidentFactor.Evidence = "partial incident details"
	default:
		incidentFactor.Evidence = "no incident details"
	}
	if !hasDate {
		missing = append(missing, "incident_date")
	}
	if !hasLocation {
		missing = append(missing, "incident_location")
	}
	addFactor(incidentFactor, hasDate || hasLocation)

	// Communication history. Transcript presence is the canonical signal:
	// full credit with a transcript, partial with only a recording, base
	// credit for calls with neither.
	hasTranscript, hasRecording := false, false
	for _, c := range in.Calls {
		if c.TranscriptText != "" {
			hasTranscript = true
		}
		if c.RecordingURL != "" {
			hasRecording = true
		}
	}
	commFactor := Factor{Name: "communication_history", Weight: weightCommunication}
	switch {
	case len(in.Calls) > 0 && hasTranscript:
		commFactor.Earned = weightCommunication
		commFactor.Evidence = fmt.Sprintf("%d call(s) with transcript", len(in.Calls))
	case len(in.Calls) > 0 && hasRecording:
		commFactor.Earned = 15
		commFactor.Evidence = fmt.Sprintf("%d call(s) with recording only", len(in.Calls))
	case len(in.Calls) > 0:
		commFactor.Earned = 10
		commFactor.Evidence = fmt.Sprintf("%d call(s) without recording or transcript", len(in.Calls))
	default:
		commFactor.Evidence = "no calls on record"
		missing = append(missing, "calls")
	}
	addFactor(commFactor, len(in.Calls) > 0)

	disqualifiers := collectDisqualifiers(in)
	score := int(math.Round(100 * earned / totalWeight))

	var disposition Disposition
	switch {
	case score < 30 || len(disqualifiers) > 0:
		disposition = DispositionDecline
	case score >= 70 && len(missing) <= 2:
		disposition = DispositionAccept
	default:
		disposition = DispositionReview
	}

	confidence := int(math.Round(100 * float64(evaluated) / factorCount))
	if confidence > 100 {
		confidence = 100
	}

	routingHint := ""
	if hasPA {
		routingHint = in.Lead.PracticeAreaID.String()
	}

	explanations := []string{
		fmt.Sprintf("scored %d/100 across %d factors", score, factorCount),
		fmt.Sprintf("disposition %s (confidence %d)", disposition, confidence),
	}
	for _, f := range factors {
		explanations = append(explanations, fmt.Sprintf("%s: %g/%g (%s)", f.Name, f.Earned, f.Weight, f.Evidence))
	}

	return Result{
		Score:       score,
		Disposition: disposition,
		Confidence:  confidence,
		Reasons: Reasons{
			Factors:       factors,
			MissingFields: missing,
			Disqualifiers: disqualifiers,
			RoutingHint:   routingHint,
			Explanations:  explanations,
		},
	}
}

func collectDisqualifiers(in Input) []string {
	var out []string
	if in.Lead != nil && in.Lead.Status == intake.LeadStatusDisqualified {
		out = append(out, "lead_disqualified")
	}
	return out
}
