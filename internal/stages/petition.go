package stages

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
)

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// PetitionFunnel validates a petition signature before it enters the funnel
type PetitionFunnel struct{}

// NewPetitionFunnel creates the petition_funnel gate
func NewPetitionFunnel() *PetitionFunnel { return &PetitionFunnel{} }

func (p *PetitionFunnel) Name() string { return "petition_funnel" }

func (p *PetitionFunnel) Evaluate(_ context.Context, in pipeline.StageInput) (model.GateResult, error) {
	var issues []model.Issue

	if stringField(in.Artifact, "name") == "" {
		issues = append(issues, issue(model.SeverityMajor, "signer name is empty"))
	}
	email := stringField(in.Artifact, "email")
	if _, err := mail.ParseAddress(email); err != nil {
		issues = append(issues, issue(model.SeverityMajor, "invalid email %q", email))
	}
	zip := zipField(in.Artifact)
	if !zipPattern.MatchString(zip) {
		issues = append(issues, issue(model.SeverityMajor, "invalid zip %q (want 12345 or 12345-6789)", zip))
	}

	switch consent, ok := in.Artifact["consent_updates"].(bool); {
	case !ok:
		issues = append(issues, issue(model.SeverityMajor, "consent_updates must be true or false"))
	case !consent:
		issues = append(issues, issue(model.SeverityCritical, "signer declined updates; the signature cannot enter the funnel"))
	}

	res := result(issues)
	if res.Status == model.GateOK {
		res.Handoff = map[string]any{"signature_valid": true, "zip5": zip[:5]}
	}
	return res, nil
}

// zipField accepts zips sent as strings or as JSON numbers
func zipField(artifact map[string]any) string {
	switch v := artifact["zip"].(type) {
	case string:
		return stringField(artifact, "zip")
	case float64:
		return fmt.Sprintf("%05d", int(v))
	case int:
		return fmt.Sprintf("%05d", v)
	}
	return ""
}
