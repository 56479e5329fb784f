package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/pipeline"
	"github.com/unburden/solvency/internal/validate"
)

func input(intent model.Intent, artifact map[string]any) pipeline.StageInput {
	return pipeline.StageInput{
		Request:  model.Request{RequestID: "req-1", Intent: intent, Payload: artifact, Priority: model.PriorityMedium},
		Artifact: artifact,
	}
}

func evaluate(t *testing.T, s pipeline.Stage, in pipeline.StageInput) model.GateResult {
	t.Helper()
	res, err := s.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("%s: Evaluate: %v", s.Name(), err)
	}
	return res
}

func hasIssue(res model.GateResult, substr string) bool {
	for _, i := range res.Issues {
		if strings.Contains(i.Note, substr) {
			return true
		}
	}
	return false
}

func supportedClaim() model.Claim {
	return model.Claim{
		Text: "Federal debt held by the public reached 97% of GDP in 2023.",
		Citations: []model.Citation{
			{Publisher: "Federal Reserve", URL: "https://www.federalreserve.gov/data", ToolPath: "dataset:fred"},
			{Publisher: "Congressional Budget Office", URL: "https://www.cbo.gov/topics/budget", ToolPath: "dataset:cbo"},
			{Publisher: "Brookings", URL: "https://www.brookings.edu/articles/debt", CrossVerification: true, ToolPath: "search:scholar"},
		},
	}
}

func TestFactCheck_SingleTierCRevises(t *testing.T) {
	fc := NewFactCheck(validate.NewVerifier(model.DefaultConfig().Citation))
	claim := model.Claim{
		Text:      "The national debt doubled in a decade.",
		Citations: []model.Citation{{Publisher: "Daily News", URL: "https://dailynews.example.com/debt", Tier: model.TierC}},
	}

	res := evaluate(t, fc, input(model.IntentProduce, map[string]any{"claims": []model.Claim{claim}}))
	if res.Status != model.GateRevise {
		t.Fatalf("status = %s, want revise", res.Status)
	}
	if len(res.Issues) != 1 || !strings.HasPrefix(res.Issues[0].Note, "insufficient citation diversity") {
		t.Errorf("issues = %+v", res.Issues)
	}
}

func TestFactCheck_SupportedClaimPasses(t *testing.T) {
	fc := NewFactCheck(validate.NewVerifier(model.DefaultConfig().Citation))

	res := evaluate(t, fc, input(model.IntentProduce, map[string]any{"claims": []model.Claim{supportedClaim()}}))
	if res.Status != model.GateOK {
		t.Fatalf("status = %s, issues = %+v", res.Status, res.Issues)
	}
	if len(res.Citations) != 3 {
		t.Errorf("citations = %d, want 3", len(res.Citations))
	}
	for _, c := range res.Citations {
		if !c.Tier.Valid() {
			t.Errorf("citation %s has unresolved tier", c.URL)
		}
	}
	if res.Handoff["fact_check"] != "1/1 claims supported" {
		t.Errorf("handoff = %v", res.Handoff)
	}
}

func TestFactCheck_ContestedAndUnsupported(t *testing.T) {
	fc := NewFactCheck(validate.NewVerifier(model.DefaultConfig().Citation))
	contested := supportedClaim()
	contested.Citations[0].Figure = "$33.1 trillion"
	contested.Citations[1].Figure = "$31.4 trillion"
	bare := model.Claim{Text: "Interest costs exceed defense spending."}

	res := evaluate(t, fc, input(model.IntentAnalyze, map[string]any{"claims": []model.Claim{contested, bare}}))
	if res.Status != model.GateRevise {
		t.Fatalf("status = %s", res.Status)
	}
	if !hasIssue(res, "contested claim") || !hasIssue(res, "unsupported claim") {
		t.Errorf("issues = %+v", res.Issues)
	}
}

func TestFactCheck_UncitedFigures(t *testing.T) {
	fc := NewFactCheck(validate.NewVerifier(model.DefaultConfig().Citation))

	res := evaluate(t, fc, input(model.IntentProduce, map[string]any{"body": "The deficit grew by 12% last year across every agency."}))
	if res.Status != model.GateRevise || !hasIssue(res, "carry no citations") {
		t.Errorf("figures without claims: %s %+v", res.Status, res.Issues)
	}

	res = evaluate(t, fc, input(model.IntentProduce, map[string]any{"body": "Join us at the library on Tuesday evening."}))
	if res.Status != model.GateOK {
		t.Errorf("plain copy: %s %+v", res.Status, res.Issues)
	}
}

func TestCompliance(t *testing.T) {
	tests := []struct {
		name     string
		intent   model.Intent
		artifact map[string]any
		want     model.GateStatus
		issue    string
	}{
		{"clean copy", model.IntentProduce, map[string]any{"body": "Our town hall on infrastructure spending is Tuesday at the library."}, model.GateOK, ""},
		{"political without disclaimer", model.IntentProduce, map[string]any{"body": "Call your senate office today."}, model.GateRevise, "disclaimer"},
		{"political with disclaimer", model.IntentProduce, map[string]any{"body": "Call your senate office today. Paid for by Unburden America."}, model.GateOK, ""},
		{"voter suppression", model.IntentPublish, map[string]any{"body": "Don't vote this year. Paid for by Unburden America."}, model.GateBlock, "voter suppression"},
		{"election misinformation", model.IntentPublish, map[string]any{"body": "It was a rigged election. Paid for by Unburden America."}, model.GateBlock, "misinformation"},
		{"ad without disclosure", model.IntentProduce, map[string]any{"body": "Order now and get a free mug."}, model.GateRevise, "disclosure"},
		{"ad with disclosure", model.IntentProduce, map[string]any{"body": "Sponsored: order now and get a free mug."}, model.GateOK, ""},
		{"image without alt", model.IntentDesign, map[string]any{"html": `<p>Our new poster</p><img src="poster.png">`}, model.GateRevise, "alt text"},
		{"image with alt", model.IntentDesign, map[string]any{"html": `<p>Our new poster</p><img src="poster.png" alt="Poster">`}, model.GateOK, ""},
		{"501c3 intervention", model.IntentPlan, map[string]any{"goal": "Vote for Smith. Paid for by Unburden America.", "org_type": "501c3"}, model.GateBlock, "501(c)(3)"},
		{"petition consent given", model.IntentPetition, map[string]any{"name": "Ada", "consent_updates": true}, model.GateOK, ""},
		{"petition consent declined", model.IntentPetition, map[string]any{"name": "Ada", "consent_updates": false}, model.GateBlock, "consent"},
		{"petition consent missing", model.IntentPetition, map[string]any{"name": "Ada"}, model.GateBlock, "consent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, NewCompliance(), input(tt.intent, tt.artifact))
			if res.Status != tt.want {
				t.Fatalf("status = %s, want %s (issues %+v)", res.Status, tt.want, res.Issues)
			}
			if tt.issue != "" && !hasIssue(res, tt.issue) {
				t.Errorf("issues %+v do not mention %q", res.Issues, tt.issue)
			}
		})
	}
}

func TestSafety(t *testing.T) {
	tests := []struct {
		name string
		body string
		want model.GateStatus
	}{
		{"clean", "Families deserve a budget that adds up.", model.GateOK},
		{"hate", "They are vermin and should leave.", model.GateBlock},
		{"threat", "If they pass it we will hurt them.", model.GateBlock},
		{"exclamations", "Sign now!!!!!! please", model.GateRevise},
		{"shouting", "ACT NOW SIGN TODAY FREE", model.GateRevise},
		{"repetitive", "debt debt debt debt debt debt debt debt debt debt", model.GateRevise},
		{"bias", "You people never read the budget.", model.GateRevise},
		{"exclusive term only", "Thanks guys for coming to the budget briefing.", model.GateOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, NewSafety(), input(model.IntentMeeting, map[string]any{"body": tt.body}))
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s (issues %+v)", res.Status, tt.want, res.Issues)
			}
		})
	}
}

func TestPetitionFunnel(t *testing.T) {
	valid := func() map[string]any {
		return map[string]any{"name": "Ada Lovelace", "email": "ada@example.org", "zip": "94110", "consent_updates": true}
	}

	res := evaluate(t, NewPetitionFunnel(), input(model.IntentPetition, valid()))
	if res.Status != model.GateOK || res.Handoff["zip5"] != "94110" {
		t.Fatalf("valid signature: %s %+v %v", res.Status, res.Issues, res.Handoff)
	}

	numeric := valid()
	numeric["zip"] = 2134.0
	if res := evaluate(t, NewPetitionFunnel(), input(model.IntentPetition, numeric)); res.Status != model.GateOK {
		t.Errorf("numeric zip: %s %+v", res.Status, res.Issues)
	}

	plus4 := valid()
	plus4["zip"] = "94110-1234"
	if res := evaluate(t, NewPetitionFunnel(), input(model.IntentPetition, plus4)); res.Status != model.GateOK {
		t.Errorf("zip+4: %s %+v", res.Status, res.Issues)
	}

	badEmail := valid()
	badEmail["email"] = "not-an-email"
	if res := evaluate(t, NewPetitionFunnel(), input(model.IntentPetition, badEmail)); res.Status != model.GateRevise {
		t.Errorf("bad email: %s", res.Status)
	}

	badZip := valid()
	badZip["zip"] = "9411"
	if res := evaluate(t, NewPetitionFunnel(), input(model.IntentPetition, badZip)); res.Status != model.GateRevise {
		t.Errorf("bad zip: %s", res.Status)
	}

	declined := valid()
	declined["consent_updates"] = false
	if res := evaluate(t, NewPetitionFunnel(), input(model.IntentPetition, declined)); res.Status != model.GateBlock {
		t.Errorf("declined consent: %s", res.Status)
	}
}

func TestFundraisingEthics(t *testing.T) {
	tests := []struct {
		name     string
		artifact map[string]any
		want     model.GateStatus
	}{
		{"number", map[string]any{"ask": 25.0, "body": "Chip in to fund our budget explainer."}, model.GateOK},
		{"string", map[string]any{"ask": "$1,000"}, model.GateOK},
		{"object", map[string]any{"ask": map[string]any{"amount": 10.0, "currency": "USD"}}, model.GateOK},
		{"zero", map[string]any{"ask": "$0"}, model.GateRevise},
		{"missing", map[string]any{"body": "Please give."}, model.GateRevise},
		{"pressure", map[string]any{"ask": 25.0, "body": "This is your last chance to help."}, model.GateRevise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, NewFundraisingEthics(), input(model.IntentFundraise, tt.artifact))
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s (issues %+v)", res.Status, tt.want, res.Issues)
			}
		})
	}
}

func TestDesignReview(t *testing.T) {
	tests := []struct {
		name     string
		artifact map[string]any
		want     model.GateStatus
	}{
		{"black on white", map[string]any{"brief": "Poster", "audience": "students", "foreground": "#000", "background": "#ffffff"}, model.GateOK},
		{"grey on white", map[string]any{"brief": "Poster", "audience": "students", "foreground": "#777777", "background": "#ffffff"}, model.GateRevise},
		{"declared ratio", map[string]any{"brief": "Audience: retirees", "contrast_ratio": 7.0}, model.GateOK},
		{"low declared ratio", map[string]any{"brief": "Audience: retirees", "contrast_ratio": 3.0}, model.GateRevise},
		{"no audience", map[string]any{"brief": "Poster"}, model.GateRevise},
		{"bad colour", map[string]any{"brief": "Poster", "audience": "all", "foreground": "#zzzzzz", "background": "#fff"}, model.GateRevise},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evaluate(t, NewDesignReview(), input(model.IntentDesign, tt.artifact))
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s (issues %+v)", res.Status, tt.want, res.Issues)
			}
		})
	}
}

func TestLuminanceContrast(t *testing.T) {
	ratio, ok, err := contrast(map[string]any{"foreground": "#000000", "background": "#ffffff"})
	if err != nil || !ok {
		t.Fatalf("contrast: %v %v", ok, err)
	}
	if ratio < 20.9 || ratio > 21.1 {
		t.Errorf("black on white = %.2f, want 21", ratio)
	}
}

type fakeChecker struct {
	got     []string
	results map[string]model.LinkCheck
}

func (f *fakeChecker) Check(_ context.Context, urls []string) []model.LinkCheck {
	f.got = urls
	out := make([]model.LinkCheck, len(urls))
	for i, u := range urls {
		if r, ok := f.results[u]; ok {
			out[i] = r
			continue
		}
		out[i] = model.LinkCheck{URL: u, StatusCode: 200, Accessible: true}
	}
	return out
}

func TestLinkCheck(t *testing.T) {
	checker := &fakeChecker{results: map[string]model.LinkCheck{
		"https://gone.example.com/report": {URL: "https://gone.example.com/report", StatusCode: 404, Dead: true},
	}}
	claim := supportedClaim()
	artifact := map[string]any{
		"claims":   []model.Claim{claim},
		"html":     `<a href="https://gone.example.com/report">report</a> <a href="https://www.cbo.gov/topics/budget">cbo</a> <a href="mailto:x@example.org">mail</a>`,
		"links":    []any{"https://gone.example.com/report", "ftp://ignored.example.com"},
		"base_url": "https://unburden.example.org/",
	}

	res := evaluate(t, NewLinkCheck(checker), input(model.IntentPublish, artifact))
	if res.Status != model.GateRevise || !hasIssue(res, "dead link: https://gone.example.com/report (HTTP 404)") {
		t.Errorf("result = %s %+v", res.Status, res.Issues)
	}
	want := []string{
		claim.Citations[0].URL, claim.Citations[1].URL, claim.Citations[2].URL,
		"https://gone.example.com/report",
	}
	if strings.Join(checker.got, " ") != strings.Join(want, " ") {
		t.Errorf("checked %v, want %v", checker.got, want)
	}
}

func TestLinkCheck_NoLinks(t *testing.T) {
	res := evaluate(t, NewLinkCheck(&fakeChecker{}), input(model.IntentPublish, map[string]any{"body": "No links here."}))
	if res.Status != model.GateOK {
		t.Errorf("status = %s", res.Status)
	}
}

func TestDiagnostics(t *testing.T) {
	in := input(model.IntentDebug, map[string]any{"b": 1, "a": 2})
	in.Revision = 2
	res := evaluate(t, NewDiagnostics(), in)
	if res.Status != model.GateOK {
		t.Fatalf("status = %s", res.Status)
	}
	diag := res.Handoff["diagnostics"].(map[string]any)
	keys := diag["artifact_keys"].([]string)
	if strings.Join(keys, ",") != "a,b" {
		t.Errorf("keys = %v", keys)
	}
	if !hasIssue(res, "revision 2") {
		t.Errorf("issues = %+v", res.Issues)
	}
}

func TestBuiltin_Names(t *testing.T) {
	reg := pipeline.NewRegistry(Builtin(validate.NewVerifier(model.CitationConfig{}), &fakeChecker{})...)
	want := []string{
		"compliance", "design_review", "diagnostics", "fact_check",
		"fundraising_ethics", "link_check", "petition_funnel", "safety",
	}
	if got := reg.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("names = %v", got)
	}
}
