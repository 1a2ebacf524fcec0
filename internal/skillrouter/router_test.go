package skillrouter

import "testing"

func TestRouter_NoSkillsReturnsNoMatch(t *testing.T) {
	r := New(Config{})
	match, _ := r.RouteBest("deploy the app")
	if match != nil {
		t.Fatalf("match = %+v, want nil", match)
	}
}

func TestRouter_KeywordMatchAboveThreshold(t *testing.T) {
	r := New(Config{Threshold: 0.5})
	r.Register(&Skill{ID: "deploy", Name: "Deploy", Keywords: []string{"deploy", "release"}, Hint: "use the deploy playbook"})

	match, reason := r.RouteBest("please deploy the release to prod")
	if match == nil {
		t.Fatal("expected a match")
	}
	if match.SkillID != "deploy" || match.Hint != "use the deploy playbook" {
		t.Fatalf("match = %+v, want deploy skill", match)
	}
	if reason != ReasonKeyword {
		t.Fatalf("reason = %v, want keyword", reason)
	}
}

func TestRouter_BelowThresholdReturnsNoMatch(t *testing.T) {
	r := New(Config{Threshold: 0.9})
	r.Register(&Skill{ID: "deploy", Name: "Deploy", Keywords: []string{"deploy", "release", "rollback", "canary"}})

	match, _ := r.RouteBest("please deploy it")
	if match != nil {
		t.Fatalf("match = %+v, want nil (score below threshold)", match)
	}
}

func TestRouter_AlwaysSkillAlwaysMatches(t *testing.T) {
	r := New(Config{Threshold: 0.99})
	r.Register(&Skill{ID: "house", Name: "House style", Always: true, Hint: "follow house style"})

	match, reason := r.RouteBest("anything at all")
	if match == nil || match.SkillID != "house" {
		t.Fatalf("match = %+v, want house skill", match)
	}
	if reason != ReasonAlways {
		t.Fatalf("reason = %v, want always", reason)
	}
}

func TestRouter_PicksHighestScoringSkill(t *testing.T) {
	r := New(Config{Threshold: 0.1})
	r.Register(&Skill{ID: "weak", Name: "Weak", Keywords: []string{"deploy", "release", "rollback", "canary"}})
	r.Register(&Skill{ID: "strong", Name: "Strong", Keywords: []string{"deploy"}})

	match, _ := r.RouteBest("deploy now")
	if match == nil || match.SkillID != "strong" {
		t.Fatalf("match = %+v, want strong (single keyword fully matched)", match)
	}
}

func TestRouter_Unregister(t *testing.T) {
	r := New(Config{Threshold: 0.1})
	r.Register(&Skill{ID: "deploy", Keywords: []string{"deploy"}})
	r.Unregister("deploy")

	match, _ := r.RouteBest("deploy now")
	if match != nil {
		t.Fatalf("match = %+v, want nil after Unregister", match)
	}
}
