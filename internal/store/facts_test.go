package store

import (
	"context"
	"math/rand"
	"testing"
)

func TestVerifiedFactBlocksOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.SaveProfileFact(ctx, ProfileFact{Key: "father_name", Value: "Arvid", Topic: TopicFamily, Confidence: 1.0, Source: SourceUser})
	if err != nil || !res.Written {
		t.Fatalf("first write: %+v err=%v", res, err)
	}
	res, err = s.SaveProfileFact(ctx, ProfileFact{Key: "father_name", Value: "Erik", Topic: TopicFamily, Confidence: 0.7})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if res.Written || !res.Blocked || res.Previous != "Arvid" {
		t.Fatalf("expected blocked write, got %+v", res)
	}

	facts, err := s.GetProfileFacts(ctx, 0)
	if err != nil {
		t.Fatalf("get facts: %v", err)
	}
	if len(facts) != 1 || facts[0].Value != "Arvid" {
		t.Fatalf("expected father_name=Arvid, got %+v", facts)
	}

	open, err := s.ListContradictions(ctx, true)
	if err != nil {
		t.Fatalf("list contradictions: %v", err)
	}
	if len(open) != 1 || open[0].Key != "father_name" || open[0].NewValue != "Erik" || open[0].Resolved {
		t.Fatalf("expected one unresolved contradiction, got %+v", open)
	}
}

func TestFactSameValueBumpsFrequency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.SaveProfileFact(ctx, ProfileFact{Key: "hobby", Value: "Amiga", Confidence: 0.6}); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := s.SaveProfileFact(ctx, ProfileFact{Key: "hobby", Value: " amiga ", Confidence: 0.8})
	if err != nil || !res.Written || res.Superseded {
		t.Fatalf("expected frequency bump, got %+v err=%v", res, err)
	}
	f, ok, err := s.GetProfileFact(ctx, "hobby")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if f.Value != "Amiga" || f.Frequency != 2 || f.Confidence != 0.8 {
		t.Fatalf("unexpected fact: %+v", f)
	}
	if all, _ := s.ListContradictions(ctx, false); len(all) != 0 {
		t.Fatalf("same value must not audit, got %+v", all)
	}
}

func TestFactSupersedeIsAudited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.SaveProfileFact(ctx, ProfileFact{Key: "location", Value: "Stavanger", Confidence: 0.7})
	res, err := s.SaveProfileFact(ctx, ProfileFact{Key: "location", Value: "Sandnes", Confidence: 0.9})
	if err != nil || !res.Written || !res.Superseded {
		t.Fatalf("expected supersede, got %+v err=%v", res, err)
	}
	all, _ := s.ListContradictions(ctx, false)
	if len(all) != 1 || !all[0].Resolved {
		t.Fatalf("expected one resolved audit row, got %+v", all)
	}
	f, _, _ := s.GetProfileFact(ctx, "location")
	if f.Value != "Sandnes" || f.Frequency != 2 {
		t.Fatalf("unexpected fact: %+v", f)
	}
}

// Random write sequences never replace a value held at verified confidence.
func TestConfidenceGuardProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := []string{"Arvid", "Erik", "Ola", "arvid"}
	confs := []float64{0.4, 0.7, 0.9, 1.0}

	for round := 0; round < 20; round++ {
		s := newTestStore(t)
		ctx := context.Background()

		var (
			current    string
			currentC   float64
			exists     bool
			blockedCnt int
		)
		for i := 0; i < 15; i++ {
			v := values[rng.Intn(len(values))]
			c := confs[rng.Intn(len(confs))]
			res, err := s.SaveProfileFact(ctx, ProfileFact{Key: "father_name", Value: v, Confidence: c})
			if err != nil {
				t.Fatalf("round %d write %d: %v", round, i, err)
			}
			switch {
			case !exists:
				current, currentC, exists = v, c, true
			case sameValue(current, v):
				currentC = max(currentC, c)
			case currentC >= VerifiedConfidence:
				blockedCnt++
				if !res.Blocked {
					t.Fatalf("round %d write %d: expected block of %q over %q", round, i, v, current)
				}
			default:
				current, currentC = v, c
			}
		}

		f, _, err := s.GetProfileFact(ctx, "father_name")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !sameValue(f.Value, current) {
			t.Fatalf("round %d: stored %q, expected %q", round, f.Value, current)
		}
		open, _ := s.ListContradictions(ctx, true)
		if len(open) != blockedCnt {
			t.Fatalf("round %d: %d unresolved contradictions, expected %d", round, len(open), blockedCnt)
		}
	}
}

func TestFactKeyLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, f := range []ProfileFact{
		{Key: "sister_2_name", Value: "Miriam"},
		{Key: "sister_2_birthday", Value: "31-01"},
		{Key: "sister_2_child_1_name", Value: "Sara"},
		{Key: "sister_21_name", Value: "Ingen"},
		{Key: "father_name", Value: "Arvid"},
	} {
		if _, err := s.SaveProfileFact(ctx, f); err != nil {
			t.Fatalf("save %s: %v", f.Key, err)
		}
	}
	got, err := s.FactsByKeyPrefix(ctx, "sister_2_")
	if err != nil || len(got) != 3 {
		t.Fatalf("prefix lookup: %+v err=%v", got, err)
	}
	names, err := s.FactsByKeySuffix(ctx, "_name")
	if err != nil || len(names) != 4 {
		t.Fatalf("suffix lookup: %+v err=%v", names, err)
	}
	if err := s.DeleteProfileFact(ctx, "sister_21_name"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetProfileFact(ctx, "sister_21_name"); ok {
		t.Fatal("expected fact deleted")
	}
}

func TestSearchProfileFactsByEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.SaveProfileFact(ctx, ProfileFact{Key: "hobby", Value: "Amiga", Embedding: []float32{1, 0, 0}})
	_, _ = s.SaveProfileFact(ctx, ProfileFact{Key: "pet", Value: "katt", Embedding: []float32{0.6, 0.8, 0}})
	_, _ = s.SaveProfileFact(ctx, ProfileFact{Key: "job", Value: "utvikler", Embedding: []float32{0, 0, 1}})
	_, _ = s.SaveProfileFact(ctx, ProfileFact{Key: "noembed", Value: "x"})

	got, err := s.SearchProfileFactsByEmbedding(ctx, []float32{1, 0, 0}, 5, 0.25)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].Fact.Key != "hobby" || got[1].Fact.Key != "pet" {
		t.Fatalf("unexpected ranking: %+v", got)
	}
	if got[0].Score < 0.999 {
		t.Fatalf("expected self match score 1, got %v", got[0].Score)
	}

	if err := s.UpdateFactEmbedding(ctx, "noembed", []float32{1, 0, 0}); err != nil {
		t.Fatalf("update embedding: %v", err)
	}
	got, _ = s.SearchProfileFactsByEmbedding(ctx, []float32{1, 0, 0}, 1, 0.25)
	if len(got) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}
}
