package complexity

import "testing"

func TestEmptyTextIsTrivial(t *testing.T) {
	v := Classify("")
	if v.Level != Trivial {
		t.Errorf("Level = %v, want trivial", v.Level)
	}
	if v.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1", v.Confidence)
	}

	v = Classify("   \n\t ")
	if v.Level != Trivial || v.Confidence != 1 {
		t.Errorf("whitespace-only: got %v/%v, want trivial/1", v.Level, v.Confidence)
	}
}

func TestShortFactualIsTrivial(t *testing.T) {
	v := Classify("What is 2+2?")
	if v.Level != Trivial {
		t.Errorf("Level = %v, want trivial (signals %v)", v.Level, v.Signals)
	}
}

func TestDesignPromptIsAtLeastHard(t *testing.T) {
	v := Classify("Design a Byzantine consensus protocol with proofs")
	if v.Level != Hard && v.Level != Expert {
		t.Errorf("Level = %v, want hard or expert (signals %v)", v.Level, v.Signals)
	}
}

func TestDirectiveVerbRaisesFloor(t *testing.T) {
	v := Classify("Compare the two approaches and recommend one")
	if v.Level.Rank() < Moderate.Rank() {
		t.Errorf("Level = %v, want at least moderate", v.Level)
	}
}

func TestDomainVocabularyBumps(t *testing.T) {
	plain := Classify("Tell me about cars")
	domain := Classify("Tell me about eigenvalue decomposition")
	if domain.Level.Rank() <= plain.Level.Rank() {
		t.Errorf("domain prompt %v not above plain %v", domain.Level, plain.Level)
	}
}

func TestCodeFenceBumpsStructure(t *testing.T) {
	v := Classify("Why does this fail?\n```\nfunc main() { panic(1) }\n```")
	if v.Signals["structure"] == 0 {
		t.Error("structure signal = 0 for fenced code")
	}
}

func TestLongPromptScoresHigherThanShort(t *testing.T) {
	short := Classify("Summarize this")
	long := Classify(repeat("Summarize the following lengthy requirements document section by section. ", 40))
	if long.Signals["length"] <= short.Signals["length"] {
		t.Errorf("length signal: long %v <= short %v", long.Signals["length"], short.Signals["length"])
	}
}

func TestConfidenceInRange(t *testing.T) {
	for _, text := range []string{
		"hi", "What is 2+2?", "Design a distributed cache",
		repeat("words ", 500),
	} {
		v := Classify(text)
		if v.Confidence < 0 || v.Confidence > 1 {
			t.Errorf("Classify(%.20q).Confidence = %v, out of [0,1]", text, v.Confidence)
		}
	}
}

func TestLevelOrdering(t *testing.T) {
	levels := []Level{Trivial, Simple, Moderate, Hard, Expert}
	for i := 1; i < len(levels); i++ {
		if levels[i].Rank() <= levels[i-1].Rank() {
			t.Errorf("rank(%v) <= rank(%v)", levels[i], levels[i-1])
		}
	}
	if Trivial.AtLeast(Moderate) != Moderate {
		t.Error("AtLeast did not raise trivial to moderate")
	}
	if Expert.AtLeast(Simple) != Expert {
		t.Error("AtLeast lowered expert")
	}
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
