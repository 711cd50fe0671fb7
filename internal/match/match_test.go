package match

import "testing"

func TestKeyword_WordBoundaries(t *testing.T) {
	if Keyword("Blueprint archive services", "print") {
		t.Fatal("single word must not match inside another word")
	}
	if !Keyword("Managed print services", "print") {
		t.Fatal("standalone word must match")
	}
}

func TestKeyword_MultiWord(t *testing.T) {
	if !Keyword("machine learning platform", "machine learning") {
		t.Fatal("full phrase must match")
	}
	if !Keyword("learning systems for machine shops", "machine learning") {
		t.Fatal("two significant words out of phrase must match")
	}
	if Keyword("deep learning platform", "machine learning") {
		t.Fatal("one word out of two must not match")
	}
}

func TestKeyword_EmptyInputs(t *testing.T) {
	if Keyword("", "print") || Keyword("text", "") || Keyword("text", "   ") {
		t.Fatal("empty inputs must never match")
	}
}

func TestExcludeKeyword_HyphenGuard(t *testing.T) {
	if ExcludeKeyword("Non-printing equipment", "printing") {
		t.Fatal("hyphenated compound must not trigger")
	}
	if !ExcludeKeyword("Commercial printing contract", "printing") {
		t.Fatal("standalone keyword must trigger")
	}
	if ExcludeKeyword("Reconstruction program", "construction") {
		t.Fatal("substring must not trigger")
	}
	if !ExcludeKeyword("Printing, non-printing and binding", "printing") {
		t.Fatal("a standalone hit elsewhere in the text must still trigger")
	}
}
