package richtext

import "testing"

func TestPlainTextStripsMarkup(t *testing.T) {
	body := Parse(`<p>Hello <b>world</b></p><p>Second &amp; third</p>`)
	got := body.PlainText()
	want := "Hello world\nSecond & third"
	if got != want {
		t.Errorf("PlainText = %q, want %q", got, want)
	}
}

func TestMentionsExtraction(t *testing.T) {
	body := Parse(`<p><mention uid="u_1">@Ana</mention> meet <mention uid="u_2">@Ben</mention> and <mention uid="u_1">@Ana</mention></p>`)
	mentions := body.Mentions()
	if len(mentions) != 2 {
		t.Fatalf("expected 2 deduplicated mentions, got %d", len(mentions))
	}
	if mentions[0].UserID != "u_1" || mentions[1].UserID != "u_2" {
		t.Errorf("unexpected mention order: %+v", mentions)
	}
	if body.MentionsEveryone() {
		t.Error("MentionsEveryone should be false")
	}
}

func TestEveryoneMention(t *testing.T) {
	body := Parse(`<p><mention everyone>@everyone</mention> standup in 5</p>`)
	if !body.MentionsEveryone() {
		t.Fatal("expected everyone mention")
	}
	if len(body.Mentions()) != 0 {
		t.Errorf("everyone token must not appear as a user mention: %+v", body.Mentions())
	}
	if got := body.PlainText(); got != "@everyone standup in 5" {
		t.Errorf("PlainText = %q", got)
	}
}

func TestEmptyBody(t *testing.T) {
	if !Parse("<p>  </p>").Empty() {
		t.Error("whitespace-only body should be empty")
	}
	if Parse("<p>hi</p>").Empty() {
		t.Error("non-empty body reported empty")
	}
}
