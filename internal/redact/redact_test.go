package redact

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/luckyPipewrench/promptgate/internal/config"
)

func allRules() config.RedactionRules {
	return config.RedactionRules{
		RedactEmails:       true,
		RedactPhoneNumbers: true,
		RedactSecrets:      true,
		RedactCreditCards:  true,
	}
}

func TestApply_Email(t *testing.T) {
	p := New(allRules())
	res := p.Apply("Contact me at elon@tesla.com please.")
	if res.Text != "Contact me at <EMAIL> please." {
		t.Errorf("got %q", res.Text)
	}
	if len(res.Applied) != 1 || res.Applied[0] != KindEmail {
		t.Errorf("applied = %v, want [email]", res.Applied)
	}
	if res.Count != 1 {
		t.Errorf("count = %d, want 1", res.Count)
	}
}

func TestApply_Phone(t *testing.T) {
	p := New(allRules())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"dashed", "call 555-123-4567 now", "call <PHONE> now"},
		{"dotted", "call 555.123.4567 now", "call <PHONE> now"},
		{"bare ten digits", "call 5551234567 now", "call <PHONE> now"},
		{"space separated not matched", "call 555 123 4567 now", "call 555 123 4567 now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Apply(tt.input).Text; got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestApply_Secret(t *testing.T) {
	p := New(allRules())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "token SECRET{abc123} end", "token <SECRET> end"},
		{"empty body", "SECRET{}", "<SECRET>"},
		{"unclosed brace not matched", "SECRET{abc", "SECRET{abc"},
		{"two secrets", "SECRET{a} SECRET{b}", "<SECRET> <SECRET>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Apply(tt.input).Text; got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestApply_Card(t *testing.T) {
	p := New(allRules())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"space separated", "my card 4111 1111 1111 1111 thanks", "my card <CARD> thanks"},
		{"dash separated", "4111-1111-1111-1111", "<CARD>"},
		{"contiguous sixteen", "4111111111111111", "<CARD>"},
		{"thirteen digits", "4222222222222", "<CARD>"},
		{"twelve digits too short", "411122223333", "411122223333"},
		{"seventeen digits no boundary", "41112222333344445", "41112222333344445"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Apply(tt.input).Text; got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestApply_Cumulative(t *testing.T) {
	p := New(allRules())
	res := p.Apply("elon@tesla.com or 555-123-4567")
	if res.Text != "<EMAIL> or <PHONE>" {
		t.Errorf("got %q", res.Text)
	}
	if len(res.Applied) != 2 || res.Applied[0] != KindEmail || res.Applied[1] != KindPhone {
		t.Errorf("applied = %v, want [email phone]", res.Applied)
	}
	if res.Count != 2 {
		t.Errorf("count = %d, want 2", res.Count)
	}
}

func TestApply_EmailClaimsPhoneShapedLocalPart(t *testing.T) {
	// The digit run belongs to the address; running email first keeps the
	// phone redactor from splitting it.
	p := New(allRules())
	res := p.Apply("reach me at 555.123.4567@mail.com")
	if res.Text != "reach me at <EMAIL>" {
		t.Errorf("got %q", res.Text)
	}
	if len(res.Applied) != 1 || res.Applied[0] != KindEmail {
		t.Errorf("applied = %v, want [email]", res.Applied)
	}
}

func TestApply_PhoneInsideSecretBody(t *testing.T) {
	// Phone runs before secret, so the inner span is already a sentinel by
	// the time the secret pattern consumes the braces.
	p := New(allRules())
	res := p.Apply("SECRET{555-123-4567}")
	if res.Text != "<SECRET>" {
		t.Errorf("got %q", res.Text)
	}
	if len(res.Applied) != 2 || res.Applied[0] != KindPhone || res.Applied[1] != KindSecret {
		t.Errorf("applied = %v, want [phone secret]", res.Applied)
	}
}

func TestApply_MultipleSameKind(t *testing.T) {
	p := New(allRules())
	res := p.Apply("a@b.cc and c@d.ee")
	if res.Text != "<EMAIL> and <EMAIL>" {
		t.Errorf("got %q", res.Text)
	}
	if len(res.Applied) != 1 {
		t.Errorf("applied = %v, want one kind", res.Applied)
	}
	if res.Count != 2 {
		t.Errorf("count = %d, want 2", res.Count)
	}
}

func TestApply_NoMatches(t *testing.T) {
	p := New(allRules())
	res := p.Apply("a perfectly ordinary prompt")
	if res.Text != "a perfectly ordinary prompt" {
		t.Errorf("text changed: %q", res.Text)
	}
	if len(res.Applied) != 0 || res.Count != 0 {
		t.Errorf("applied = %v count = %d, want none", res.Applied, res.Count)
	}
}

func TestApply_EmptyString(t *testing.T) {
	p := New(allRules())
	res := p.Apply("")
	if res.Text != "" || len(res.Applied) != 0 {
		t.Errorf("empty input produced %+v", res)
	}
}

func TestApply_DisabledKindIgnored(t *testing.T) {
	p := New(config.RedactionRules{RedactEmails: true})
	res := p.Apply("elon@tesla.com 555-123-4567")
	if res.Text != "<EMAIL> 555-123-4567" {
		t.Errorf("got %q", res.Text)
	}
}

func TestApply_AllDisabled(t *testing.T) {
	p := New(config.RedactionRules{})
	res := p.Apply("elon@tesla.com 555-123-4567 SECRET{x} 4111111111111111")
	if res.Text != "elon@tesla.com 555-123-4567 SECRET{x} 4111111111111111" {
		t.Errorf("text changed with no redactors enabled: %q", res.Text)
	}
}

func TestKinds_Order(t *testing.T) {
	p := New(allRules())
	kinds := p.Kinds()
	want := []Kind{KindEmail, KindPhone, KindSecret, KindCard}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestRedactorPanicIsNoMatch(t *testing.T) {
	r := &redactor{kind: KindEmail, re: nil, sentinel: "<EMAIL>"}
	out, n := r.apply("a@b.cc")
	if out != "a@b.cc" || n != 0 {
		t.Errorf("panicking redactor returned (%q, %d), want input unchanged", out, n)
	}
}

// TestApply_FixedPoint checks the pipeline invariant property-based: for
// any input, applying the pipeline to its own output changes nothing, and
// the output matches none of the enabled patterns. The generator mixes raw
// strings with fragments shaped like the data the patterns hunt for,
// including sentinel-adjacent pieces that would expose a re-match bug.
func TestApply_FixedPoint(t *testing.T) {
	p := New(allRules())

	fragments := []string{
		"elon@tesla.com", "a@b.cc", "@d.ee", "user+tag@host.org",
		"555-123-4567", "5551234567", "555.123.4567", "555",
		"4111 1111 1111 1111", "4111111111111111", "1234",
		"SECRET{k}", "SECRET{", "}", "{",
		"<EMAIL>", "<PHONE>", "<SECRET>", "<CARD>",
		"@", ".", "-", " ", "plain text", "\n",
	}
	gen := rapid.OneOf(
		rapid.String(),
		rapid.Custom(func(rt *rapid.T) string {
			parts := rapid.SliceOfN(rapid.SampledFrom(fragments), 1, 8).Draw(rt, "parts")
			return strings.Join(parts, "")
		}),
	)

	rapid.Check(t, func(rt *rapid.T) {
		text := gen.Draw(rt, "text")
		once := p.Apply(text)
		twice := p.Apply(once.Text)
		if twice.Text != once.Text {
			rt.Fatalf("not a fixed point: %q -> %q -> %q", text, once.Text, twice.Text)
		}
		if len(twice.Applied) != 0 {
			rt.Fatalf("second pass fired %v on %q", twice.Applied, once.Text)
		}
		for _, r := range p.redactors {
			if r.re.MatchString(once.Text) {
				rt.Fatalf("%s pattern still matches output %q of input %q", r.kind, once.Text, text)
			}
		}
	})
}
