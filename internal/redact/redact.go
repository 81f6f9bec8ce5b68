// Package redact replaces sensitive spans in prompt text with fixed
// sentinels before the prompt is passed downstream. Redaction is the
// last stage of evaluation: it only runs on prompts that no blocking
// stage claimed, and it is the only stage that modifies the text.
package redact

import (
	"regexp"

	"github.com/luckyPipewrench/promptgate/internal/config"
)

// Kind identifies one category of sensitive data the pipeline can replace.
type Kind string

const (
	KindEmail  Kind = "email"
	KindPhone  Kind = "phone"
	KindSecret Kind = "secret"
	KindCard   Kind = "card"
)

type redactor struct {
	kind     Kind
	re       *regexp.Regexp
	sentinel string
}

// The sentinel delimiters < and > appear in no pattern's character classes,
// so a sentinel can neither re-match nor join adjacent text into a new
// match. That property is what makes Apply a fixed point: running the
// pipeline over its own output changes nothing.
var (
	emailRedactor = &redactor{
		kind:     KindEmail,
		re:       regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`),
		sentinel: "<EMAIL>",
	}
	phoneRedactor = &redactor{
		kind:     KindPhone,
		re:       regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		sentinel: "<PHONE>",
	}
	secretRedactor = &redactor{
		kind:     KindSecret,
		re:       regexp.MustCompile(`SECRET\{[^}]*\}`),
		sentinel: "<SECRET>",
	}
	cardRedactor = &redactor{
		kind:     KindCard,
		re:       regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`),
		sentinel: "<CARD>",
	}
)

// Pipeline runs the enabled redactors in fixed order: email, phone,
// secret, card. Email runs first because a phone-shaped digit run inside
// an address local part ("555.123.4567@mail.com") belongs to the email
// match; phone runs before card so a ten-digit number is never left for
// the card pattern to misread.
type Pipeline struct {
	redactors []*redactor
}

// New builds a Pipeline from the redaction rules. Disabled kinds are
// omitted entirely and never inspect the text.
func New(rules config.RedactionRules) *Pipeline {
	p := &Pipeline{}
	if rules.RedactEmails {
		p.redactors = append(p.redactors, emailRedactor)
	}
	if rules.RedactPhoneNumbers {
		p.redactors = append(p.redactors, phoneRedactor)
	}
	if rules.RedactSecrets {
		p.redactors = append(p.redactors, secretRedactor)
	}
	if rules.RedactCreditCards {
		p.redactors = append(p.redactors, cardRedactor)
	}
	return p
}

// Kinds returns the enabled redactor kinds in execution order.
func (p *Pipeline) Kinds() []Kind {
	kinds := make([]Kind, len(p.redactors))
	for i, r := range p.redactors {
		kinds[i] = r.kind
	}
	return kinds
}

// Result describes one pass of the pipeline over a prompt.
type Result struct {
	Text    string
	Applied []Kind // kinds that replaced at least one span, in execution order
	Count   int    // total spans replaced across all kinds
}

// Apply runs every enabled redactor over text, each seeing the cumulative
// output of the previous. Zero firings leaves the text untouched.
func (p *Pipeline) Apply(text string) Result {
	res := Result{Text: text}
	for _, r := range p.redactors {
		next, n := r.apply(res.Text)
		if n > 0 {
			res.Text = next
			res.Applied = append(res.Applied, r.kind)
			res.Count += n
		}
	}
	return res
}

// apply replaces every non-overlapping match of one redactor. A redactor
// that panics is treated as having found nothing; one bad pattern must
// not abort the pipeline or the verdict.
func (r *redactor) apply(text string) (out string, n int) {
	defer func() {
		if recover() != nil {
			out, n = text, 0
		}
	}()
	out = r.re.ReplaceAllStringFunc(text, func(string) string {
		n++
		return r.sentinel
	})
	return out, n
}
