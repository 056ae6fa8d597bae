package intent

import (
	"context"
	"regexp"
	"strings"

	"shopify-analytics-agent/internal/domain"
)

type cue struct {
	re     *regexp.Regexp
	weight int
}

func cues(weight int, patterns ...string) []cue {
	out := make([]cue, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, cue{re: regexp.MustCompile(`\b(?:` + p + `)\b`), weight: weight})
	}
	return out
}

func join(groups ...[]cue) []cue {
	var out []cue
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var keywordCues = map[domain.Intent][]cue{
	domain.IntentSales: join(
		cues(2, `best[\s-]sell(?:ing|ers?)`, `(?:top|best)(?: \d+)?(?: selling)? (?:products|items|sellers)`, `top[\s-]sell(?:ing|ers?)`, `net sales`, `gross sales`, `how much (?:did i|have i|i) (?:make|made|earn|sell)`),
		cues(1, `sales?`, `sold`, `sell(?:ing)?`, `revenue`, `earn(?:ed|ings)?`, `income`, `profit`, `money`, `aov`),
	),
	domain.IntentOrders: join(
		cues(2, `how many orders`, `order count`, `orders? (?:per|by|each) day`, `fulfil(?:l?ment|led)`, `unfulfilled`),
		cues(1, `orders?`, `shipping`, `shipped`, `returns?`, `refunds?`, `transactions?`, `checkouts?`),
	),
	domain.IntentCustomers: join(
		cues(2, `repeat (?:customers?|buyers?)`, `who (?:bought|buys|purchased)`, `where (?:are )?my (?:customers|buyers)`, `customer (?:value|segments?|locations?)`),
		cues(1, `customers?`, `buyers?`, `shoppers?`, `clients?`, `cities`, `city`, `countr(?:y|ies)`, `purchased`),
	),
	domain.IntentInventory: join(
		cues(2, `out of stock`, `low (?:on )?stock`, `in stock`, `running (?:out|low)`, `restock`, `reorder`, `list (?:my |all )?products`, `what products`, `show (?:me )?(?:my |all )?products`),
		cues(1, `inventory`, `stock`, `catalog(?:ue)?`, `warehouse`, `units left`, `quantity available`),
	),
}

// Ties go to the earlier intent in this list.
var tieOrder = []domain.Intent{domain.IntentSales, domain.IntentOrders, domain.IntentCustomers, domain.IntentInventory}

var followUpRe = regexp.MustCompile(`^(?:what|how)\s+about\b|^(?:and|also|now)\b|\bsame\s+(?:for|but|thing|question)\b|^(?:compared?\s+(?:to|with)|versus|vs\.?)\b|^what\s+if\b`)

// IsFollowUp reports whether question explicitly refers back to the previous
// turn, e.g. "what about last month".
func IsFollowUp(question string) bool {
	return followUpRe.MatchString(normalize(question))
}

func normalize(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Keyword is a deterministic classifier driven by weighted keyword cues.
type Keyword struct{}

// NewKeyword returns a keyword classifier.
func NewKeyword() *Keyword { return &Keyword{} }

// Classify implements Classifier.
func (k *Keyword) Classify(ctx context.Context, question string, prior *domain.ConversationTurn) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return k.classify(question, prior), nil
}

func (k *Keyword) classify(question string, prior *domain.ConversationTurn) Result {
	text := normalize(question)
	scores, hits := score(text)

	if prior != nil && prior.Intent != domain.IntentAmbiguous && prior.Intent.Valid() && followUpRe.MatchString(text) {
		// A follow-up that names no other domain keeps the prior intent.
		if hits == 0 || scores[prior.Intent] > 0 {
			return Result{Intent: prior.Intent, Confidence: domain.ConfidenceHigh, Inherited: true, Source: "follow_up"}
		}
	}

	if hits == 0 {
		return Result{Intent: domain.IntentAmbiguous, Confidence: domain.ConfidenceLow, Source: "keyword"}
	}

	best, bestScore, runnerUp := domain.IntentAmbiguous, 0, 0
	for _, in := range tieOrder {
		s := scores[in]
		switch {
		case s > bestScore:
			runnerUp = bestScore
			best, bestScore = in, s
		case s > runnerUp:
			runnerUp = s
		}
	}

	conf := domain.ConfidenceMedium
	switch {
	case bestScore == runnerUp:
		conf = domain.ConfidenceLow
	case bestScore >= 2 && bestScore >= 2*runnerUp:
		conf = domain.ConfidenceHigh
	case runnerUp > 0:
		conf = domain.ConfidenceLow
	}
	return Result{Intent: best, Confidence: conf, Source: "keyword"}
}

func score(text string) (map[domain.Intent]int, int) {
	scores := make(map[domain.Intent]int, len(keywordCues))
	hits := 0
	for in, cs := range keywordCues {
		for _, c := range cs {
			if c.re.MatchString(text) {
				scores[in] += c.weight
				hits++
			}
		}
	}
	return scores, hits
}
