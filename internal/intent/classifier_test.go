package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"shopify-analytics-agent/internal/domain"
)

func TestKeyword_Classify(t *testing.T) {
	cases := []struct {
		question string
		intent   domain.Intent
		conf     domain.Confidence
	}{
		{"What were my top 5 selling products last week?", domain.IntentSales, domain.ConfidenceHigh},
		{"How much revenue did I make this month?", domain.IntentSales, domain.ConfidenceMedium},
		{"How many orders did I get yesterday?", domain.IntentOrders, domain.ConfidenceHigh},
		{"Which products are running low on stock?", domain.IntentInventory, domain.ConfidenceHigh},
		{"Show me my products", domain.IntentInventory, domain.ConfidenceHigh},
		{"Where are my customers located?", domain.IntentCustomers, domain.ConfidenceHigh},
		{"What's the weather like?", domain.IntentAmbiguous, domain.ConfidenceLow},
		{"", domain.IntentAmbiguous, domain.ConfidenceLow},
	}
	k := NewKeyword()
	for _, tc := range cases {
		t.Run(tc.question, func(t *testing.T) {
			res, err := k.Classify(context.Background(), tc.question, nil)
			require.NoError(t, err)
			require.Equal(t, tc.intent, res.Intent)
			require.Equal(t, tc.conf, res.Confidence)
			require.False(t, res.Inherited)
		})
	}
}

func TestKeyword_TieBreaksLow(t *testing.T) {
	res, err := NewKeyword().Classify(context.Background(), "sales and customers", nil)
	require.NoError(t, err)
	require.Equal(t, domain.IntentSales, res.Intent)
	require.Equal(t, domain.ConfidenceLow, res.Confidence)
}

func TestKeyword_FollowUpInheritsIntent(t *testing.T) {
	prior := &domain.ConversationTurn{Question: "What were my sales last week?", Intent: domain.IntentSales}
	k := NewKeyword()

	for _, q := range []string{"What about last month?", "how about this year", "and yesterday?", "Same for last quarter"} {
		t.Run(q, func(t *testing.T) {
			res, err := k.Classify(context.Background(), q, prior)
			require.NoError(t, err)
			require.Equal(t, domain.IntentSales, res.Intent)
			require.Equal(t, domain.ConfidenceHigh, res.Confidence)
			require.True(t, res.Inherited)
		})
	}

	res, err := k.Classify(context.Background(), "what about inventory?", prior)
	require.NoError(t, err)
	require.Equal(t, domain.IntentInventory, res.Intent)
	require.False(t, res.Inherited)
}

func TestKeyword_NoInheritanceWithoutPrior(t *testing.T) {
	res, err := NewKeyword().Classify(context.Background(), "What about last month?", nil)
	require.NoError(t, err)
	require.Equal(t, domain.IntentAmbiguous, res.Intent)

	amb := &domain.ConversationTurn{Intent: domain.IntentAmbiguous}
	res, err = NewKeyword().Classify(context.Background(), "What about last month?", amb)
	require.NoError(t, err)
	require.Equal(t, domain.IntentAmbiguous, res.Intent)
}

func TestKeyword_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewKeyword().Classify(ctx, "sales", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsFollowUp(t *testing.T) {
	require.True(t, IsFollowUp("  What   about last month"))
	require.True(t, IsFollowUp("compared to last year?"))
	require.False(t, IsFollowUp("what were sales about last month"))
}

type fakeGen struct {
	out     string
	err     error
	calls   int
	prompts []string
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

func TestNewLLM_RequiresGenerator(t *testing.T) {
	_, err := NewLLM(nil, nil)
	require.Error(t, err)
}

func TestLLM_Classify(t *testing.T) {
	cases := []struct {
		name   string
		gen    *fakeGen
		intent domain.Intent
		conf   domain.Confidence
		source string
	}{
		{
			name:   "plain json",
			gen:    &fakeGen{out: `{"intent":"customers","confidence":"high"}`},
			intent: domain.IntentCustomers, conf: domain.ConfidenceHigh, source: "llm",
		},
		{
			name:   "fenced json",
			gen:    &fakeGen{out: "```json\n{\"intent\": \"Orders\", \"confidence\": \"weird\"}\n```"},
			intent: domain.IntentOrders, conf: domain.ConfidenceMedium, source: "llm",
		},
		{
			name:   "ambiguous is low",
			gen:    &fakeGen{out: `{"intent":"ambiguous","confidence":"high"}`},
			intent: domain.IntentAmbiguous, conf: domain.ConfidenceLow, source: "llm",
		},
		{
			name:   "generator error falls back",
			gen:    &fakeGen{err: errors.New("boom")},
			intent: domain.IntentInventory, conf: domain.ConfidenceHigh, source: "keyword",
		},
		{
			name:   "garbage falls back",
			gen:    &fakeGen{out: "I think it's about stock"},
			intent: domain.IntentInventory, conf: domain.ConfidenceHigh, source: "keyword",
		},
		{
			name:   "unknown intent falls back",
			gen:    &fakeGen{out: `{"intent":"marketing"}`},
			intent: domain.IntentInventory, conf: domain.ConfidenceHigh, source: "keyword",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewLLM(tc.gen, nil)
			require.NoError(t, err)
			res, err := c.Classify(context.Background(), "Which items are out of stock?", nil)
			require.NoError(t, err)
			require.Equal(t, tc.intent, res.Intent)
			require.Equal(t, tc.conf, res.Confidence)
			require.Equal(t, tc.source, res.Source)
			require.Equal(t, 1, tc.gen.calls)
		})
	}
}

func TestLLM_FollowUpSkipsModel(t *testing.T) {
	gen := &fakeGen{out: `{"intent":"orders","confidence":"high"}`}
	c, err := NewLLM(gen, nil)
	require.NoError(t, err)

	prior := &domain.ConversationTurn{Question: "sales last week", Intent: domain.IntentSales, Answer: "You made $10."}
	res, err := c.Classify(context.Background(), "what about last month", prior)
	require.NoError(t, err)
	require.Equal(t, domain.IntentSales, res.Intent)
	require.True(t, res.Inherited)
	require.Zero(t, gen.calls)
}

func TestLLM_PromptCarriesPriorTurn(t *testing.T) {
	gen := &fakeGen{out: `{"intent":"sales","confidence":"high"}`}
	c, err := NewLLM(gen, nil)
	require.NoError(t, err)

	prior := &domain.ConversationTurn{Question: "stock levels?", Intent: domain.IntentInventory, Answer: "All good."}
	_, err = c.Classify(context.Background(), "revenue this month", prior)
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	require.Contains(t, gen.prompts[0], "Question: revenue this month")
	require.Contains(t, gen.prompts[0], "User: stock levels?")
}

func TestLLM_CanceledDuringGenerate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &cancelingGen{cancel: cancel}
	c, err := NewLLM(gen, nil)
	require.NoError(t, err)
	_, err = c.Classify(ctx, "sales", nil)
	require.ErrorIs(t, err, context.Canceled)
}

type cancelingGen struct{ cancel context.CancelFunc }

func (g *cancelingGen) Generate(ctx context.Context, _ string) (string, error) {
	g.cancel()
	return "", ctx.Err()
}
