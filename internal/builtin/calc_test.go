package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon/pkg/plugin"
)

type clipboardSpy struct {
	plugin.HostServices
	copied string
}

func (c *clipboardSpy) ClipboardWrite(_ context.Context, text string) error {
	c.copied = text
	return nil
}

func TestEval(t *testing.T) {
	cases := []struct {
		query string
		want  float64
		ok    bool
	}{
		{"1+2", 3, true},
		{" 10 * 4 ", 40, true},
		{"9/2", 4.5, true},
		{"5-8", -3, true},
		{"-3+5", 2, true},
		{"1/0", 0, false},
		{"hello", 0, false},
		{"1+*2", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			got, ok := eval(tc.query)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.InDelta(t, tc.want, got, 1e-9)
			}
		})
	}
}

func TestSearchProducesScoredItem(t *testing.T) {
	p := &CalcPlugin{}
	items, err := p.Search(context.Background(), "6*7")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "42", items[0].Title)
	assert.InDelta(t, 95, items[0].Score, 0.01)
	require.Len(t, items[0].Actions, 1)
}

func TestNonArithmeticQueryYieldsNothing(t *testing.T) {
	p := &CalcPlugin{}
	items, err := p.Search(context.Background(), "open settings")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCopyAction(t *testing.T) {
	spy := &clipboardSpy{}
	p := &CalcPlugin{}
	require.NoError(t, p.Initialize(context.Background(), spy))

	out, err := p.ExecuteAction(context.Background(), "calc.copy:42", nil)
	require.NoError(t, err)
	assert.Equal(t, "copied 42", out)
	assert.Equal(t, "42", spy.copied)
}
