package parser_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/compiler"
	"github.com/ibnctl/ibnctl/internal/model"
	"github.com/ibnctl/ibnctl/internal/parser"
)

// TestBandwidthClauseCompilesToCanonicalBitsPerSecond runs spec.md §8
// scenario 2's literal clause through the Parser and Compiler together,
// so unit canonicalization is exercised end to end rather than asserted
// against a pre-canonicalized compiler fixture.
func TestBandwidthClauseCompilesToCanonicalBitsPerSecond(t *testing.T) {
	c := newTestCatalog(t)
	p := parser.New(c)

	parsed, err := p.Parse("limit bandwidth to 50KB/s for camera-01")
	require.NoError(t, err)
	require.Len(t, parsed, 1)

	devices := c.ResolveTargets(parsed[0].TargetSelector)
	require.Len(t, devices, 1)

	comp := compiler.New(nil, "eth0")
	policies, err := comp.Compile("intent-e2e", parsed[0], devices)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	assert.Equal(t, model.PolicyHTBClass, policies[0].Kind)
	assert.Equal(t, int64(409600), policies[0].Parameters["rate"])
	assert.Equal(t, int64(409600), policies[0].Parameters["ceil"])
}
