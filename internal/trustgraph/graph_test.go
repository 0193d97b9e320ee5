package trustgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testGraph() *Graph {
	return New([]Edge{
		{From: "ACC-MUM-001", To: "MERCHANT-A", Trust: 0.9},
		{From: "ACC-MUM-001", To: "LANDLORD", Trust: 0.75},
		{From: "ACC-DEL-002", To: "MERCHANT-B", Trust: 0.6},
	})
}

func TestCheck_UnknownReceiver(t *testing.T) {
	r := testGraph().Check("ACC-MUM-001", "MULE-99")

	assert.True(t, r.Untrusted)
	assert.Equal(t, 0.0, r.TrustScore)
	assert.Equal(t, "Unknown beneficiary: 'MULE-99' not in trust network (isolated node)", r.Reason)
}

func TestCheck_DirectEdge(t *testing.T) {
	r := testGraph().Check("ACC-MUM-001", "MERCHANT-A")

	assert.False(t, r.Untrusted)
	assert.Equal(t, 0.9, r.TrustScore)
	assert.Empty(t, r.Reason)
}

func TestCheck_KnownReceiverNoEdge(t *testing.T) {
	r := testGraph().Check("ACC-MUM-001", "MERCHANT-B")

	assert.True(t, r.Untrusted)
	assert.Equal(t, PartialTrust, r.TrustScore)
	assert.Equal(t, "No direct trust relationship between ACC-MUM-001 and MERCHANT-B", r.Reason)
}

func TestCheck_EdgesAreDirected(t *testing.T) {
	// MERCHANT-A is known, but the reverse edge does not exist.
	r := testGraph().Check("MERCHANT-A", "ACC-MUM-001")
	assert.True(t, r.Untrusted)
	assert.Equal(t, PartialTrust, r.TrustScore)
}

func TestCounts(t *testing.T) {
	g := testGraph()
	assert.Equal(t, 5, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())

	empty := New(nil)
	assert.Equal(t, 0, empty.NodeCount())
	assert.Equal(t, 0, empty.EdgeCount())
	assert.True(t, empty.Check("a", "b").Untrusted)
}

func TestNew_DuplicateEdgeOverwrites(t *testing.T) {
	g := New([]Edge{
		{From: "A", To: "B", Trust: 0.3},
		{From: "A", To: "B", Trust: 0.8},
	})
	assert.Equal(t, 1, g.EdgeCount())
	w, ok := g.Weight("A", "B")
	assert.True(t, ok)
	assert.Equal(t, 0.8, w)
}
