package types

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skywalkerx28/nexus/internal/idgen"
)

func TestEntityValidate(t *testing.T) {
	ok := Entity{Type: idgen.TypeCompany, CanonicalName: "Acme Corp", Status: StatusActive}
	assert.NoError(t, ok.Validate())

	empty := ok
	empty.CanonicalName = "   "
	assert.Error(t, empty.Validate())

	badStatus := ok
	badStatus.Status = EntityStatus("BOGUS")
	assert.Error(t, badStatus.Validate())
}

func TestAliasValidate(t *testing.T) {
	ok := Alias{SynID: "CO_x", Alias: "Acme", Confidence: 0.9}
	assert.NoError(t, ok.Validate())

	badConf := ok
	badConf.Confidence = 1.5
	assert.Error(t, badConf.Validate())
}

func TestEdgeValidate(t *testing.T) {
	ok := Edge{SrcSynID: "CO_a", DstSynID: "CO_b", RelType: "PARENT_OF", Confidence: 0.9}
	assert.NoError(t, ok.Validate())

	selfEdge := ok
	selfEdge.DstSynID = selfEdge.SrcSynID
	assert.Error(t, selfEdge.Validate())
}

func TestEdgeSameAs(t *testing.T) {
	ev := func(conf float64, source string) Edge {
		return Edge{Source: source, Confidence: conf}
	}
	assert.True(t, ev(0.90, "reuters").SameAs(ev(0.905, "reuters")))
	assert.False(t, ev(0.90, "reuters").SameAs(ev(0.80, "reuters")))
	assert.False(t, ev(0.90, "reuters").SameAs(ev(0.90, "bloomberg")))
}

func TestAttributeValidate(t *testing.T) {
	s := "NYSE"
	strAttr := Attribute{Key: "exchange", Datatype: DatatypeString, ValueString: &s, Confidence: 1.0}
	assert.NoError(t, strAttr.Validate())

	missingVal := Attribute{Key: "exchange", Datatype: DatatypeString, Confidence: 1.0}
	assert.Error(t, missingVal.Validate())

	n := 42.0
	numAttr := Attribute{Key: "headcount", Datatype: DatatypeNumber, ValueNumber: &n, Confidence: 1.0}
	assert.NoError(t, numAttr.Validate())
}

func TestAttributeSameAs(t *testing.T) {
	a := 1.0
	b := 1.0
	x := Attribute{Datatype: DatatypeNumber, ValueNumber: &a, Source: "s", Confidence: 0.9}
	y := Attribute{Datatype: DatatypeNumber, ValueNumber: &b, Source: "s", Confidence: 0.9}
	assert.True(t, x.SameAs(y))

	c := 2.0
	z := Attribute{Datatype: DatatypeNumber, ValueNumber: &c, Source: "s", Confidence: 0.9}
	assert.False(t, x.SameAs(z))
}
