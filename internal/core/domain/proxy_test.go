package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProxy_ForcesHighAnonymityForSOCKS(t *testing.T) {
	p := NewProxy("1.2.3.4", 1080, ProxyTypeSOCKS5, AnonymityTransparent)
	assert.Equal(t, AnonymityHigh, p.Anonymity, "non-HTTP proxies must always report AnonymityHigh")
}

func TestNewProxy_PreservesAnonymityForHTTP(t *testing.T) {
	p := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	assert.Equal(t, AnonymityAnonymous, p.Anonymity)
}

func TestMergeMeta_UnionsTypesWithinSameFamily(t *testing.T) {
	a := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	b := NewProxy("1.2.3.4", 8080, ProxyTypeHTTPS, AnonymityAnonymous)

	require.NoError(t, a.MergeMeta(b))
	assert.True(t, a.HasType(ProxyTypeHTTP))
	assert.True(t, a.HasType(ProxyTypeHTTPS))
}

func TestMergeMeta_RejectsCrossFamily(t *testing.T) {
	a := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	b := NewProxy("1.2.3.4", 8080, ProxyTypeSOCKS5, AnonymityHigh)

	err := a.MergeMeta(b)
	assert.Error(t, err, "an HTTP record and a SOCKS record at the same addr must never merge")
	assert.False(t, a.HasType(ProxyTypeSOCKS5))
}

func TestMergeMeta_FillsScalarsOnlyWhenAbsent(t *testing.T) {
	a := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	a.Country = "US"

	b := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	b.Country = "DE"
	b.Speed = 512

	require.NoError(t, a.MergeMeta(b))
	assert.Equal(t, "US", a.Country, "an already-known country must never be overwritten by a later observation")
	assert.Equal(t, float64(512), a.Speed, "an absent speed must be filled in from the merged record")
}

func TestMergeMeta_IsCommutativeForSameFamilyFields(t *testing.T) {
	base := func() (*Proxy, *Proxy) {
		x := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
		y := NewProxy("1.2.3.4", 8080, ProxyTypeHTTPS, AnonymityAnonymous)
		y.Country = "FR"
		return x, y
	}

	x1, y1 := base()
	require.NoError(t, x1.MergeMeta(y1))

	y2, x2 := base()
	require.NoError(t, y2.MergeMeta(x2))

	assert.ElementsMatch(t, typeNames(x1.Types), typeNames(y2.Types))
	assert.Equal(t, x1.Country, y2.Country)
}

func typeNames(types map[ProxyType]struct{}) []ProxyType {
	out := make([]ProxyType, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	return out
}

func TestProxy_InUseNeverGoesNegative(t *testing.T) {
	p := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	p.DecrInUse()
	assert.EqualValues(t, 0, p.InUse())

	p.IncrInUse()
	p.IncrInUse()
	p.DecrInUse()
	assert.EqualValues(t, 1, p.InUse())
}

func TestProxy_HistoryRingIsBoundedAndOrdered(t *testing.T) {
	p := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	for i := 0; i < historyCapacity+5; i++ {
		p.RecordOutcome("success", time.Millisecond, 200)
	}

	hist := p.History()
	assert.Len(t, hist, historyCapacity)
	assert.EqualValues(t, historyCapacity+5, p.SuccessCount())
}

func TestProxy_RemoveTypeNeverEmptiesTheSet(t *testing.T) {
	p := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	p.RemoveType(ProxyTypeHTTP)
	assert.True(t, p.HasType(ProxyTypeHTTP), "the last remaining type must never be removed")
}

func TestProxy_RecordOutcomeStampsSuccessAndFailAt(t *testing.T) {
	p := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	assert.True(t, p.SuccessAt().IsZero())
	assert.True(t, p.FailAt().IsZero())

	p.RecordOutcome("fail", 0, 503)
	assert.False(t, p.FailAt().IsZero())
	assert.True(t, p.SuccessAt().IsZero())

	p.RecordOutcome("success", 0, 200)
	assert.False(t, p.SuccessAt().IsZero())
	assert.True(t, p.SuccessAt().After(p.FailAt()))
}

func TestProxy_RecordOutcomeRestCountsAsSuccessAt(t *testing.T) {
	p := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	p.RecordOutcome("rest", 0, 429)
	assert.False(t, p.SuccessAt().IsZero(), "rest is treated as a success that forces a rest period")
}

func TestProxy_IsRestingAndIsChecked(t *testing.T) {
	p := NewProxy("1.2.3.4", 8080, ProxyTypeHTTP, AnonymityAnonymous)
	now := time.Now()

	assert.False(t, p.IsResting(now))
	assert.False(t, p.IsChecked())

	p.RestTill = now.Add(time.Minute)
	assert.True(t, p.IsResting(now))

	p.CheckedAt = now
	assert.True(t, p.IsChecked())
}
