package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"proxybroker/internal/core/domain"
)

func TestPostFilter_CountryIncludeExclude(t *testing.T) {
	f := PostFilter{
		Countries: domain.FilterConfig{Include: []string{"US", "DE"}},
	}

	us := domain.NewProxy("1.2.3.4", 80, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	us.Country = "US"
	assert.True(t, f.Accept(us))

	fr := domain.NewProxy("1.2.3.5", 80, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	fr.Country = "FR"
	assert.False(t, f.Accept(fr))
}

func TestPostFilter_ExcludeWinsOverInclude(t *testing.T) {
	f := PostFilter{
		Countries: domain.FilterConfig{Include: []string{"*"}, Exclude: []string{"RU"}},
	}
	ru := domain.NewProxy("1.2.3.4", 80, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	ru.Country = "RU"
	assert.False(t, f.Accept(ru))
}

func TestPostFilter_TypesClause(t *testing.T) {
	f := PostFilter{Types: []domain.ProxyType{domain.ProxyTypeSOCKS5}}

	http := domain.NewProxy("1.2.3.4", 80, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	assert.False(t, f.Accept(http))

	socks := domain.NewProxy("1.2.3.4", 1080, domain.ProxyTypeSOCKS5, domain.AnonymityHigh)
	assert.True(t, f.Accept(socks))
}

func TestPostFilter_MaxAgeClause(t *testing.T) {
	f := PostFilter{MaxAge: time.Minute}

	fresh := domain.NewProxy("1.2.3.4", 80, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	assert.True(t, f.Accept(fresh))

	stale := domain.NewProxy("1.2.3.4", 80, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	stale.AddedAt = time.Now().Add(-time.Hour)
	assert.False(t, f.Accept(stale))
}

func TestPostFilter_NoCluasesAcceptsEverything(t *testing.T) {
	f := PostFilter{}
	p := domain.NewProxy("1.2.3.4", 80, domain.ProxyTypeHTTP, domain.AnonymityAnonymous)
	assert.True(t, f.Accept(p))
}
