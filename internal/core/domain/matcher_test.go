package domain

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatcher_IsZero(t *testing.T) {
	var nilMatcher *Matcher
	assert.True(t, nilMatcher.IsZero())

	empty := &Matcher{}
	assert.True(t, empty.IsZero())

	configured := &Matcher{Status: []int{429}}
	assert.False(t, configured.IsZero())
}

func TestMatcher_StatusClause(t *testing.T) {
	m := &Matcher{Status: []int{429, 503}}
	assert.True(t, m.Match(429, http.Header{}, nil))
	assert.False(t, m.Match(200, http.Header{}, nil))
}

func TestMatcher_StatusNotClause(t *testing.T) {
	m := &Matcher{StatusNot: []int{200, 201}}
	assert.False(t, m.Match(200, http.Header{}, nil))
	assert.True(t, m.Match(429, http.Header{}, nil))
}

func TestMatcher_TextClauseRequiresAllFragments(t *testing.T) {
	m := &Matcher{Text: []string{"rate", "limit"}}
	assert.True(t, m.Match(200, http.Header{}, []byte("you hit the rate limit")))
	assert.False(t, m.Match(200, http.Header{}, []byte("rate only")))
}

func TestMatcher_TextNotClauseExcludesAnyFragment(t *testing.T) {
	m := &Matcher{TextNot: []string{"captcha"}}
	assert.False(t, m.Match(200, http.Header{}, []byte("please solve the captcha")))
	assert.True(t, m.Match(200, http.Header{}, []byte("ok")))
}

func TestMatcher_HeaderClauses(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")

	present := &Matcher{Header: [][]string{{"Retry-After"}}}
	assert.True(t, present.Match(429, h, nil))

	substr := &Matcher{Header: [][]string{{"Retry-After", "30"}}}
	assert.True(t, substr.Match(429, h, nil))

	mismatch := &Matcher{Header: [][]string{{"Retry-After", "99"}}}
	assert.False(t, mismatch.Match(429, h, nil))

	absent := &Matcher{HeaderNot: [][]string{{"Retry-After"}}}
	assert.False(t, absent.Match(429, h, nil))
}

func TestMatcher_AllClausesMustHold(t *testing.T) {
	m := &Matcher{Status: []int{200}, Text: []string{"ok"}}
	assert.True(t, m.Match(200, http.Header{}, []byte("ok")))
	assert.False(t, m.Match(200, http.Header{}, []byte("nope")))
	assert.False(t, m.Match(500, http.Header{}, []byte("ok")))
}

func TestParseIntList(t *testing.T) {
	assert.Equal(t, []int{429, 503}, ParseIntList("429, 503"))
	assert.Nil(t, ParseIntList(""))
	assert.Equal(t, []int{1}, ParseIntList("1,notanumber"))
}
