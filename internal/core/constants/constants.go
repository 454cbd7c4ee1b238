package constants

import "time"

const (
	ContentTypeHeader = "Content-Type"
	ContentTypeJSON   = "application/json"

	// HeaderPrefix is the namespace every policy/observability header the
	// gateway understands or emits lives under.
	HeaderPrefix = "X-Superproxy-"

	HeaderAddr      = HeaderPrefix + "Addr"
	HeaderRestCount = HeaderPrefix + "Rest-Count"
	HeaderFailCount = HeaderPrefix + "Fail-Count"
	HeaderError     = HeaderPrefix + "Error"

	// Request-side policy headers the gateway decodes per spec.md §6's
	// `X-Superproxy-*` table.
	HeaderTimeout            = HeaderPrefix + "Timeout"
	HeaderAllowNoProxy       = HeaderPrefix + "Allow-No-Proxy"
	HeaderProxyStrategy      = HeaderPrefix + "Proxy-Strategy"
	HeaderProxyMaxRetries    = HeaderPrefix + "Proxy-Max-Retries"
	HeaderProxyWait          = HeaderPrefix + "Proxy-Wait"
	HeaderProxyPersist       = HeaderPrefix + "Proxy-Persist"
	HeaderProxyExclude       = HeaderPrefix + "Proxy-Exclude"
	HeaderProxyCountries     = HeaderPrefix + "Proxy-Countries"
	HeaderProxyCountriesExcl = HeaderPrefix + "Proxy-Countries-Exclude"
	HeaderProxyMinSpeed      = HeaderPrefix + "Proxy-Min-Speed"
	HeaderProxyRequestIdent  = HeaderPrefix + "Proxy-Request-Ident"
	HeaderProxySuccessResp   = HeaderPrefix + "Proxy-Success-Response"
	HeaderProxyFailResp      = HeaderPrefix + "Proxy-Fail-Response"
	HeaderProxyRestResp      = HeaderPrefix + "Proxy-Rest-Response"
	HeaderProxySuccessTO     = HeaderPrefix + "Proxy-Success-Timeout"
	HeaderProxyFailTO        = HeaderPrefix + "Proxy-Fail-Timeout"
	HeaderProxyRestTO        = HeaderPrefix + "Proxy-Rest-Timeout"
	HeaderProxyDebug         = HeaderPrefix + "Proxy-Debug"
)

// Retry and backoff defaults, mirrored across the Checker, the brokered
// Session and the Fetcher's scraper retry-on-status handling.
const (
	DefaultMaxBackoffSeconds          = 60 * time.Second
	DefaultRetryInterval              = 2 * time.Second
	ConnectionRetryBackoffMultiplier  = 2
	DefaultMaxBackoffMultiplier       = 12
)

// Pool defaults, named in spec.md §4.2/§9.
const (
	DefaultMaxSimultaneous   = 4
	DefaultMaxFail           = 3
	DefaultUpdateTimeout     = 30 * time.Second
	DefaultRecheckTimeout    = 10 * time.Minute
	DefaultPoolManagerIdle   = 5 * time.Minute
	DefaultBlacklistTimeout  = 24 * time.Hour
	DefaultHistoryLength     = 20
	DefaultMinActiveSize     = 10
)

// Selection strategy names accepted by ProxyPool.Get and the
// Proxy-Strategy header.
const (
	StrategyRandom  = "RANDOM"
	StrategyFastest = "FASTEST"
)

// Checker probe target identifiers.
const (
	CheckTargetHTTPBin = "httpbin"
	CheckTargetIPify   = "ipify"
)
