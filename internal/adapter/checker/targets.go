package checker

import (
	"encoding/json"
	"fmt"

	"proxybroker/internal/core/constants"
)

// checkTarget names a reference echo endpoint that returns the caller's
// apparent IP as JSON, per spec.md §4.3. httpbin nests it under "origin";
// ipify returns it as a bare "ip" field - two different marker shapes, so
// each target carries its own extraction rule rather than assuming one.
type checkTarget struct {
	HTTPURL  string
	HTTPSURL string
	marker   func(body []byte) bool
}

func httpbinMarker(body []byte) bool {
	var v struct {
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return false
	}
	return v.Origin != ""
}

func ipifyMarker(body []byte) bool {
	var v struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return false
	}
	return v.IP != ""
}

var targets = map[string]checkTarget{
	constants.CheckTargetHTTPBin: {
		HTTPURL:  "http://httpbin.org/get",
		HTTPSURL: "https://httpbin.org/get",
		marker:   httpbinMarker,
	},
	constants.CheckTargetIPify: {
		HTTPURL:  "http://api.ipify.org/?format=json",
		HTTPSURL: "https://api64.ipify.org/?format=json",
		marker:   ipifyMarker,
	},
}

func resolveTarget(name string) (checkTarget, error) {
	t, ok := targets[name]
	if !ok {
		return checkTarget{}, fmt.Errorf("checker: unknown target %q", name)
	}
	return t, nil
}
