package settings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// snapshot is the parsed copy of the settings table. Only integer values are kept; every policy key is one.
type snapshot struct {
	version int64 // latest updated_at in unix millis
	ints    map[string]int64
}

var current atomic.Pointer[snapshot]

func init() {
	current.Store(&snapshot{ints: map[string]int64{}})
}

// StoreSnapshot parses raw settings values and publishes them. Keys whose value is not an integer are dropped.
func StoreSnapshot(updatedAt time.Time, values map[string]json.RawMessage) {
	next := &snapshot{ints: make(map[string]int64, len(values))}
	if !updatedAt.IsZero() {
		next.version = updatedAt.UnixMilli()
	}
	for k, raw := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		if n, ok := parseDBConfigInt64(raw); ok {
			next.ints[key] = n
		}
	}
	current.Store(next)
}

// Policy is the billing policy in force at a point in time.
type Policy struct {
	MarginPPM              int64
	ReferralThresholdMicro int64
	ReferralBonusMicro     int64
	FreeDailyQuotaMicro    int64
	WelcomeBonusMicro      int64

	// Version is the settings snapshot timestamp in unix millis; zero means file defaults only.
	Version int64
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		MarginPPM:              DefaultMarginPPM,
		ReferralThresholdMicro: DefaultReferralThresholdMicro,
		ReferralBonusMicro:     DefaultReferralBonusMicro,
		FreeDailyQuotaMicro:    DefaultFreeDailyQuotaMicro,
		WelcomeBonusMicro:      DefaultWelcomeBonusMicro,
	}
}

// CurrentPolicy overlays the settings snapshot on top of the given defaults.
// Negative or unparsable overrides are ignored.
func CurrentPolicy(defaults Policy) Policy {
	snap := current.Load()
	p := defaults
	for _, field := range []struct {
		key string
		dst *int64
	}{
		{MarginPPMKey, &p.MarginPPM},
		{ReferralThresholdMicroKey, &p.ReferralThresholdMicro},
		{ReferralBonusMicroKey, &p.ReferralBonusMicro},
		{FreeDailyQuotaMicroKey, &p.FreeDailyQuotaMicro},
		{WelcomeBonusMicroKey, &p.WelcomeBonusMicro},
	} {
		if v, ok := snap.ints[field.key]; ok && v >= 0 {
			*field.dst = v
		}
	}
	p.Version = snap.version
	return p
}

// VersionTime returns the policy version as a timestamp.
func (p Policy) VersionTime() time.Time {
	if p.Version == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.Version).UTC()
}

// Int64Value returns the integer stored under key in the settings snapshot.
func Int64Value(key string) (int64, bool) {
	v, ok := current.Load().ints[strings.TrimSpace(key)]
	return v, ok
}

func parseDBConfigInt64(raw json.RawMessage) (int64, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return 0, false
	}
	var n int64
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &n); errUnmarshal == nil {
		return n, true
	}
	var f float64
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &f); errUnmarshal == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
	var s string
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &s); errUnmarshal == nil {
		parsed, errParse := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if errParse == nil {
			return parsed, true
		}
	}
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &wrapper); errUnmarshal == nil && len(wrapper.Value) > 0 {
		return parseDBConfigInt64(wrapper.Value)
	}
	return 0, false
}
