package isupport

import (
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Well-known RPL_ISUPPORT keys.
const (
	AwayLen     = "AWAYLEN"
	CaseMapping = "CASEMAPPING"
	ChanLimit   = "CHANLIMIT"
	ChannelLen  = "CHANNELLEN"
	ChanTypes   = "CHANTYPES"
	KickLen     = "KICKLEN"
	MaxChannels = "MAXCHANNELS"
	Network     = "NETWORK"
	NickLen     = "NICKLEN"
	Prefix      = "PREFIX"
	TopicLen    = "TOPICLEN"
)

// Features is the set of ISUPPORT tokens received from a server. It is safe for
// concurrent use: the transport updates it while managers read it.
type Features struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewFeatures creates an empty feature set.
func NewFeatures() *Features {
	return &Features{values: make(map[string]string)}
}

// Update applies ISUPPORT tokens of the form KEY, KEY=VALUE or -KEY. The
// leading nickname and trailing "are supported by this server" text of the
// 005 reply must already be stripped.
func (f *Features) Update(tokens []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, token := range tokens {
		if token == "" || token == "-" || token == "=" || token == "-=" {
			continue
		}
		if strings.HasPrefix(token, "-") {
			key, _, _ := strings.Cut(token[1:], "=")
			delete(f.values, strings.ToUpper(key))
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		f.values[strings.ToUpper(key)] = value
	}
}

// Get returns the raw value of a key and whether the server advertised it.
func (f *Features) Get(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[strings.ToUpper(key)]
	return v, ok
}

// Int returns the value of a key parsed as a non-negative integer.
func (f *Features) Int(key string) (int, bool) {
	v, ok := f.Get(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ChannelTypes returns the advertised CHANTYPES or the default alphabet.
func (f *Features) ChannelTypes() ChannelTypes {
	if v, ok := f.Get(ChanTypes); ok && v != "" {
		return ChannelTypes(v)
	}
	return DefaultChannelTypes
}

// ChanLimit returns the per-prefix join limits. CHANLIMIT takes precedence;
// MAXCHANNELS applies one limit to every channel type when CHANLIMIT is absent.
func (f *Features) ChanLimit() map[rune]int {
	limits := make(map[rune]int)
	types := f.ChannelTypes()

	if raw, ok := f.Get(ChanLimit); ok {
		_ = types.ParseLimit(limits, raw)
		return limits
	}
	if n, ok := f.Int(MaxChannels); ok {
		for _, c := range types {
			limits[c] = n
		}
	}
	return limits
}

// Prefix returns the membership modes and their symbols, e.g. "ov" and "@+".
func (f *Features) Prefix() (modes, symbols string) {
	v, ok := f.Get(Prefix)
	if !ok {
		return "ov", "@+"
	}
	if v == "" || len(v)%2 != 0 || v[0] != '(' {
		return "", ""
	}
	for _, c := range v {
		if c > unicode.MaxASCII {
			return "", ""
		}
	}
	end := strings.IndexByte(v, ')')
	if end < 0 || len(v)-end-1 != end-1 {
		return "", ""
	}
	return v[1:end], v[end+1:]
}

// Network returns the advertised network name.
func (f *Features) Network() string {
	v, _ := f.Get(Network)
	return v
}

// Snapshot returns a copy of all advertised tokens.
func (f *Features) Snapshot() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}
