// Package isupport parses the limits and features an IRC server advertises in
// RPL_ISUPPORT (005) replies.
package isupport

import (
	"errors"
	"strconv"
	"strings"
)

// DefaultChannelTypes is the channel prefix alphabet used when the server does
// not advertise CHANTYPES.
const DefaultChannelTypes ChannelTypes = "#&+!"

// ErrNilDestination is returned when a limit is parsed into a nil map.
var ErrNilDestination = errors.New("isupport: destination map cannot be nil")

// ChannelTypes is an alphabet of channel prefix characters, for example "#&".
type ChannelTypes string

// Contains reports whether c is one of the channel prefix characters.
func (t ChannelTypes) Contains(c rune) bool {
	return strings.ContainsRune(string(t), c)
}

// IsChannel reports whether name starts with one of the channel prefix characters.
func (t ChannelTypes) IsChannel(name string) bool {
	if name == "" {
		return false
	}
	return t.Contains([]rune(name)[0])
}

// ParseLimit parses a value in the CHANLIMIT grammar
//
//	PREFIXES:NUMBER[,PREFIXES:NUMBER...]
//
// into dest, assigning NUMBER to every prefix character. Fragments run left to
// right, so a later valid fragment overrides an earlier one. A fragment with an
// empty prefix list, a prefix outside the alphabet or a number that is not a
// non-negative integer is dropped whole. Malformed input is never an error; only
// a nil dest is.
func (t ChannelTypes) ParseLimit(dest map[rune]int, raw string) error {
	if dest == nil {
		return ErrNilDestination
	}
	if raw == "" {
		return nil
	}

	for _, fragment := range strings.Split(raw, ",") {
		prefixes, number, ok := strings.Cut(fragment, ":")
		if !ok || prefixes == "" {
			continue
		}
		limit, err := strconv.Atoi(number)
		if err != nil || limit < 0 {
			continue
		}
		valid := true
		for _, c := range prefixes {
			if !t.Contains(c) {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		for _, c := range prefixes {
			dest[c] = limit
		}
	}
	return nil
}

// ParseChanLimit parses a CHANLIMIT value with the default channel types.
func ParseChanLimit(dest map[rune]int, raw string) error {
	return DefaultChannelTypes.ParseLimit(dest, raw)
}
