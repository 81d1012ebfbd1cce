package netsdk

import (
	"strings"
)

// VerboseLevel controls how chatty the per-packet and per-request logging is
type VerboseLevel uint16

const (
	VERBOSE_NONE = VerboseLevel(iota)
	VERBOSE_SIMPLE
	VERBOSE_ADD
	VERBOSE_ALL
)

var verboseMap = map[string]VerboseLevel{
	"v":   VERBOSE_SIMPLE,
	"vv":  VERBOSE_ADD,
	"vvv": VERBOSE_ALL,
}

func (iotaIdx VerboseLevel) String() string {
	return [...]string{"", "v", "vv", "vvv"}[iotaIdx]
}

// NewVerboseLevelFrom parses 'v', 'vv' or 'vvv'. Anything else means no verbose output
func NewVerboseLevelFrom(str string) VerboseLevel {
	if verboseLevel, ok := verboseMap[strings.ToLower(str)]; ok {
		return verboseLevel
	}
	return VERBOSE_NONE
}
