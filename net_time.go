package netsdk

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

const (
	cgiTimeLayout      = "2006-01-02 15:04:05"
	playbackTimeLayout = "2006_01_02_15_04_05"
)

// NetTime is a device-local wall clock time. Devices have no notion of timezone in their record index
type NetTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// NewNetTime converts time.Time to NetTime using its own location
func NewNetTime(t time.Time) NetTime {
	return NetTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// ParseNetTime parses "2006-01-02 15:04:05" as devices print it
func ParseNetTime(str string) (NetTime, error) {
	t, err := time.ParseInLocation(cgiTimeLayout, str, time.Local)
	if err != nil {
		return NetTime{}, errors.Wrapf(err, "Can't parse device time '%s'", str)
	}
	return NewNetTime(t), nil
}

// Time returns time.Time in local timezone
func (nt NetTime) Time() time.Time {
	return time.Date(nt.Year, time.Month(nt.Month), nt.Day, nt.Hour, nt.Minute, nt.Second, 0, time.Local)
}

// IsZero reports whether year, month and day are not set
func (nt NetTime) IsZero() bool {
	return nt.Year == 0 && nt.Month == 0 && nt.Day == 0
}

// Validate checks that the fields form a real date. time.Date normalizes overflows, so round trip is compared
func (nt NetTime) Validate() error {
	if nt.IsZero() {
		return fmt.Errorf("empty time")
	}
	if NewNetTime(nt.Time()) != nt {
		return fmt.Errorf("bad time %s", nt)
	}
	return nil
}

func (nt NetTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", nt.Year, nt.Month, nt.Day, nt.Hour, nt.Minute, nt.Second)
}

func (nt NetTime) cgiString() string {
	return nt.Time().Format(cgiTimeLayout)
}

func (nt NetTime) playbackString() string {
	return nt.Time().Format(playbackTimeLayout)
}
