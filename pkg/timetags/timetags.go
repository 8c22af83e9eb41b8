// Package timetags provides template filters for rendering epoch timestamps.
//
// Filters are collected in a Library which is built once at startup and
// handed to the template engine through FuncMap. There is no package-level
// registry.
package timetags

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	PrintTimestampFilter = "print_timestamp"
	FormatDatetimeFilter = "format_datetime"
)

// Seconds since the epoch of 0001-01-01 and 10000-01-01 UTC.
const (
	minSeconds = -62135596800
	maxSeconds = 253402300800
)

var ErrInvalidFilter = errors.New("invalid template filter")

// ParseTimestamp interprets v as a number of seconds since the Unix epoch and
// returns the matching time in loc. A nil loc means the process local zone.
//
// Accepted inputs are strings, byte slices and fmt.Stringers holding a base-10
// real number, and any Go integer or float value. The second return value is
// false for anything else, including NaN, infinities and dates outside years
// 1 through 9999.
func ParseTimestamp(v any, loc *time.Location) (time.Time, bool) {
	secs, ok := toSeconds(v)
	if !ok {
		return time.Time{}, false
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < minSeconds || secs >= maxSeconds {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	t := time.UnixMicro(int64(math.RoundToEven(secs * 1e6))).In(loc)
	if t.Year() < 1 || t.Year() > 9999 {
		return time.Time{}, false
	}

	return t, true
}

// PrintTimestamp is the print_timestamp filter bound to the process local
// zone. It returns a time.Time, or an untyped nil which html/template renders
// as nothing.
func PrintTimestamp(v any) any {
	return printTimestampIn(time.Local)(v)
}

// FormatDatetime formats the output of print_timestamp with a Go time layout.
// A nil value yields an empty string.
func FormatDatetime(layout string, v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout)
	case *time.Time:
		if t != nil {
			return t.Format(layout)
		}
	}
	return ""
}

func printTimestampIn(loc *time.Location) func(any) any {
	return func(v any) any {
		t, ok := ParseTimestamp(v, loc)
		if !ok {
			return nil
		}
		return t
	}
}

// isHexLiteral reports whether s has a 0x prefix after an optional sign.
// strconv accepts hexadecimal floats; timestamps are base 10 only.
func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func toSeconds(v any) (float64, bool) {
	switch s := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		v = strings.TrimSpace(s)
	case []byte:
		v = strings.TrimSpace(string(s))
	case fmt.Stringer:
		if rv := reflect.ValueOf(s); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return 0, false
		}
		v = strings.TrimSpace(s.String())
	}
	if s, ok := v.(string); ok && (s == "" || isHexLiteral(s)) {
		return 0, false
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Library is a named set of template filters.
// Register is not safe for concurrent use; populate the library before the
// templates are parsed.
type Library struct {
	loc     *time.Location
	filters map[string]any
}

// NewLibrary returns a library holding print_timestamp bound to loc and
// format_datetime.
func NewLibrary(loc *time.Location) *Library {
	if loc == nil {
		loc = time.Local
	}

	l := Library{
		loc:     loc,
		filters: make(map[string]any),
	}
	l.filters[PrintTimestampFilter] = printTimestampIn(loc)
	l.filters[FormatDatetimeFilter] = FormatDatetime

	return &l
}

// Register adds or replaces the filter called name.
func (l *Library) Register(name string, fn any) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFilter)
	}
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return fmt.Errorf("%w: %s is not a function", ErrInvalidFilter, name)
	}

	l.filters[name] = fn
	return nil
}

// FuncMap returns a copy of the registered filters, suitable for
// template.Template.Funcs.
func (l *Library) FuncMap() map[string]any {
	m := make(map[string]any, len(l.filters))
	for name, fn := range l.filters {
		m[name] = fn
	}
	return m
}

// Location returns the zone print_timestamp converts into.
func (l *Library) Location() *time.Location {
	return l.loc
}
