package timetags

import (
	"bytes"
	"encoding/json"
	"html/template"
	"math"
	"testing"
	"time"
)

type stringer struct{ s string }

func (s *stringer) String() string { return s.s }

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   time.Time
		wantOK bool
	}{
		{name: "epoch", in: "0", want: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), wantOK: true},
		{name: "string seconds", in: "1700000000", want: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), wantOK: true},
		{name: "padded string", in: "  1700000000\n", want: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), wantOK: true},
		{name: "fractional string", in: "1.5", want: time.Date(1970, 1, 1, 0, 0, 1, 500000000, time.UTC), wantOK: true},
		{name: "exponent", in: "1.7e9", want: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), wantOK: true},
		{name: "negative", in: "-86400", want: time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC), wantOK: true},
		{name: "int", in: 1700000000, want: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), wantOK: true},
		{name: "int64", in: int64(60), want: time.Date(1970, 1, 1, 0, 1, 0, 0, time.UTC), wantOK: true},
		{name: "float64", in: 0.25, want: time.Date(1970, 1, 1, 0, 0, 0, 250000000, time.UTC), wantOK: true},
		{name: "bytes", in: []byte("3600"), want: time.Date(1970, 1, 1, 1, 0, 0, 0, time.UTC), wantOK: true},
		{name: "json number", in: json.Number("1700000000"), want: time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), wantOK: true},
		{name: "stringer", in: &stringer{"120"}, want: time.Date(1970, 1, 1, 0, 2, 0, 0, time.UTC), wantOK: true},
		{name: "sub-microsecond rounds", in: "0.0000004", want: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), wantOK: true},
		{name: "not a number", in: "not-a-number", wantOK: false},
		{name: "letters", in: "abc", wantOK: false},
		{name: "empty", in: "", wantOK: false},
		{name: "blank", in: "   ", wantOK: false},
		{name: "nil", in: nil, wantOK: false},
		{name: "bool", in: true, wantOK: false},
		{name: "nil stringer", in: (*stringer)(nil), wantOK: false},
		{name: "NaN", in: "NaN", wantOK: false},
		{name: "infinity", in: math.Inf(1), wantOK: false},
		{name: "beyond year 9999", in: "253402300800", wantOK: false},
		{name: "before year 1", in: "-62135596801", wantOK: false},
		{name: "struct", in: struct{}{}, wantOK: false},
		{name: "hex float", in: "0x1p4", wantOK: false},
		{name: "hex integer", in: "0X10", wantOK: false},
		{name: "signed hex", in: "-0x1p4", wantOK: false},
		{name: "hex bytes", in: []byte(" 0x1p4 "), wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in, time.UTC)
			if ok != tt.wantOK {
				t.Fatalf("want ok %v, got %v (time %v)", tt.wantOK, ok, got)
			}
			if !tt.wantOK {
				if !got.IsZero() {
					t.Errorf("want zero time, got %v", got)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("want time %v, got %v", tt.want, got)
			}
			if got.Location() != time.UTC {
				t.Errorf("want location UTC, got %v", got.Location())
			}
		})
	}
}

func TestParseTimestampLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)

	got, ok := ParseTimestamp("1700000000", loc)
	if !ok {
		t.Fatal("want ok, got no result")
	}
	if got.Hour() != 1 || got.Day() != 15 {
		t.Errorf("want 2023-11-15 01:13:20 +03:00, got %v", got)
	}

	got, ok = ParseTimestamp("0", nil)
	if !ok {
		t.Fatal("want ok, got no result")
	}
	if got.Location() != time.Local {
		t.Errorf("want local location for nil loc, got %v", got.Location())
	}
}

func TestPrintTimestamp(t *testing.T) {
	got := PrintTimestamp("1700000000")
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("want time.Time, got %T", got)
	}
	want := time.Unix(1700000000, 0).In(time.Local)
	if !ts.Equal(want) {
		t.Errorf("want %v, got %v", want, ts)
	}

	if got := PrintTimestamp("not-a-number"); got != nil {
		t.Errorf("want nil, got %v", got)
	}
	if got := PrintTimestamp(nil); got != nil {
		t.Errorf("want nil, got %v", got)
	}
}

func TestFormatDatetime(t *testing.T) {
	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	if got := FormatDatetime(time.DateTime, ts); got != "2023-11-14 22:13:20" {
		t.Errorf("want formatted time, got %q", got)
	}
	if got := FormatDatetime(time.DateTime, &ts); got != "2023-11-14 22:13:20" {
		t.Errorf("want formatted time from pointer, got %q", got)
	}
	if got := FormatDatetime(time.DateTime, nil); got != "" {
		t.Errorf("want empty string, got %q", got)
	}
	if got := FormatDatetime(time.DateTime, (*time.Time)(nil)); got != "" {
		t.Errorf("want empty string for nil pointer, got %q", got)
	}
}

func TestLibrary_Register(t *testing.T) {
	lib := NewLibrary(time.UTC)

	if err := lib.Register("upper", func(s string) string { return s }); err != nil {
		t.Fatalf("unexpected error registering filter: %v", err)
	}
	if err := lib.Register("", func() {}); err == nil {
		t.Error("want error for empty name")
	}
	if err := lib.Register("broken", 42); err == nil {
		t.Error("want error for non-function filter")
	}

	fm := lib.FuncMap()
	for _, name := range []string{PrintTimestampFilter, FormatDatetimeFilter, "upper"} {
		if _, ok := fm[name]; !ok {
			t.Errorf("want filter %q in func map", name)
		}
	}
	if _, ok := fm["broken"]; ok {
		t.Error("invalid filter must not be registered")
	}

	delete(fm, PrintTimestampFilter)
	if _, ok := lib.FuncMap()[PrintTimestampFilter]; !ok {
		t.Error("FuncMap must return a copy")
	}
}

func TestLibrary_Template(t *testing.T) {
	lib := NewLibrary(time.UTC)
	tmpl := template.Must(template.New("t").Funcs(lib.FuncMap()).Parse(
		`[{{ . | print_timestamp | format_datetime "2006-01-02 15:04:05" }}]`,
	))

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "valid", in: "1700000000", want: "[2023-11-14 22:13:20]"},
		{name: "invalid", in: "abc", want: "[]"},
		{name: "nil", in: nil, want: "[]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tmpl.Execute(&buf, tt.in); err != nil {
				t.Fatalf("unexpected error executing template: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("want %q, got %q", tt.want, buf.String())
			}
		})
	}

	// Bare filter output renders nothing for malformed input.
	bare := template.Must(template.New("bare").Funcs(lib.FuncMap()).Parse(`[{{ print_timestamp . }}]`))
	var buf bytes.Buffer
	if err := bare.Execute(&buf, "not-a-number"); err != nil {
		t.Fatalf("unexpected error executing template: %v", err)
	}
	if buf.String() != "[]" {
		t.Errorf("want %q, got %q", "[]", buf.String())
	}
}
