package validation

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	objectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9]{24}$`)
	timePattern     = regexp.MustCompile(`^\d+(:\d{2}){1,3}$`)
	emailPattern    = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$")
	leadingInt      = regexp.MustCompile(`^\s*[+-]?\d+`)
)

// dateLayouts are tried in order when a date is given as a string.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
	"Jan 2, 2006",
	"January 2, 2006",
}

func (r *Registry) validateString(value any, f Field) *Failure {
	if f.Convert {
		if n, ok := toFloat64(value); ok {
			value = strconv.FormatFloat(n, 'f', -1, 64)
		}
	}

	s, ok := value.(string)
	if !ok {
		return &Failure{
			Msg:     fmt.Sprintf("Property type is a %s, but a string is required", typeName(value)),
			ErrCode: CodeStringType,
		}
	}

	n := float64(utf8.RuneCountInString(s))
	switch {
	case f.Min != 0 && f.Min > n:
		return &Failure{Msg: "String length is too short", ErrCode: CodeStringTooShort}
	case f.Max != 0 && f.Max < n:
		return &Failure{Msg: "String length is too long", ErrCode: CodeStringTooLong}
	}

	if f.Match != "" {
		re, err := r.compile(f.Match)
		if err != nil || !re.MatchString(s) {
			return &Failure{Msg: "String doesn't match regexp", ErrCode: CodeStringMatch}
		}
	}
	return nil
}

func validateNumber(value any, f Field) *Failure {
	if f.Convert {
		if s, ok := value.(string); ok {
			value = parseLeadingInt(s)
		}
	}

	n, ok := toFloat64(value)
	if !ok || math.IsNaN(n) {
		return &Failure{Msg: "Property type is not a valid number", ErrCode: CodeNumberType}
	}

	switch {
	case f.Min != 0 && f.Min > n:
		return &Failure{Msg: "Number is too low", ErrCode: CodeNumberTooLow}
	case f.Max != 0 && f.Max < n:
		return &Failure{Msg: "Number is too high", ErrCode: CodeNumberTooHigh}
	}
	return nil
}

func validateDate(value any, f Field) *Failure {
	switch v := value.(type) {
	case time.Time, *time.Time:
		return nil
	case string:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, v); err == nil {
				return nil
			}
		}
	default:
		// numeric timestamps are valid dates
		if _, ok := toFloat64(value); ok {
			return nil
		}
	}
	return &Failure{Msg: "Property isn't a valid date", ErrCode: CodeDate}
}

func validateArray(value any, f Field) *Failure {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return &Failure{
			Msg:     fmt.Sprintf("Property type is a %s, but an array is required", typeName(value)),
			ErrCode: CodeArrayType,
		}
	}

	n := rv.Len()
	switch {
	case f.Min != 0 && f.Min > float64(n):
		return &Failure{
			Msg:     fmt.Sprintf("Array length is %d but must be greater than %v", n, f.Min),
			ErrCode: CodeArrayTooShort,
		}
	case f.Max != 0 && f.Max < float64(n):
		return &Failure{
			Msg:     fmt.Sprintf("Array length is %d but must be lesser than %v", n, f.Max),
			ErrCode: CodeArrayTooLong,
		}
	}
	return nil
}

func validateObject(value any, f Field) *Failure {
	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return nil
	}
	return &Failure{Msg: "Property isn't a valid object", ErrCode: CodeObject}
}

func validateObjectID(value any, f Field) *Failure {
	if !objectIDPattern.MatchString(fmt.Sprint(value)) {
		return &Failure{Msg: "Property isn't a valid objectId", ErrCode: CodeObjectID}
	}
	return nil
}

func validateBoolean(value any, f Field) *Failure {
	if _, ok := value.(bool); !ok {
		return &Failure{Msg: "Property isn't a valid boolean", ErrCode: CodeBoolean}
	}
	return nil
}

// validateTime accepts HH:MM, HH:MM:SS and D:HH:MM:SS.
func validateTime(value any, f Field) *Failure {
	if !timePattern.MatchString(fmt.Sprint(value)) {
		return &Failure{Msg: "Property isn't a valid time", ErrCode: CodeTime}
	}
	return nil
}

func validateEmail(value any, f Field) *Failure {
	if !emailPattern.MatchString(fmt.Sprint(value)) {
		return &Failure{Msg: "Property isn't a valid email", ErrCode: CodeEmail}
	}
	return nil
}

// parseLeadingInt mirrors base-10 integer prefix parsing: "12abc" is 12 and
// "abc" is NaN.
func parseLeadingInt(s string) float64 {
	m := leadingInt.FindString(s)
	if m == "" {
		return math.NaN()
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
	if err != nil {
		return math.NaN()
	}
	return n
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case nil:
		return "undefined"
	}
	if _, ok := toFloat64(v); ok {
		return "number"
	}
	return "object"
}
