// Package stamped implements the typed, timestamped values used to hold
// global configuration parameters and other attributes whose last
// modification instant must survive across requests. A value holds one
// of four primitive kinds and a textual representation shared with the
// persistent backends.
package stamped

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	ternutil "isc.org/tern/util"
)

// Errors returned by the value accessors and converters.
var (
	// Returned when accessing a value which holds no data, e.g. a
	// name-only value used to delete a parameter.
	ErrNoValue = errors.New("stamped value is not set")
	// Returned when a typed accessor does not match the stored kind or
	// a non-primitive value is supplied at construction.
	ErrTypeMismatch = errors.New("stamped value type mismatch")
	// Returned when a textual value cannot be parsed into the
	// requested kind.
	ErrBadValue = errors.New("invalid stamped value")
)

// Kind of the primitive held by a value. The numeric values are part of
// the persistent representation and must not be renumbered.
type Kind int

// Valid kinds. KindNone marks a name-only value holding no data.
const (
	KindNone    Kind = 0
	KindString  Kind = 1
	KindInteger Kind = 2
	KindBoolean Kind = 3
	KindReal    Kind = 4
)

// Returns a kind name used in error messages and database dumps.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindReal:
		return "real"
	case KindNone:
		return "none"
	}
	return "unknown"
}

// A named primitive value with its last modification time. The value is
// kept in the textual form written to the backends: integers and reals
// use their canonical lexical forms and booleans are kept as "1"/"0".
type Value struct {
	// Database identifier of the value, zero before the first insert.
	ID int64
	// Parameter name.
	Name string
	// Last modification time, always UTC.
	ModificationTime time.Time

	kind  Kind
	value string
}

// Creates a string value.
func New(name, value string) *Value {
	return &Value{
		Name:             name,
		ModificationTime: ternutil.UTCNow(),
		kind:             KindString,
		value:            value,
	}
}

// Creates a signed integer value.
func NewInt(name string, value int64) *Value {
	return &Value{
		Name:             name,
		ModificationTime: ternutil.UTCNow(),
		kind:             KindInteger,
		value:            strconv.FormatInt(value, 10),
	}
}

// Creates a boolean value. The textual form is "1" or "0".
func NewBool(name string, value bool) *Value {
	text := "0"
	if value {
		text = "1"
	}
	return &Value{
		Name:             name,
		ModificationTime: ternutil.UTCNow(),
		kind:             KindBoolean,
		value:            text,
	}
}

// Creates a real number value.
func NewReal(name string, value float64) *Value {
	return &Value{
		Name:             name,
		ModificationTime: ternutil.UTCNow(),
		kind:             KindReal,
		value:            strconv.FormatFloat(value, 'g', -1, 64),
	}
}

// Creates a name-only value holding no data. It is used to address a
// parameter, e.g. when deleting it from a backend. All accessors fail
// for such a value.
func NewNamed(name string) *Value {
	return &Value{
		Name:             name,
		ModificationTime: ternutil.UTCNow(),
		kind:             KindNone,
	}
}

// Creates a value from a raw JSON fragment. It fails with ErrBadValue
// when the fragment is empty or null, and with ErrTypeMismatch when it
// holds anything else than one of the four supported primitives.
func NewFromJSON(name string, raw json.RawMessage) (*Value, error) {
	trimmed := strings.TrimSpace(string(raw))
	if len(trimmed) == 0 || trimmed == "null" {
		return nil, errors.Wrapf(ErrBadValue, "no value specified for the %s parameter", name)
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errors.Wrapf(ErrBadValue, "malformed string value of the %s parameter", name)
		}
		return New(name, s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, errors.Wrapf(ErrBadValue, "malformed boolean value of the %s parameter", name)
		}
		return NewBool(name, b), nil
	case '{', '[':
		return nil, errors.Wrapf(ErrTypeMismatch, "value of the %s parameter is not a primitive", name)
	default:
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return nil, errors.Wrapf(ErrTypeMismatch, "value of the %s parameter is not a primitive", name)
		}
		if !strings.ContainsAny(num.String(), ".eE") {
			intValue, err := num.Int64()
			if err != nil {
				return nil, errors.Wrapf(ErrBadValue, "integer value of the %s parameter out of range", name)
			}
			return NewInt(name, intValue), nil
		}
		realValue, err := num.Float64()
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "malformed real value of the %s parameter", name)
		}
		return NewReal(name, realValue), nil
	}
}

// Creates a value of the given kind from its textual form. This is the
// path used when reading a value back from a backend. Booleans accept
// both the stored "1"/"0" form and the "true"/"false" literals. It
// fails with ErrBadValue when the text cannot be parsed into the kind.
func NewFromText(name, value string, kind Kind) (*Value, error) {
	switch kind {
	case KindString:
		return New(name, value), nil
	case KindInteger:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "integer value expected for the %s parameter, got %s", name, value)
		}
		return NewInt(name, intValue), nil
	case KindBoolean:
		boolValue, err := parseBoolText(value)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "boolean value expected for the %s parameter, got %s", name, value)
		}
		return NewBool(name, boolValue), nil
	case KindReal:
		realValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "real number value expected for the %s parameter, got %s", name, value)
		}
		return NewReal(name, realValue), nil
	default:
		return nil, errors.Wrapf(ErrTypeMismatch, "unsupported kind %s of the %s parameter", kind, name)
	}
}

// Returns the kind of the stored value. It fails with ErrNoValue for a
// name-only value.
func (v *Value) GetKind() (Kind, error) {
	if v.kind == KindNone {
		return KindNone, errors.Wrapf(ErrNoValue, "attempt to retrieve the kind of the %s parameter", v.Name)
	}
	return v.kind, nil
}

// Returns the textual form of the value. It succeeds for all four
// kinds: integers and reals are returned in their canonical lexical
// forms and booleans as "1"/"0".
func (v *Value) GetString() (string, error) {
	if v.kind == KindNone {
		return "", errors.Wrapf(ErrNoValue, "attempt to get the null value of the %s parameter", v.Name)
	}
	return v.value, nil
}

// Returns the integer value. It fails with ErrTypeMismatch when the
// value is of a different kind.
func (v *Value) GetInt64() (int64, error) {
	if err := v.validateAccess(KindInteger); err != nil {
		return 0, err
	}
	intValue, err := strconv.ParseInt(v.value, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrBadValue, "malformed integer value of the %s parameter", v.Name)
	}
	return intValue, nil
}

// Returns the boolean value. It fails with ErrTypeMismatch when the
// value is of a different kind.
func (v *Value) GetBool() (bool, error) {
	if err := v.validateAccess(KindBoolean); err != nil {
		return false, err
	}
	boolValue, err := parseBoolText(v.value)
	if err != nil {
		return false, errors.Wrapf(ErrBadValue, "malformed boolean value of the %s parameter", v.Name)
	}
	return boolValue, nil
}

// Returns the real number value. It fails with ErrTypeMismatch when the
// value is of a different kind.
func (v *Value) GetFloat64() (float64, error) {
	if err := v.validateAccess(KindReal); err != nil {
		return 0, err
	}
	realValue, err := strconv.ParseFloat(v.value, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrBadValue, "malformed real value of the %s parameter", v.Name)
	}
	return realValue, nil
}

// Converts the textual form back into a raw JSON fragment of the
// requested kind. The conversion parses the text regardless of the
// stored kind, so a string value holding "123" converts to an integer
// fragment. It fails with ErrBadValue on a lexical failure. Booleans
// are rendered as the true/false literals and accept both the stored
// "1"/"0" form and the literals on input.
func (v *Value) ToJSON(kind Kind) (json.RawMessage, error) {
	if v.kind == KindNone {
		return nil, errors.Wrapf(ErrNoValue, "attempt to convert the null value of the %s parameter", v.Name)
	}
	switch kind {
	case KindString:
		marshalled, err := json.Marshal(v.value)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "unable to convert the value of the %s parameter to string", v.Name)
		}
		return marshalled, nil
	case KindInteger:
		if _, err := strconv.ParseInt(v.value, 10, 64); err != nil {
			return nil, errors.Wrapf(ErrBadValue, "integer value expected for the %s parameter, value is %s", v.Name, v.value)
		}
		return json.RawMessage(v.value), nil
	case KindBoolean:
		boolValue, err := parseBoolText(v.value)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "boolean value expected for the %s parameter, value is %s, expected true or false", v.Name, v.value)
		}
		return json.RawMessage(strconv.FormatBool(boolValue)), nil
	case KindReal:
		realValue, err := strconv.ParseFloat(v.value, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrBadValue, "real number value expected for the %s parameter, value is %s", v.Name, v.value)
		}
		return json.RawMessage(strconv.FormatFloat(realValue, 'g', -1, 64)), nil
	default:
		return nil, errors.Wrapf(ErrBadValue, "unsupported conversion kind %s for the %s parameter", kind, v.Name)
	}
}

// Checks that the value can be accessed as the given kind.
func (v *Value) validateAccess(kind Kind) error {
	if v.kind == KindNone {
		return errors.Wrapf(ErrNoValue, "attempt to get the null value of the %s parameter", v.Name)
	}
	if kind != KindString && kind != v.kind {
		return errors.Wrapf(ErrTypeMismatch, "attempt to access the %s parameter as %s, but this parameter has %s type",
			v.Name, kind, v.kind)
	}
	return nil
}

// Parses the textual form of a boolean, accepting the stored "1"/"0"
// form and the true/false literals.
func parseBoolText(text string) (bool, error) {
	switch text {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, errors.Errorf("invalid boolean text %s", text)
}

// Returns a deep copy of the value.
func (v *Value) Copy() *Value {
	copied := *v
	return &copied
}

// An ordered collection of stamped values.
type List []*Value

// Returns the value with the given name or nil when it is absent.
func (list List) Get(name string) *Value {
	for _, value := range list {
		if value.Name == name {
			return value
		}
	}
	return nil
}
