// Package flightvars defines domain types for the flightvars simulator bridge.
// This package has no project imports -- it is the dependency root.
package flightvars

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --- Variables ---

// VarKind identifies the address space a variable lives in.
type VarKind string

const (
	// KindLVar is a named local variable exposed by aircraft gauges.
	KindLVar VarKind = "lvar"
	// KindOffset is a fixed-width slot in the simulator's shared memory block.
	KindOffset VarKind = "offset"
)

// Var names a single simulator variable.
type Var struct {
	Kind VarKind `json:"kind"`
	Name string  `json:"name"`           // lvar name, or canonical hex address for offsets
	Size int     `json:"size,omitempty"` // offset width in bytes, zero for lvars
}

// Valid offset widths in bytes.
var offsetSizes = map[int]bool{1: true, 2: true, 4: true, 8: true}

const defaultOffsetSize = 4

// LVar returns the named local variable.
func LVar(name string) Var {
	return Var{Kind: KindLVar, Name: name}
}

// Offset returns the offset variable at addr with the given byte width.
func Offset(addr uint32, size int) Var {
	return Var{Kind: KindOffset, Name: fmt.Sprintf("0x%04X", addr), Size: size}
}

// ParseVar validates and normalizes a variable reference. For offsets, name
// is a hex address (with or without 0x) and size defaults to 4 when zero.
func ParseVar(kind, name string, size int) (Var, error) {
	name = strings.TrimSpace(name)
	switch VarKind(kind) {
	case KindLVar:
		if name == "" || strings.ContainsAny(name, " \t\r\n/") {
			return Var{}, fmt.Errorf("%w: invalid lvar name %q", ErrBadRequest, name)
		}
		return LVar(name), nil
	case KindOffset:
		hex := strings.TrimPrefix(strings.TrimPrefix(name, "0x"), "0X")
		addr, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || hex == "" {
			return Var{}, fmt.Errorf("%w: invalid offset address %q", ErrBadRequest, name)
		}
		if size == 0 {
			size = defaultOffsetSize
		}
		if !offsetSizes[size] {
			return Var{}, fmt.Errorf("%w: invalid offset size %d", ErrBadRequest, size)
		}
		return Offset(uint32(addr), size), nil
	default:
		return Var{}, fmt.Errorf("%w: unknown variable kind %q", ErrBadRequest, kind)
	}
}

// Key returns a stable identifier for v, used for cache and journal lookups.
func (v Var) Key() string {
	if v.Kind == KindOffset {
		return string(v.Kind) + ":" + v.Name + ":" + strconv.Itoa(v.Size)
	}
	return string(v.Kind) + ":" + v.Name
}

// String implements fmt.Stringer.
func (v Var) String() string { return v.Key() }

// --- Values ---

// ValueType is the dynamic type of a Value.
type ValueType string

const (
	TypeBool   ValueType = "bool"
	TypeNumber ValueType = "number"
	TypeString ValueType = "string"
)

// Value is a simulator variable value. The zero Value has no type and is
// never produced by a device.
type Value struct {
	Type ValueType
	Bool bool
	Num  float64
	Str  string
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Type: TypeBool, Bool: b} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Type: TypeNumber, Num: f} }

// String returns a string Value.
func String(s string) Value { return Value{Type: TypeString, Str: s} }

// ValueOf converts a decoded YAML/JSON scalar into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case bool:
		return Bool(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case string:
		return String(t), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported value %T", ErrBadRequest, x)
	}
}

// IsZero reports whether v carries no value.
func (v Value) IsZero() bool { return v.Type == "" }

// Equal reports whether v and o hold the same typed value.
func (v Value) Equal(o Value) bool { return v == o }

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.Type {
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case TypeString:
		return v.Str
	default:
		return "<none>"
	}
}

// MarshalJSON encodes v as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case TypeBool:
		return json.Marshal(v.Bool)
	case TypeNumber:
		return json.Marshal(v.Num)
	case TypeString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a bare JSON scalar into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	if x == nil {
		*v = Value{}
		return nil
	}
	val, err := ValueOf(x)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// --- Commands ---

// CommandKind selects the operation a Command requests.
type CommandKind int

const (
	// CmdWrite stores Value into Var.
	CmdWrite CommandKind = iota + 1
	// CmdObserve registers Subscriber for changes of Var under Subscription.
	CmdObserve
	// CmdUnobserve removes the subscription named by Subscription.
	CmdUnobserve
)

// String implements fmt.Stringer.
func (k CommandKind) String() string {
	switch k {
	case CmdWrite:
		return "write"
	case CmdObserve:
		return "observe"
	case CmdUnobserve:
		return "unobserve"
	default:
		return "unknown"
	}
}

// Subscriber receives change events. Consume is called from the bridge
// worker goroutine and must not block; a non-nil error drops the subscription.
type Subscriber interface {
	Consume(Event) error
}

// Command is a request to the bridge worker.
type Command struct {
	Kind         CommandKind
	Var          Var
	Value        Value
	Subscription string
	Subscriber   Subscriber
}

// Write returns a command that stores val into v.
func Write(v Var, val Value) Command {
	return Command{Kind: CmdWrite, Var: v, Value: val}
}

// Observe returns a command that subscribes s to changes of v.
func Observe(id string, v Var, s Subscriber) Command {
	return Command{Kind: CmdObserve, Var: v, Subscription: id, Subscriber: s}
}

// Unobserve returns a command that cancels the subscription id.
func Unobserve(id string) Command {
	return Command{Kind: CmdUnobserve, Subscription: id}
}

// --- Events ---

// Event reports the value of a variable observed by the bridge.
type Event struct {
	ID    string    `json:"id"`
	Var   Var       `json:"var"`
	Value Value     `json:"value"`
	At    time.Time `json:"at"`
}

// EventFilter selects journal entries.
type EventFilter struct {
	VarKey string
	Since  time.Time // inclusive, zero = unbounded
	Until  time.Time // exclusive, zero = unbounded
	Offset int
	Limit  int
}

// --- Context helpers ---

type contextKey int

const ctxKeyRequestID contextKey = iota

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
