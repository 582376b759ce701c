// Package hydrate decodes generic slice values (maps, slices and scalars as
// produced by a Serializer) into typed Go values.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Context identifies the slice being decoded.
type Context struct {
	Slice string
}

// PreHook lets callers mutate or normalise the value before decoding.
type PreHook func(Context, any) (any, error)

// PostHook lets callers adjust or validate the decoded value.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the default decoding when provided.
type CustomDecoder[T any] func(Context, any) (T, error)

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts slice values into typed values. By default it round-trips
// through encoding/json so json struct tags apply.
type Decoder[T any] struct {
	preHooks     []PreHook
	postHooks    []PostHook[T]
	configureDec []func(*json.Decoder)
	custom       CustomDecoder[T]
	weak         bool
}

// WithPreHook applies hook prior to decoding.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.preHooks = append(d.preHooks, hook)
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithDisallowUnknownFields invokes json.Decoder.DisallowUnknownFields.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, func(dec *json.Decoder) {
			dec.DisallowUnknownFields()
		})
	}
}

// WithWeaklyTypedInput decodes with mapstructure instead of encoding/json,
// converting between strings, numbers and bools where needed. Struct fields
// are matched by their json tag.
func WithWeaklyTypedInput[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.weak = true
	}
}

// WithCustomDecoder replaces the default decoding path.
func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.custom = decoder
	}
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts value into T applying configured hooks. value is not
// modified.
func (d *Decoder[T]) Decode(ctx Context, value any) (T, error) {
	var zero T

	if value == nil {
		return zero, fmt.Errorf("hydrate: value is nil for slice %q", ctx.Slice)
	}

	current, err := cloneValue(value)
	if err != nil {
		return zero, fmt.Errorf("hydrate: clone value for slice %q: %w", ctx.Slice, err)
	}

	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: pre-hook for slice %q failed: %w", ctx.Slice, err)
		}
		if next != nil {
			current = next
		}
	}

	var result T
	switch {
	case d.custom != nil:
		result, err = d.custom(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: custom decoder for slice %q failed: %w", ctx.Slice, err)
		}
	case d.weak:
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &result,
			TagName:          "json",
			WeaklyTypedInput: true,
		})
		if err != nil {
			return zero, fmt.Errorf("hydrate: configure decoder for slice %q: %w", ctx.Slice, err)
		}
		if err := decoder.Decode(current); err != nil {
			return zero, fmt.Errorf("hydrate: decode slice %q: %w", ctx.Slice, err)
		}
	default:
		buffer, err := json.Marshal(current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: marshal slice %q: %w", ctx.Slice, err)
		}
		decoder := json.NewDecoder(bytes.NewReader(buffer))
		for _, configure := range d.configureDec {
			if configure != nil {
				configure(decoder)
			}
		}
		if err := decoder.Decode(&result); err != nil {
			return zero, fmt.Errorf("hydrate: decode slice %q: %w", ctx.Slice, err)
		}
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for slice %q failed: %w", ctx.Slice, err)
		}
	}

	return result, nil
}

func cloneValue(value any) (any, error) {
	buffer, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(buffer, &out); err != nil {
		return nil, err
	}
	return out, nil
}
