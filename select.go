package statesync

import (
	"github.com/goliatone/go-statesync/internal/dotpath"
	"github.com/goliatone/go-statesync/internal/hydrate"
)

// SelectOption configures how Select decodes a slice.
type SelectOption[T any] = hydrate.DecoderOption[T]

// SelectWeaklyTyped converts between strings, numbers and bools while
// decoding.
func SelectWeaklyTyped[T any]() SelectOption[T] {
	return hydrate.WithWeaklyTypedInput[T]()
}

// SelectStrict rejects fields T does not declare.
func SelectStrict[T any]() SelectOption[T] {
	return hydrate.WithDisallowUnknownFields[T]()
}

// Select decodes the value at path (a slice name or dotted path) into T. It
// reports false when path is absent from tree.
func Select[T any](tree Tree, path string, opts ...SelectOption[T]) (T, bool, error) {
	var zero T
	value, ok := dotpath.Get(map[string]any(tree), path)
	if !ok || value == nil {
		return zero, false, nil
	}
	decoded, err := hydrate.NewDecoder[T](opts...).Decode(hydrate.Context{Slice: path}, value)
	if err != nil {
		return zero, true, err
	}
	return decoded, true, nil
}
