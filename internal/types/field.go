package types

// Field is an optional extracted value. A zero Field is absent.
type Field[T any] struct {
	Value   T
	Present bool
}

// Some returns a present field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Present: true}
}

// None returns an absent field.
func None[T any]() Field[T] {
	return Field[T]{}
}

// Or returns the value when present, otherwise def.
func (f Field[T]) Or(def T) T {
	if f.Present {
		return f.Value
	}
	return def
}
