package util

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/json"
)

// functional map: (a -> b) -> [a] -> [b]
func Map[T, U any](f func(T) U, s []T) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}

// MapErr is Map with a fallible function, stopping at the first error.
func MapErr[T, U any](f func(T) (U, error), s []T) ([]U, error) {
	result := make([]U, len(s))
	for i, v := range s {
		u, err := f(v)
		if err != nil {
			return nil, err
		}
		result[i] = u
	}
	return result, nil
}

// ToAny converts a typed slice into a []any.
func ToAny[T any](s []T) []any {
	return Map(func(v T) any { return v }, s)
}

func Stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}
