// Package reorder moves identified items inside and between ordered lists.
// Every function returns new slices and leaves its inputs untouched.
package reorder

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("item not found")

// Clamp limits index to [0, length].
func Clamp(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

// IndexOf returns the position of the item with the given id, or -1.
func IndexOf[T any](list []T, id string, key func(T) string) int {
	for i, item := range list {
		if key(item) == id {
			return i
		}
	}
	return -1
}

// Remove returns list without the item identified by id, and that item.
func Remove[T any](list []T, id string, key func(T) string) ([]T, T, error) {
	var zero T
	i := IndexOf(list, id, key)
	if i < 0 {
		return nil, zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := make([]T, 0, len(list)-1)
	out = append(out, list[:i]...)
	out = append(out, list[i+1:]...)
	return out, list[i], nil
}

// Insert returns list with item placed at index, clamped to [0, len(list)].
func Insert[T any](list []T, item T, index int) []T {
	index = Clamp(index, len(list))
	out := make([]T, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, item)
	out = append(out, list[index:]...)
	return out
}

// Move relocates the item identified by id to toIndex. The index refers to the
// list after the item was taken out and is clamped to its bounds.
func Move[T any](list []T, id string, key func(T) string, toIndex int) ([]T, error) {
	rest, item, err := Remove(list, id, key)
	if err != nil {
		return nil, err
	}
	return Insert(rest, item, toIndex), nil
}

// Transfer moves the item identified by id from src into dst at toIndex,
// converting it on the way. Either both lists change or neither does.
func Transfer[S, D any](src []S, dst []D, id string, key func(S) string, convert func(S) D, toIndex int) ([]S, []D, error) {
	rest, item, err := Remove(src, id, key)
	if err != nil {
		return nil, nil, err
	}
	return rest, Insert(dst, convert(item), toIndex), nil
}
