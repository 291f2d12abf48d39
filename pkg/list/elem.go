package list

// Elem is a list node carrying a value. Allocate it with NewElem and
// hand it to a List; keeping the pointer allows O(1) unlink and move.
type Elem[V any] struct {
	prev, next *Elem[V]
	list       *List[V]

	Value V
}

func NewElem[V any](v V) *Elem[V] {
	return &Elem[V]{Value: v}
}

func (e *Elem[V]) Prev() *Elem[V] {
	return e.prev
}

func (e *Elem[V]) Next() *Elem[V] {
	return e.next
}
