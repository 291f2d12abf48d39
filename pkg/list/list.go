// Package list provides a doubly linked list whose elements are
// allocated by the caller, which lets a node be unlinked or moved
// without a lookup.
package list

// List links Elem nodes. The zero value is usable, but New reads better.
type List[V any] struct {
	front, back *Elem[V]
	length      int
}

func New[V any]() *List[V] {
	return &List[V]{}
}

func (l *List[V]) Front() *Elem[V] {
	return l.front
}

func (l *List[V]) Back() *Elem[V] {
	return l.back
}

func (l *List[V]) Len() int {
	return l.length
}

// PushFront links e at the front. e must not belong to any list.
func (l *List[V]) PushFront(e *Elem[V]) *Elem[V] {
	l.length++
	e.list = l

	if l.front == nil {
		l.front = e
		l.back = e
		return e
	}

	e.next = l.front
	l.front.prev = e
	l.front = e
	return e
}

// PushBack links e at the back. e must not belong to any list.
func (l *List[V]) PushBack(e *Elem[V]) *Elem[V] {
	l.length++
	e.list = l

	if l.back == nil {
		l.front = e
		l.back = e
		return e
	}

	e.prev = l.back
	l.back.next = e
	l.back = e
	return e
}

// MoveToBack relinks e at the back in O(1). It panics if e belongs
// to another list.
func (l *List[V]) MoveToBack(e *Elem[V]) {
	if e.list != l {
		panic("elem does not belong to this list")
	}

	if l.back == e {
		return
	}

	p, n := e.prev, e.next

	if p != nil {
		p.next = n
	} else {
		l.front = n
	}

	if n != nil {
		n.prev = p
	}

	e.prev = l.back
	e.next = nil

	l.back.next = e
	l.back = e
}

// PopElem unlinks e and returns it. The returned elem can be pushed
// into a list again. It panics if e belongs to another list.
func (l *List[V]) PopElem(e *Elem[V]) *Elem[V] {
	if e.list != l {
		panic("elem does not belong to this list")
	}

	l.length--

	p, n := e.prev, e.next

	if p != nil {
		p.next = n
	} else {
		l.front = n
	}

	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}

	e.prev = nil
	e.next = nil
	e.list = nil

	return e
}
