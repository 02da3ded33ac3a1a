package axdma

// transferList is an intrusive doubly linked list of transfers. A transfer is
// on at most one list at a time, which lets every move and head removal run
// in constant time without allocating. Not safe for concurrent use, the queue
// manager lock guards every list.
type transferList struct {
	name  string
	first *Transfer
	last  *Transfer
	len   int
}

func newTransferList(name string) *transferList {
	return &transferList{name: name}
}

func (l *transferList) Len() int {
	return l.len
}

func (l *transferList) Front() *Transfer {
	if l.first == nil && l.last != nil {
		panic("invariant of empty list is broken (Front) on " + l.name)
	}
	return l.first
}

// PushBack appends t, which must not be on any list.
func (l *transferList) PushBack(t *Transfer) {
	l.checkDetached(t, "PushBack")
	t.list = l
	t.prev = l.last
	if l.last == nil {
		l.first = t
	} else {
		l.last.next = t
	}
	l.last = t
	l.len++
}

// PushFront prepends t, which must not be on any list.
func (l *transferList) PushFront(t *Transfer) {
	l.checkDetached(t, "PushFront")
	t.list = l
	t.next = l.first
	if l.first == nil {
		l.last = t
	} else {
		l.first.prev = t
	}
	l.first = t
	l.len++
}

// Remove unlinks t from l.
func (l *transferList) Remove(t *Transfer) {
	if t.list != l {
		panic("attempt to remove a transfer that is not a member of " + l.name)
	}

	if t.prev == nil {
		l.first = t.next
	} else {
		t.prev.next = t.next
	}
	if t.next == nil {
		l.last = t.prev
	} else {
		t.next.prev = t.prev
	}

	t.list, t.prev, t.next = nil, nil, nil
	l.len--
}

// PopFront removes and returns the head of l, or nil if l is empty.
func (l *transferList) PopFront() *Transfer {
	t := l.Front()
	if t != nil {
		l.Remove(t)
	}
	return t
}

// Each calls fn for every member in order. fn may remove the member it is
// given.
func (l *transferList) Each(fn func(t *Transfer)) {
	for t := l.first; t != nil; {
		next := t.next
		fn(t)
		t = next
	}
}

// moveTo detaches t from whatever list holds it and appends it to dst.
func moveTo(dst *transferList, t *Transfer) {
	if t.list != nil {
		t.list.Remove(t)
	}
	dst.PushBack(t)
}

func detach(t *Transfer) {
	if t.list != nil {
		t.list.Remove(t)
	}
}

func (l *transferList) checkDetached(t *Transfer, op string) {
	if t.list != nil || t.prev != nil || t.next != nil {
		panic("attempt to insert a transfer that is a member of another list (" + op + ") on " + l.name)
	}
}
