package irapi

// Deque is a ring-buffer work list of small integer keys (block IDs in practice).
//
// A key is present at most once: pushing a key that is already queued is a no-op. Liveness relies on
// the asymmetry between the two ends: initial work goes to the tail, re-queued predecessors go to the
// head so that they are picked up after the current backward sweep.
type Deque struct {
	buf        []int
	head, size int
	queued     []bool
}

// NewDeque returns a Deque accepting keys in [0, capacity).
func NewDeque(capacity int) *Deque {
	return &Deque{buf: make([]int, capacity), queued: make([]bool, capacity)}
}

// Len returns the number of queued keys.
func (d *Deque) Len() int { return d.size }

// Empty returns true when nothing is queued.
func (d *Deque) Empty() bool { return d.size == 0 }

// Contains returns true if key is queued.
func (d *Deque) Contains(key int) bool { return key < len(d.queued) && d.queued[key] }

// PushTail queues key at the tail.
func (d *Deque) PushTail(key int) {
	if d.Contains(key) {
		return
	}
	d.grow(key)
	d.buf[(d.head+d.size)%len(d.buf)] = key
	d.size++
	d.queued[key] = true
}

// PushHead queues key at the head.
func (d *Deque) PushHead(key int) {
	if d.Contains(key) {
		return
	}
	d.grow(key)
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = key
	d.size++
	d.queued[key] = true
}

// PopTail removes and returns the key at the tail.
func (d *Deque) PopTail() int {
	if d.size == 0 {
		panic("BUG: pop from empty deque")
	}
	d.size--
	key := d.buf[(d.head+d.size)%len(d.buf)]
	d.queued[key] = false
	return key
}

// PopHead removes and returns the key at the head.
func (d *Deque) PopHead() int {
	if d.size == 0 {
		panic("BUG: pop from empty deque")
	}
	key := d.buf[d.head]
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	d.queued[key] = false
	return key
}

// grow is only hit when keys outgrow the capacity given to NewDeque.
func (d *Deque) grow(key int) {
	if key >= len(d.queued) {
		d.queued = append(d.queued, make([]bool, key+1-len(d.queued))...)
	}
	if d.size < len(d.buf) {
		return
	}
	n := make([]int, 2*len(d.buf)+1)
	for i := 0; i < d.size; i++ {
		n[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf, d.head = n, 0
}
