package update

// Block is a single-slot mailbox holding the latest pending value for one
// kind of configuration change.
type Block[T any] struct {
	value    T
	hasValue bool
	equal    func(a, b T) bool
}

// Create a new block using equal to compare values.
func NewBlock[T any](equal func(a, b T) bool) *Block[T] {
	return &Block[T]{equal: equal}
}

// Set the pending value, replacing any previous one.
func (b *Block[T]) Set(value T) {
	b.value = value
	b.hasValue = true
}

// Pop the pending value.
func (b *Block[T]) Pop() (T, bool) {
	if !b.hasValue {
		var zero T
		return zero, false
	}
	b.hasValue = false
	value := b.value
	var zero T
	b.value = zero
	return value, true
}

// Peek at the pending value.
func (b *Block[T]) Pending() (T, bool) {
	return b.value, b.hasValue
}

// Drop the pending value.
func (b *Block[T]) Cancel() {
	var zero T
	b.value = zero
	b.hasValue = false
}

func (b *Block[T]) HasValue() bool {
	return b.hasValue
}

// Offer a new value given the currently committed one. A value equal to the
// pending one is ignored; a value equal to the committed one cancels the
// pending update; anything else becomes the pending value. Offer returns
// true if the pending state changed.
func (b *Block[T]) Offer(committed, next T) bool {
	if b.hasValue && b.equal(b.value, next) {
		return false
	}
	if b.equal(committed, next) {
		if b.hasValue {
			b.Cancel()
			return true
		}
		return false
	}
	b.Set(next)
	return true
}
