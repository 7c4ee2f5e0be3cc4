package state

import "errors"

// HandSlots is the number of linear slots per block-local hand.
const HandSlots = 4

var (
	ErrDataHazard   = errors.New("hand read before producer write")
	ErrHandOverflow = errors.New("hand write into an unconsumed slot")
)

// slot is a linear single-producer/single-consumer cell: written once, read
// once, and empty again after the read.
type slot[T any] struct {
	value T
	full  bool
}

func (s *slot[T]) put(value T) error {
	if s.full {
		return ErrHandOverflow
	}
	s.value = value
	s.full = true
	return nil
}

func (s *slot[T]) take() (T, error) {
	var zero T
	if !s.full {
		return zero, ErrDataHazard
	}
	value := s.value
	s.value = zero
	s.full = false
	return value, nil
}

// Queue is a block-local hand: a ring of linear slots consumed in FIFO order.
type Queue[T any] struct {
	slots [HandSlots]slot[T]
	head  uint8
	tail  uint8
}

func (q *Queue[T]) Push(value T) error {
	if err := q.slots[q.tail].put(value); err != nil {
		return err
	}
	q.tail = (q.tail + 1) % HandSlots
	return nil
}

func (q *Queue[T]) Pop() (T, error) {
	value, err := q.slots[q.head].take()
	if err != nil {
		return value, err
	}
	q.head = (q.head + 1) % HandSlots
	return value, nil
}

func (q *Queue[T]) Len() int {
	count := 0
	for i := range q.slots {
		if q.slots[i].full {
			count++
		}
	}
	return count
}
