// Copyright 2024 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Derived from https://github.com/cockroachdb/fifo/blob/0bbfbd93/queue.go

// Package fifo provides an allocation-efficient FIFO queue used to hold
// decoded frames between the byte stream and their consumers.
package fifo

// Queue is a FIFO queue. It is not safe for concurrent access. The zero value
// is an empty queue.
//
// The queue is a linked list of nodes, each a small ring of elements. Nodes
// that empty out are kept on a per-queue free list and reused.
type Queue[T any] struct {
	len        int
	head, tail *queueNode[T]
	free       *queueNode[T]
}

// Len returns the current length of the queue.
func (q *Queue[T]) Len() int {
	return q.len
}

// PushBack adds t to the end of the queue.
func (q *Queue[T]) PushBack(t T) {
	switch {
	case q.head == nil:
		q.head = q.getNode()
		q.tail = q.head
	case q.tail.full():
		n := q.getNode()
		q.tail.next = n
		q.tail = n
	}
	q.len++
	q.tail.pushBack(t)
}

// PeekFront returns a pointer to the head of the queue, or nil if the queue
// is empty. The pointer is valid until the next PopFront.
func (q *Queue[T]) PeekFront() *T {
	if q.len == 0 {
		return nil
	}
	return &q.head.buf[q.head.head]
}

// PopFront removes and returns the head of the queue. ok is false if the
// queue is empty.
func (q *Queue[T]) PopFront() (t T, ok bool) {
	if q.len == 0 {
		return t, false
	}
	t = q.head.popFront()
	q.len--
	if q.head.len == 0 {
		old := q.head
		q.head = old.next
		if q.head == nil {
			q.tail = nil
		}
		q.putNode(old)
	}
	return t, true
}

// Clear empties the queue, keeping its nodes for reuse.
func (q *Queue[T]) Clear() {
	for q.len > 0 {
		q.PopFront()
	}
}

func (q *Queue[T]) getNode() *queueNode[T] {
	if q.free == nil {
		return new(queueNode[T])
	}
	n := q.free
	q.free = n.next
	n.next = nil
	return n
}

func (q *Queue[T]) putNode(n *queueNode[T]) {
	n.head = 0
	n.len = 0
	n.next = q.free
	q.free = n
}

// queueNodeSize is the number of elements held by one node.
const queueNodeSize = 64

type queueNode[T any] struct {
	buf       [queueNodeSize]T
	head, len int32
	next      *queueNode[T]
}

func (n *queueNode[T]) full() bool {
	return n.len == queueNodeSize
}

func (n *queueNode[T]) pushBack(t T) {
	n.buf[(n.head+n.len)%queueNodeSize] = t
	n.len++
}

func (n *queueNode[T]) popFront() T {
	t := n.buf[n.head]
	var zero T
	n.buf[n.head] = zero
	n.head = (n.head + 1) % queueNodeSize
	n.len--
	return t
}
