package relay

import "github.com/coder/websocket"

// pendingQueue is an unbounded FIFO of raw frontend messages, each kept
// with its frame type. It is not safe for concurrent use; Relay guards it
// with its mutex.
type pendingQueue struct {
	items []queuedMessage
}

type queuedMessage struct {
	typ  websocket.MessageType
	data []byte
}

func (q *pendingQueue) push(typ websocket.MessageType, msg []byte) {
	q.items = append(q.items, queuedMessage{typ: typ, data: msg})
}

func (q *pendingQueue) len() int {
	return len(q.items)
}

// drain hands queued messages to fn in insertion order, removing each one
// fn accepts. It stops at the first error, leaving the failed message and
// everything after it queued, and returns how many were removed.
func (q *pendingQueue) drain(fn func(typ websocket.MessageType, msg []byte) error) (int, error) {
	for i, m := range q.items {
		if err := fn(m.typ, m.data); err != nil {
			rest := make([]queuedMessage, len(q.items)-i)
			copy(rest, q.items[i:])
			q.items = rest
			return i, err
		}
	}
	n := len(q.items)
	q.items = nil
	return n, nil
}
