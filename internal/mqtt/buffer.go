package mqtt

import "log"

// pendingMsg is a serialized message held back while the broker is unreachable.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO of pending messages. When full, the oldest
// message is overwritten. Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs    []pendingMsg
	next    int // next write position
	count   int
	dropped int  // total overwritten since creation
	warned  bool // full warning already logged since last flush
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{msgs: make([]pendingMsg, capacity)}
}

// add queues msg and reports whether an older message was dropped for it.
func (o *outbox) add(msg pendingMsg) bool {
	size := len(o.msgs)
	full := o.count == size
	o.msgs[o.next] = msg
	o.next = (o.next + 1) % size
	if !full {
		o.count++
		return false
	}
	o.dropped++
	if !o.warned {
		log.Printf("mqtt: outbox full (%d messages), dropping oldest", size)
		o.warned = true
	}
	return true
}

// flush removes and returns every pending message, oldest first.
func (o *outbox) flush() []pendingMsg {
	if o.count == 0 {
		return nil
	}
	size := len(o.msgs)
	out := make([]pendingMsg, 0, o.count)
	first := (o.next - o.count + size) % size
	for i := 0; i < o.count; i++ {
		j := (first + i) % size
		out = append(out, o.msgs[j])
		o.msgs[j] = pendingMsg{}
	}
	o.count, o.next, o.warned = 0, 0, false
	return out
}

func (o *outbox) len() int {
	return o.count
}
