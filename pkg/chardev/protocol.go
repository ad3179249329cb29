package chardev

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/globalfifo/pkg/fifo"
	"github.com/haivivi/globalfifo/pkg/notify"
)

// Op is a frame operation.
type Op string

// Request operations, plus the server-pushed OpEvent.
const (
	OpOpen   Op = "open"
	OpClose  Op = "close"
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpIoctl  Op = "ioctl"
	OpPoll   Op = "poll"
	OpSetFl  Op = "setfl"
	OpStat   Op = "stat"
	OpCancel Op = "cancel"
	OpEvent  Op = "event"
)

// Flags are per-handle file status flags, numbered like their Linux
// counterparts.
type Flags uint32

const (
	FlagNonblock Flags = 0o4000  // O_NONBLOCK
	FlagAsync    Flags = 0o20000 // FASYNC
)

// Frame is the single message type exchanged in both directions.
type Frame struct {
	ID      uint64        `msgpack:"id,omitempty"`
	Op      Op            `msgpack:"op"`
	Handle  uint32        `msgpack:"h,omitempty"`
	Dev     int           `msgpack:"dev,omitempty"`
	Flags   Flags         `msgpack:"flags,omitempty"`
	Pid     int           `msgpack:"pid,omitempty"`
	Size    int           `msgpack:"size,omitempty"`
	Data    []byte        `msgpack:"data,omitempty"`
	N       int           `msgpack:"n,omitempty"`
	Cmd     fifo.Command  `msgpack:"cmd,omitempty"`
	Timeout int64         `msgpack:"timeout,omitempty"` // milliseconds, negative waits forever
	Polls   []PollEntry   `msgpack:"polls,omitempty"`
	Stats   []fifo.Stat   `msgpack:"stats,omitempty"`
	Event   *notify.Event `msgpack:"event,omitempty"`
	Err     string        `msgpack:"err,omitempty"`
	Msg     string        `msgpack:"msg,omitempty"`
}

// PollEntry is one handle in a poll request or response.
type PollEntry struct {
	Handle uint32         `msgpack:"h"`
	Dev    int            `msgpack:"dev,omitempty"`
	Events fifo.EventMask `msgpack:"events"`
}

func encodeFrame(f *Frame) ([]byte, error) {
	return msgpack.Marshal(f)
}

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
