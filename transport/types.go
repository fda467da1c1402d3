package transport

import "fmt"

// DataType discriminates the payload of a DATA message.
type DataType uint8

const (
	DataTypeProtobuf       DataType = 0
	DataTypeRumble         DataType = 7
	DataType9              DataType = 9
	DataTypeTriggerEffects DataType = 11
)

func (d DataType) known() bool {
	switch d {
	case DataTypeProtobuf, DataTypeRumble, DataType9, DataTypeTriggerEffects:
		return true
	}
	return false
}

// String returns a human readable name for logging.
func (d DataType) String() string {
	switch d {
	case DataTypeProtobuf:
		return "protobuf"
	case DataTypeRumble:
		return "rumble"
	case DataType9:
		return "type9"
	case DataTypeTriggerEffects:
		return "trigger_effects"
	default:
		return fmt.Sprintf("unknown(%#x)", uint8(d))
	}
}

// EventType identifies the kind of an Event.
type EventType int

const (
	EventConnected EventType = iota
	EventData
	EventDataAck
	EventAV
	EventDisconnect
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventDataAck:
		return "data_ack"
	case EventAV:
		return "av"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// DataEvent carries one in-order DATA message.
type DataEvent struct {
	DataType DataType
	Channel  uint16
	// Buf aliases the receive buffer and is only valid during the callback.
	Buf []byte
}

// Event is delivered to the EventHandler of a Takion session. Exactly one of
// the payload fields is set, matching Type.
type Event struct {
	Type EventType

	Data *DataEvent
	// DataAckSeqNum is the sequence number retired by a DataAck event.
	DataAckSeqNum uint32
	// AV is only valid during the callback.
	AV *AVPacket
	// Err is the reason of a Disconnect event. errs.ErrCanceled means the
	// session was closed on request.
	Err error
}

// EventHandler receives session events. HandleEvent runs on the receive
// goroutine and must not block.
type EventHandler interface {
	HandleEvent(e *Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(e *Event)

// HandleEvent calls f(e).
func (f EventHandlerFunc) HandleEvent(e *Event) { f(e) }

// State is the connection state of a Takion session.
type State int32

const (
	StateDisconnected State = iota
	StateInitSent
	StateInitAckReceived
	StateCookieSent
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitSent:
		return "init_sent"
	case StateInitAckReceived:
		return "init_ack_received"
	case StateCookieSent:
		return "cookie_sent"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// CongestionPacket is the content of a CONGESTION report.
type CongestionPacket struct {
	Word0    uint16
	Received uint16
	Lost     uint16
}
