package message

import "fmt"

// Kind identifies a message variant.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindBinary
	KindConnected
	KindClosed
	KindPush
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	case KindConnected:
		return "connected"
	case KindClosed:
		return "closed"
	case KindPush:
		return "push"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Notification reports whether the kind is a lifecycle notification.
// Responses produced while dispatching a notification are never flushed.
func (k Kind) Notification() bool {
	return k == KindConnected || k == KindClosed
}

// PushClass reports whether messages of this kind originate on the server.
// Push-class dispatches never reuse an execution context that happens to be
// active on the calling goroutine.
func (k Kind) PushClass() bool {
	return k == KindPush
}

// Message is the sealed union of all message variants.
type Message interface {
	Kind() Kind
	sealed()
}

// Text is a text frame received from the client.
type Text struct {
	Text string
}

// Binary is a binary frame received from the client. Offset and Length
// select the meaningful window of Data.
type Binary struct {
	Data   []byte
	Offset int
	Length int
}

// Connected notifies listeners that a connection was opened.
type Connected struct {
	App     string
	Session string
	View    string
}

// Closed notifies listeners that a connection was closed.
type Closed struct {
	App     string
	Session string
	View    string
	Code    int
	Reason  string
}

// Push carries an application payload produced on the server.
type Push struct {
	Payload any
}

func (Text) Kind() Kind      { return KindText }
func (Binary) Kind() Kind    { return KindBinary }
func (Connected) Kind() Kind { return KindConnected }
func (Closed) Kind() Kind    { return KindClosed }
func (Push) Kind() Kind      { return KindPush }

func (Text) sealed()      {}
func (Binary) sealed()    {}
func (Connected) sealed() {}
func (Closed) sealed()    {}
func (Push) sealed()      {}

// NewBinary creates a Binary message over the whole of data.
func NewBinary(data []byte) Binary {
	return Binary{Data: data, Offset: 0, Length: len(data)}
}

// Bytes returns the window of Data selected by Offset and Length.
// Out-of-range windows are clamped to the bounds of Data.
func (b Binary) Bytes() []byte {
	start := b.Offset
	if start < 0 {
		start = 0
	}
	if start > len(b.Data) {
		start = len(b.Data)
	}
	end := len(b.Data)
	if b.Length >= 0 && b.Length < end-start {
		end = start + b.Length
	}
	return b.Data[start:end]
}

// Describe returns a short, log-safe description of msg.
// Message bodies are never included.
func Describe(msg Message) string {
	switch m := msg.(type) {
	case Text:
		return fmt.Sprintf("text(%d bytes)", len(m.Text))
	case Binary:
		return fmt.Sprintf("binary(%d bytes)", len(m.Bytes()))
	case Connected:
		return fmt.Sprintf("connected(%s/%s/%s)", m.App, m.Session, m.View)
	case Closed:
		return fmt.Sprintf("closed(%s/%s/%s code=%d)", m.App, m.Session, m.View, m.Code)
	case Push:
		return fmt.Sprintf("push(%T)", m.Payload)
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("unknown(%T)", msg)
	}
}
