// Package protocol defines the wire format of the MessagePack RPC system.  Requests and failures are encoded as
// MessagePack arrays rather than maps.
package protocol

import "github.com/tinylib/msgp/msgp"

// A Request is a message sent from a client to a server.
type Request struct {
	// ID identifies the request in its responses.
	ID string

	// Method is one of "call" or "start".
	Method string

	// Function is the name of the function to call or start.
	Function string

	// Input is the encoded input of the function, which may be nil.
	Input msgp.Raw
}

// MarshalMsg implements msgp.Marshaler
func (r *Request) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 4)
	b = msgp.AppendString(b, r.ID)
	b = msgp.AppendString(b, r.Method)
	b = msgp.AppendString(b, r.Function)
	if len(r.Input) == 0 {
		return msgp.AppendNil(b), nil
	}
	return r.Input.MarshalMsg(b)
}

// UnmarshalMsg implements msgp.Unmarshaler
func (r *Request) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 4 {
		return b, msgp.ArrayError{Wanted: 4, Got: n}
	}
	for _, field := range []*string{&r.ID, &r.Method, &r.Function} {
		*field, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return b, err
		}
	}
	return r.Input.UnmarshalMsg(b)
}

// A Response is a message sent from a server to a client.
type Response struct {
	// ID is the ID of the request to which this is a response.
	ID string

	// Method is one of "succ", "fail", "yield" or "end".
	Method string

	// Output depends on the method: the function's output for "succ" and "yield", a Fail for "fail" and nil for "end".
	Output msgp.MarshalSizer
}

// Msgsize implements msgp.Sizer
func (r *Response) Msgsize() int {
	n := msgp.ArrayHeaderSize +
		msgp.StringPrefixSize + len(r.ID) +
		msgp.StringPrefixSize + len(r.Method)
	if r.Output == nil {
		return n + msgp.NilSize
	}
	return n + r.Output.Msgsize()
}

// MarshalMsg implements msgp.Marshaler
func (r *Response) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendString(b, r.ID)
	b = msgp.AppendString(b, r.Method)
	if r.Output == nil {
		return msgp.AppendNil(b), nil
	}
	return r.Output.MarshalMsg(b)
}

// A Fail is the output of a "fail" response.
type Fail struct {
	Code int // analogous to HTTP status codes
	Msg  string
}

// Msgsize implements msgp.Sizer
func (f Fail) Msgsize() int {
	return msgp.ArrayHeaderSize + msgp.IntSize + msgp.StringPrefixSize + len(f.Msg)
}

// MarshalMsg implements msgp.Marshaler
func (f Fail) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendInt(b, f.Code)
	return msgp.AppendString(b, f.Msg), nil
}

// UnmarshalMsg implements msgp.Unmarshaler
func (f *Fail) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 2 {
		return b, msgp.ArrayError{Wanted: 2, Got: n}
	}
	f.Code, b, err = msgp.ReadIntBytes(b)
	if err != nil {
		return b, err
	}
	f.Msg, b, err = msgp.ReadStringBytes(b)
	return b, err
}
