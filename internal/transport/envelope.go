package transport

// wireEnvelope is the length-delimited-message wire encoding shared by
// the WebSocket and gRPC-passthrough transports: each physical message
// (one WS binary frame, or one grpc stream SendMsg/RecvMsg call) carries
// exactly one TransportMessage, JSON-encoded — grounded on the teacher's
// WSEvent wrapper (handler/marshaller/ws/marshaller.go) generalized from
// one fixed event shape to a full framed message.
type wireEnvelope struct {
	StreamID    uint32      `json:"stream_id"`
	Metadata    [][2]string `json:"metadata,omitempty"`
	HasPayload  bool        `json:"has_payload,omitempty"`
	Payload     []byte      `json:"payload,omitempty"`
	EndOfStream bool        `json:"end_of_stream,omitempty"`
	MethodPath  string      `json:"method_path,omitempty"`
}

func envelopeFromMessage(msg *TransportMessage) wireEnvelope {
	e := wireEnvelope{StreamID: msg.StreamID, EndOfStream: msg.EndOfStream, MethodPath: msg.MethodPath}
	if msg.Metadata != nil {
		e.Metadata = msg.Metadata.Pairs()
	}
	if msg.Payload != nil {
		e.HasPayload = true
		e.Payload = msg.Payload
	}
	return e
}

func (e *wireEnvelope) toMessage() *TransportMessage {
	msg := &TransportMessage{StreamID: e.StreamID, EndOfStream: e.EndOfStream, MethodPath: e.MethodPath}
	if len(e.Metadata) > 0 {
		md := Metadata{pairs: e.Metadata}
		msg.Metadata = &md
	}
	if e.HasPayload {
		msg.Payload = e.Payload
		if msg.Payload == nil {
			msg.Payload = []byte{}
		}
	}
	return msg
}
