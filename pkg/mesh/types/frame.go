package types

import "encoding/json"

// FrameSeparator is the byte that terminates every JSON object on the
// wire. A stream of frames on one TCP connection is the concatenation
// of NUL-terminated JSON bodies.
const FrameSeparator byte = 0x00

// envelope holds the fields every frame must carry, read first so the
// registry can dispatch before fully decoding type-specific fields.
type envelope struct {
	Type uint8   `json:"type"`
	From NodeID  `json:"from"`
	Dest *NodeID `json:"dest,omitempty"`
}

// Frame is the parsed form of one NUL-terminated JSON object: the
// envelope fields plus the raw remainder, which a Package constructor
// decodes into its own type-specific fields.
type Frame struct {
	Type uint8
	From NodeID
	Dest NodeID // UnknownNode (0) when the frame carries no destination
	Raw  json.RawMessage
}

// HasDest reports whether the frame carries an explicit destination
// field, as opposed to dest being absent (broadcast/topology frames).
func (f Frame) HasDest() bool {
	return f.Dest != UnknownNode
}

// ParseFrame decodes one NUL-terminated JSON body (without the
// trailing separator) into a Frame. It does not know about specific
// Package variants; see Registry.Parse for that.
func ParseFrame(body []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Frame{}, err
	}
	dest := UnknownNode
	if env.Dest != nil {
		dest = *env.Dest
	}
	return Frame{
		Type: env.Type,
		From: env.From,
		Dest: dest,
		Raw:  body,
	}, nil
}
