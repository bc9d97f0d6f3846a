package packet

import "encoding/binary"

// InnerKind selects the payload carried inside a decrypted
// NOISE_ENCRYPTED transport-mode packet.
type InnerKind uint8

const (
	InnerPrivateMessage InnerKind = 0x01
	InnerReadReceipt     InnerKind = 0x02
	InnerDeliveryAck     InnerKind = 0x03
)

// Strict TLV tags for the PRIVATE_MESSAGE inner payload (2-byte length
// prefix, unknown types rejected per §4.2).
const (
	MessageTagText    uint8 = 0x01
	MessageTagChannel uint8 = 0x02
)

var messageKnownTags = map[uint8]bool{
	MessageTagText:    true,
	MessageTagChannel: true,
}

// PrivateMessage is the inner payload of a directed NOISE_ENCRYPTED
// packet carrying chat content.
type PrivateMessage struct {
	Text    string
	Channel string // empty for a direct (non-channel) message
}

// Encode serializes the private message as strict TLV.
func (m *PrivateMessage) Encode() []byte {
	tw := NewTLVWriter(2)
	tw.Put(MessageTagText, []byte(m.Text))
	if m.Channel != "" {
		tw.Put(MessageTagChannel, []byte(m.Channel))
	}
	return tw.Bytes()
}

// DecodePrivateMessage parses a strict TLV private-message body.
// Unknown TLV types are rejected (§4.2).
func DecodePrivateMessage(data []byte) (*PrivateMessage, error) {
	fields, err := DecodeTLVs(data, 2, false, messageKnownTags)
	if err != nil {
		return nil, err
	}
	m := &PrivateMessage{}
	if v, ok := FirstField(fields, MessageTagText); ok {
		m.Text = string(v)
	}
	if v, ok := FirstField(fields, MessageTagChannel); ok {
		m.Channel = string(v)
	}
	return m, nil
}

// ReadReceipt acknowledges that a message was displayed to the user.
type ReadReceipt struct {
	OriginalPacketID ID
}

// Encode serializes the receipt as its raw packet-ID bytes.
func (r *ReadReceipt) Encode() []byte {
	return []byte(r.OriginalPacketID)
}

// DecodeReadReceipt reads back a receipt body.
func DecodeReadReceipt(data []byte) (*ReadReceipt, error) {
	if len(data) == 0 {
		return nil, ErrMalformedPacket
	}
	return &ReadReceipt{OriginalPacketID: ID(append([]byte(nil), data...))}, nil
}

// DeliveryAck acknowledges that a message reached the recipient's mesh
// stack (not necessarily its UI).
type DeliveryAck struct {
	OriginalPacketID ID
	ReceivedAtMs     uint64
}

// Encode serializes the ack as packet-ID bytes followed by an 8-byte
// big-endian receive timestamp.
func (a *DeliveryAck) Encode() []byte {
	out := make([]byte, 0, len(a.OriginalPacketID)+8)
	out = append(out, a.OriginalPacketID...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], a.ReceivedAtMs)
	return append(out, ts[:]...)
}

// DecodeDeliveryAck reads back an ack body.
func DecodeDeliveryAck(data []byte) (*DeliveryAck, error) {
	if len(data) < 9 {
		return nil, ErrMalformedPacket
	}
	idLen := len(data) - 8
	return &DeliveryAck{
		OriginalPacketID: ID(append([]byte(nil), data[:idLen]...)),
		ReceivedAtMs:     binary.BigEndian.Uint64(data[idLen:]),
	}, nil
}
