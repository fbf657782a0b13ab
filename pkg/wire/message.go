// Package wire implements the binary encoding of FreakWAN radio messages
// and the packet encryption keychain.
package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Message types.
const (
	MsgTypeData uint8 = iota
	MsgTypeAck
	MsgTypeHello
	MsgTypeBulkStart // Reserved, bulk transfers not implemented
	MsgTypeBulkData
	MsgTypeBulkEnd
	MsgTypeBulkReply
)

// Message flags. Relayed and PleaseRelay are only meaningful on Data.
const (
	FlagRelayed     uint8 = 1 << 0 // This copy was retransmitted by a relay
	FlagPleaseRelay uint8 = 1 << 1 // Receivers should propagate this message
	FlagFragment    uint8 = 1 << 2 // Reserved, fragmentation not implemented
	FlagMedia       uint8 = 1 << 3 // Payload is a typed media blob
	FlagEncrypted   uint8 = 1 << 4 // Payload is encrypted with a keychain key
)

const (
	// MaxPacketSize is the hard ceiling on an encoded message. Encoders
	// truncate variable fields to fit, never overflow.
	MaxPacketSize = 256

	// Fixed header sizes per message type.
	DataHeaderSize  = 14 // type + flags + id:4 + ttl + sender:6 + nicklen
	AckPacketSize   = 13 // type + flags + id:4 + acktype + sender:6
	HelloHeaderSize = 10 // type + flags + sender:6 + seen + nicklen

	// MediaTypeFCI is the only assigned media type: a compressed 1-bit
	// image. The codec treats media payloads as opaque.
	MediaTypeFCI uint8 = 0
)

var (
	ErrPacketTooShort   = errors.New("packet too short")
	ErrBadNicknameLen   = errors.New("nickname length exceeds packet")
	ErrUnknownMsgType   = errors.New("unknown message type")
	ErrTypeNotEncodable = errors.New("message type not encodable")
)

// NodeID is the 48-bit device identity carried on the wire.
type NodeID [6]byte

// String returns the identity as a lowercase hex string.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseNodeID parses a 12-character hex string into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid node ID %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("invalid node ID %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Message is the decoded form of a radio packet. A single struct carries the
// union of all per-type fields; Type selects which ones are meaningful.
// ID and Sender of a Data message are set by the originator and never change
// as the message is relayed.
type Message struct {
	Type  uint8
	Flags uint8

	ID     uint32 // Data, Ack
	TTL    uint8  // Data only
	Sender NodeID

	AckType uint8 // Ack only: type of the message being acknowledged
	Seen    uint8 // Hello only: neighbors the sender currently tracks

	Nick    string // Data, Hello
	Payload []byte // Data: text or media blob; Hello: status text

	// KeyName is the keychain key that decrypted the payload. Not part of
	// the wire format.
	KeyName string
}

// Encode produces the wire representation. Nickname and payload are clamped
// so the result never exceeds MaxPacketSize; the payload is trimmed before
// the nickname.
func (m *Message) Encode() ([]byte, error) {
	switch m.Type {
	case MsgTypeData:
		nick, payload := clampFields(m.Nick, m.Payload, MaxPacketSize-DataHeaderSize)
		buf := make([]byte, DataHeaderSize, DataHeaderSize+len(nick)+len(payload))
		buf[0] = m.Type
		buf[1] = m.Flags
		binary.LittleEndian.PutUint32(buf[2:6], m.ID)
		buf[6] = m.TTL
		copy(buf[7:13], m.Sender[:])
		buf[13] = uint8(len(nick))
		buf = append(buf, nick...)
		buf = append(buf, payload...)
		return buf, nil

	case MsgTypeAck:
		buf := make([]byte, AckPacketSize)
		buf[0] = m.Type
		buf[1] = m.Flags
		binary.LittleEndian.PutUint32(buf[2:6], m.ID)
		buf[6] = m.AckType
		copy(buf[7:13], m.Sender[:])
		return buf, nil

	case MsgTypeHello:
		nick, status := clampFields(m.Nick, m.Payload, MaxPacketSize-HelloHeaderSize)
		buf := make([]byte, HelloHeaderSize, HelloHeaderSize+len(nick)+len(status))
		buf[0] = m.Type
		buf[1] = m.Flags
		copy(buf[2:8], m.Sender[:])
		buf[8] = m.Seen
		buf[9] = uint8(len(nick))
		buf = append(buf, nick...)
		buf = append(buf, status...)
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrTypeNotEncodable, m.Type)
}

// clampFields fits a nickname and a trailing variable field into avail
// bytes. The trailing field gives way first; the nickname is additionally
// limited to 255 bytes by its length field.
func clampFields(nick string, tail []byte, avail int) (string, []byte) {
	if len(nick) > 255 {
		nick = nick[:255]
	}
	if len(nick) > avail {
		nick = nick[:avail]
	}
	if len(nick)+len(tail) > avail {
		tail = tail[:avail-len(nick)]
	}
	return nick, tail
}

// Decode parses a received packet. The wire is shared with non-protocol and
// corrupted traffic, so a failed decode is an expected condition: callers
// drop the packet and move on. Decode never reads past len(data).
func Decode(data []byte) (*Message, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(data))
	}
	m := &Message{Type: data[0], Flags: data[1]}
	switch m.Type {
	case MsgTypeData:
		if len(data) < DataHeaderSize {
			return nil, fmt.Errorf("%w: data message needs %d bytes, got %d",
				ErrPacketTooShort, DataHeaderSize, len(data))
		}
		m.ID = binary.LittleEndian.Uint32(data[2:6])
		m.TTL = data[6]
		copy(m.Sender[:], data[7:13])
		nickLen := int(data[13])
		if DataHeaderSize+nickLen > len(data) {
			return nil, fmt.Errorf("%w: nicklen %d in %d byte packet",
				ErrBadNicknameLen, nickLen, len(data))
		}
		m.Nick = string(data[DataHeaderSize : DataHeaderSize+nickLen])
		m.Payload = append([]byte(nil), data[DataHeaderSize+nickLen:]...)
		return m, nil

	case MsgTypeAck:
		if len(data) != AckPacketSize {
			return nil, fmt.Errorf("%w: ack is fixed %d bytes, got %d",
				ErrPacketTooShort, AckPacketSize, len(data))
		}
		m.ID = binary.LittleEndian.Uint32(data[2:6])
		m.AckType = data[6]
		copy(m.Sender[:], data[7:13])
		return m, nil

	case MsgTypeHello:
		if len(data) < HelloHeaderSize {
			return nil, fmt.Errorf("%w: hello message needs %d bytes, got %d",
				ErrPacketTooShort, HelloHeaderSize, len(data))
		}
		copy(m.Sender[:], data[2:8])
		m.Seen = data[8]
		nickLen := int(data[9])
		if HelloHeaderSize+nickLen > len(data) {
			return nil, fmt.Errorf("%w: nicklen %d in %d byte packet",
				ErrBadNicknameLen, nickLen, len(data))
		}
		m.Nick = string(data[HelloHeaderSize : HelloHeaderSize+nickLen])
		m.Payload = append([]byte(nil), data[HelloHeaderSize+nickLen:]...)
		return m, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMsgType, m.Type)
}
