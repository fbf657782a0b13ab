package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

var testSender = NodeID{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

func TestDataRoundTrip(t *testing.T) {
	// The canonical small message: 14 byte header + 3 byte nick + 2 byte
	// payload = 19 bytes on the wire.
	m := &Message{
		Type:    MsgTypeData,
		Flags:   FlagPleaseRelay,
		ID:      0x11223344,
		TTL:     15,
		Sender:  testSender,
		Nick:    "Bob",
		Payload: []byte("hi"),
	}
	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(encoded) != 19 {
		t.Fatalf("encoded length = %d, want 19", len(encoded))
	}

	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Type != MsgTypeData || got.Flags != FlagPleaseRelay {
		t.Errorf("type/flags = %d/%d, want %d/%d", got.Type, got.Flags, MsgTypeData, FlagPleaseRelay)
	}
	if got.ID != m.ID {
		t.Errorf("ID = %08x, want %08x", got.ID, m.ID)
	}
	if got.TTL != 15 {
		t.Errorf("TTL = %d, want 15", got.TTL)
	}
	if got.Sender != testSender {
		t.Errorf("Sender = %s, want %s", got.Sender, testSender)
	}
	if got.Nick != "Bob" {
		t.Errorf("Nick = %q, want %q", got.Nick, "Bob")
	}
	if !bytes.Equal(got.Payload, []byte("hi")) {
		t.Errorf("Payload = %q, want %q", got.Payload, "hi")
	}
}

func TestAckRoundTrip(t *testing.T) {
	m := &Message{
		Type:    MsgTypeAck,
		ID:      0xdeadbeef,
		AckType: MsgTypeData,
		Sender:  testSender,
	}
	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(encoded) != AckPacketSize {
		t.Fatalf("encoded length = %d, want %d", len(encoded), AckPacketSize)
	}
	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.ID != m.ID || got.AckType != MsgTypeData || got.Sender != testSender {
		t.Errorf("decoded ack = %+v, want id %08x acktype %d sender %s",
			got, m.ID, MsgTypeData, testSender)
	}
}

func TestHelloRoundTrip(t *testing.T) {
	m := &Message{
		Type:    MsgTypeHello,
		Sender:  testSender,
		Seen:    7,
		Nick:    "antirez",
		Payload: []byte("Hi there!"),
	}
	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(encoded) != HelloHeaderSize+len("antirez")+len("Hi there!") {
		t.Fatalf("encoded length = %d", len(encoded))
	}
	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Seen != 7 || got.Nick != "antirez" || string(got.Payload) != "Hi there!" {
		t.Errorf("decoded hello = %+v", got)
	}
}

func TestEncodeTruncation(t *testing.T) {
	tests := []struct {
		name     string
		nick     string
		payload  int
		wantNick int
	}{
		{"payload trimmed first", "shortnick", 400, len("shortnick")},
		{"huge nick clamped to available space", strings.Repeat("n", 300), 0, MaxPacketSize - DataHeaderSize},
		{"both at limit", strings.Repeat("n", 200), 200, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{
				Type:    MsgTypeData,
				ID:      1,
				TTL:     15,
				Sender:  testSender,
				Nick:    tt.nick,
				Payload: bytes.Repeat([]byte("x"), tt.payload),
			}
			encoded, err := m.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(encoded) > MaxPacketSize {
				t.Fatalf("encoded length %d exceeds %d", len(encoded), MaxPacketSize)
			}
			got, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(got.Nick) != tt.wantNick {
				t.Errorf("nick length = %d, want %d", len(got.Nick), tt.wantNick)
			}
			// Whatever survived must be a prefix of the original fields.
			if !strings.HasPrefix(tt.nick, got.Nick) {
				t.Error("truncated nick is not a prefix of the original")
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrPacketTooShort},
		{"one byte", []byte{MsgTypeData}, ErrPacketTooShort},
		{"short data header", make([]byte, DataHeaderSize-1), ErrPacketTooShort},
		{"short ack", append([]byte{MsgTypeAck}, make([]byte, 5)...), ErrPacketTooShort},
		{"oversize ack", append([]byte{MsgTypeAck}, make([]byte, 20)...), ErrPacketTooShort},
		{"short hello", append([]byte{MsgTypeHello}, make([]byte, 7)...), ErrPacketTooShort},
		{"unknown type", []byte{0x42, 0x00}, ErrUnknownMsgType},
		{"reserved bulk type", []byte{MsgTypeBulkStart, 0x00}, ErrUnknownMsgType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeRejectsBadNickLen(t *testing.T) {
	m := &Message{Type: MsgTypeData, ID: 1, TTL: 5, Sender: testSender, Nick: "ab", Payload: []byte("cd")}
	encoded, _ := m.Encode()
	encoded[13] = 200 // declares a nickname far past the packet end
	if _, err := Decode(encoded); !errors.Is(err, ErrBadNicknameLen) {
		t.Errorf("Decode() error = %v, want %v", err, ErrBadNicknameLen)
	}

	h := &Message{Type: MsgTypeHello, Sender: testSender, Nick: "ab", Payload: []byte("ok")}
	encoded, _ = h.Encode()
	encoded[9] = 200
	if _, err := Decode(encoded); !errors.Is(err, ErrBadNicknameLen) {
		t.Errorf("Decode() error = %v, want %v", err, ErrBadNicknameLen)
	}
}

func TestDecodeShortSequencesNeverPanic(t *testing.T) {
	// Every prefix of a valid packet must decode to an error, not a panic.
	m := &Message{Type: MsgTypeData, ID: 99, TTL: 3, Sender: testSender, Nick: "n", Payload: []byte("p")}
	encoded, _ := m.Encode()
	for i := 0; i < DataHeaderSize; i++ {
		if _, err := Decode(encoded[:i]); err == nil {
			t.Errorf("Decode of %d byte prefix succeeded, want error", i)
		}
	}
}

func TestParseNodeID(t *testing.T) {
	id, err := ParseNodeID("aabbccddeeff")
	if err != nil {
		t.Fatalf("ParseNodeID() error = %v", err)
	}
	if id != testSender {
		t.Errorf("ParseNodeID = %v, want %v", id, testSender)
	}
	if id.String() != "aabbccddeeff" {
		t.Errorf("String() = %q", id.String())
	}
	for _, bad := range []string{"zzzz", "aabb", "aabbccddeeff00"} {
		if _, err := ParseNodeID(bad); err == nil {
			t.Errorf("ParseNodeID(%q) succeeded, want error", bad)
		}
	}
}
