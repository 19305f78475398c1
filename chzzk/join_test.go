package chzzk

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseJoinPayload(t *testing.T) {
	raw := []byte(`{"ver":"2","cmd":100,"svcid":"game","cid":"N1abc","bdy":{"uid":null,"devType":2001,"accTkn":"tok","auth":"READ"},"tid":1}`)
	p, err := ParseJoinPayload(raw)
	if err != nil {
		t.Fatalf("ParseJoinPayload: %v", err)
	}
	if p.CID() != "N1abc" {
		t.Errorf("CID() = %q", p.CID())
	}
	if !bytes.Equal(p.Bytes(), raw) {
		t.Errorf("Bytes() changed the payload: %s", p.Bytes())
	}
	// callers cannot mutate the captured payload
	b := p.Bytes()
	b[0] = 'X'
	if !bytes.Equal(p.Bytes(), raw) {
		t.Error("payload mutated through Bytes()")
	}
	out, err := json.Marshal(p)
	if err != nil || !bytes.Equal(out, raw) {
		t.Errorf("MarshalJSON = %s, %v", out, err)
	}
}

func TestParseJoinPayloadErrors(t *testing.T) {
	for _, in := range []string{"", "[]", `{"cmd":100}`, `{"cid":""}`, `{"cid":`} {
		if _, err := ParseJoinPayload([]byte(in)); !errors.Is(err, ErrInvalidJoinPayload) {
			t.Errorf("ParseJoinPayload(%q) err = %v, want ErrInvalidJoinPayload", in, err)
		}
	}
}
