package main

import (
	"testing"
)

func TestAmf0RoundTripPrimitives(t *testing.T) {
	cases := []Amf0Value{
		Amf0NewNumber(3.5),
		Amf0NewNumber(-1),
		Amf0NewBoolean(true),
		Amf0NewBoolean(false),
		Amf0NewString("hello"),
		Amf0NewLongString(""),
		Amf0NewNull(),
		Amf0NewUndefined(),
		Amf0NewDate(12345, -60),
	}

	for _, want := range cases {
		encoded := amf0Encode(want)
		got, n, err := amf0Decode(encoded, 0)
		if err != nil {
			t.Fatalf("decode %v: %v", want.Kind, err)
		}
		if n != len(encoded) {
			t.Fatalf("decode %v: consumed %d, want %d", want.Kind, n, len(encoded))
		}
		if got.Kind != want.Kind {
			t.Fatalf("kind mismatch: got %v want %v", got.Kind, want.Kind)
		}
	}
}

func TestAmf0ObjectPreservesPropertyOrder(t *testing.T) {
	obj := Amf0NewObject()
	obj.Set("app", Amf0NewString("live"))
	obj.Set("type", Amf0NewString("nonprivate"))
	obj.Set("flashVer", Amf0NewString("FMLE/3.0"))

	encoded := amf0Encode(obj)
	got, _, err := amf0Decode(encoded, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	props := got.Properties()
	wantKeys := []string{"app", "type", "flashVer"}
	if len(props) != len(wantKeys) {
		t.Fatalf("got %d properties, want %d", len(props), len(wantKeys))
	}
	for i, k := range wantKeys {
		if props[i].Key != k {
			t.Fatalf("property %d: got key %q, want %q", i, props[i].Key, k)
		}
	}
}

func TestAmf0SetOverwritesInPlace(t *testing.T) {
	obj := Amf0NewObject()
	obj.Set("a", Amf0NewNumber(1))
	obj.Set("b", Amf0NewNumber(2))
	obj.Set("a", Amf0NewNumber(3))

	props := obj.Properties()
	if len(props) != 2 {
		t.Fatalf("expected 2 properties after overwrite, got %d", len(props))
	}
	if props[0].Key != "a" {
		t.Fatalf("overwrite should not move key to the end, got order %v", props)
	}
	n, err := props[0].Value.AsNumber()
	if err != nil || n != 3 {
		t.Fatalf("expected overwritten value 3, got %v (%v)", n, err)
	}
}

func TestAmf0GetMissingKey(t *testing.T) {
	obj := Amf0NewObject()
	obj.Set("present", Amf0NewString("x"))

	if _, ok := obj.Get("absent"); ok {
		t.Fatalf("expected Get to report missing key as absent")
	}
	v := obj.GetOrUndefined("absent")
	if !v.IsUndefined() {
		t.Fatalf("expected GetOrUndefined to return Undefined for a missing key")
	}
}

func TestAmf0AsStringMismatchIsBadAmf0(t *testing.T) {
	n := Amf0NewNumber(1)
	_, err := n.AsString()
	if err == nil {
		t.Fatalf("expected error converting Number to string")
	}
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Kind != ErrBadAmf0 {
		t.Fatalf("expected ErrBadAmf0, got %v", err)
	}
}

func TestDecodeAmf0SequenceMultipleValues(t *testing.T) {
	cmdObj := Amf0NewObject()
	cmdObj.Set("app", Amf0NewString("live"))

	var body []byte
	body = append(body, amf0Encode(Amf0NewString("connect"))...)
	body = append(body, amf0Encode(Amf0NewNumber(1))...)
	body = append(body, amf0Encode(cmdObj)...)

	values, err := decodeAmf0Sequence(body)
	if err != nil {
		t.Fatalf("decodeAmf0Sequence: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 decoded values, got %d", len(values))
	}
	name, err := values[0].AsString()
	if err != nil || name != "connect" {
		t.Fatalf("expected command name 'connect', got %q (%v)", name, err)
	}
	tid, err := values[1].AsNumber()
	if err != nil || tid != 1 {
		t.Fatalf("expected transaction id 1, got %v (%v)", tid, err)
	}
	app, ok := values[2].Get("app")
	if !ok {
		t.Fatalf("expected command object to carry 'app'")
	}
	appStr, _ := app.AsString()
	if appStr != "live" {
		t.Fatalf("expected app 'live', got %q", appStr)
	}
}

func TestAmf0DecodeTruncatedBuffer(t *testing.T) {
	// A Number marker with no following bytes must fail, not panic.
	_, _, err := amf0Decode([]byte{markerNumber}, 0)
	if err == nil {
		t.Fatalf("expected truncated decode to fail")
	}
	pe, ok := err.(*ProtocolError)
	if !ok || pe.Kind != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestAmf0StrictArrayRoundTrip(t *testing.T) {
	arr := Amf0NewStrictArray()
	arr.Append(Amf0NewNumber(1))
	arr.Append(Amf0NewString("two"))
	arr.Append(Amf0NewBoolean(true))

	encoded := amf0Encode(arr)
	got, n, err := amf0Decode(encoded, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d, want %d", n, len(encoded))
	}
	if len(got.Elements()) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(got.Elements()))
	}
}
