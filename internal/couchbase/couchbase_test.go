package couchbase

import "testing"

type doc struct {
	Cas
	Name string
}

func TestNewStore_RequiresParameters(t *testing.T) {
	if _, err := NewStore[doc](nil, "_default", "users"); err == nil {
		t.Error("NewStore() accepted a nil bucket")
	}
}

func TestCas(t *testing.T) {
	var d doc
	var setter CasSetter = &d
	setter.SetCas(42)
	if d.GetCas() != 42 {
		t.Errorf("GetCas() = %d, want 42", d.GetCas())
	}
}
