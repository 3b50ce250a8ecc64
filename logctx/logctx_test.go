package logctx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestWithMergesFixedFields(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetOutput(&buf)

	l := New(base)
	scoped := With(l, Fields{"conn": "a<->b"})
	scoped.Info("hello", Fields{"n": 1})

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output not valid JSON: %v", err)
	}
	if decoded["conn"] != "a<->b" {
		t.Errorf("conn field = %v, want a<->b", decoded["conn"])
	}
	if decoded["msg"] != "hello" {
		t.Errorf("msg field = %v, want hello", decoded["msg"])
	}
}

func TestNopLoggerDiscardsEverything(t *testing.T) {
	// Exercised purely so a panic on a nil-unsafe implementation would
	// surface here; Nop has nothing to assert on otherwise.
	Nop.Debug("x", Fields{})
	Nop.Info("x", Fields{})
	Nop.Warn("x", Fields{})
	Nop.Error("x", Fields{})
}
