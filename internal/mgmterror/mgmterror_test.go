package mgmterror

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestLockDeniedIdentifiesHolder(t *testing.T) {
	err := NewLockDeniedError("42")
	if err.Tag != TagLockDenied {
		t.Fatalf("got tag %s, want %s", err.Tag, TagLockDenied)
	}
	if !strings.Contains(err.Message, "42") {
		t.Fatalf("message %q does not name the holder", err.Message)
	}
	if len(err.Info) != 1 || err.Info[0].Value != "42" {
		t.Fatalf("expected session-id info tag naming holder, got %+v", err.Info)
	}
}

func TestUnknownElementIsApplicationLayer(t *testing.T) {
	err := NewUnknownElementApplicationError("eth9")
	if err.Type != TypeApp {
		t.Fatalf("got type %s, want %s", err.Type, TypeApp)
	}
	if err.Tag != TagUnknownElement {
		t.Fatalf("got tag %s, want %s", err.Tag, TagUnknownElement)
	}
}

func TestMarshalXMLProducesRPCError(t *testing.T) {
	err := NewInvalidValueApplicationError()
	err.Path = "/interfaces/interface[name='eth0']"
	out, marshalErr := xml.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("marshal: %v", marshalErr)
	}
	s := string(out)
	for _, want := range []string{"<rpc-error>", "<error-type>application</error-type>",
		"<error-tag>invalid-value</error-tag>", "<error-path>"} {
		if !strings.Contains(s, want) {
			t.Errorf("marshaled error missing %q: %s", want, s)
		}
	}
}

func TestErrorMessageIncludesPath(t *testing.T) {
	err := NewOperationFailedApplicationError()
	err.Path = "/system/host-name"
	err.Message = "boom"
	got := err.Error.Error()
	if got != "[/system/host-name] boom" {
		t.Fatalf("got %q", got)
	}
}
