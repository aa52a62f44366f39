package validate_test

import (
	"strings"
	"testing"

	"github.com/relaychat/chatserver/internal/validate"
)

func TestUsername_Valid(t *testing.T) {
	res := validate.Username("alice", 50)
	if !res.OK || res.Sanitized != "alice" {
		t.Fatalf("expected valid username, got %+v", res)
	}
}

func TestUsername_ReservedRejected(t *testing.T) {
	res := validate.Username("Admin", 50)
	if res.OK {
		t.Fatal("expected reserved username to be rejected")
	}
}

func TestUsername_PurelyNumericRejected(t *testing.T) {
	res := validate.Username("12345", 50)
	if res.OK {
		t.Fatal("expected purely numeric username to be rejected")
	}
}

func TestUsername_BoundaryLength(t *testing.T) {
	maxLen := 10
	exact := strings.Repeat("a", maxLen)
	if res := validate.Username(exact, maxLen); !res.OK {
		t.Fatalf("expected username of exactly max length to be accepted, got %+v", res)
	}

	over := strings.Repeat("a", maxLen+1)
	if res := validate.Username(over, maxLen); res.OK {
		t.Fatal("expected username of max+1 length to be rejected")
	}
}

func TestUsername_InjectionRejected(t *testing.T) {
	res := validate.Username("<script>x", 50)
	if res.OK {
		t.Fatal("expected injection pattern to be rejected")
	}
}

func TestMessage_BoundaryLength(t *testing.T) {
	maxLen := 20
	exact := strings.Repeat("a", maxLen)
	if res := validate.Message(exact, maxLen); !res.OK {
		t.Fatalf("expected message of exactly max length to be accepted, got %+v", res)
	}

	over := strings.Repeat("a", maxLen+1)
	if res := validate.Message(over, maxLen); res.OK {
		t.Fatal("expected message of max+1 length to be rejected")
	}
}

func TestMessage_InjectionRejected(t *testing.T) {
	res := validate.Message("<script>alert(1)</script>", 1000)
	if res.OK {
		t.Fatal("expected injection pattern to be rejected")
	}
}

func TestMessage_HTMLEscapeOrder(t *testing.T) {
	res := validate.Message("a & <b>", 1000)
	if !res.OK {
		t.Fatalf("expected message to be valid, got errors %v", res.Errors)
	}
	if res.Sanitized != "a &amp; &lt;b&gt;" {
		t.Fatalf("unexpected sanitized value: %q", res.Sanitized)
	}
}

func TestMessage_WhitespaceCollapse(t *testing.T) {
	res := validate.Message("hello   there\t\tfriend", 1000)
	if !res.OK {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if res.Sanitized != "hello there friend" {
		t.Fatalf("unexpected sanitized value: %q", res.Sanitized)
	}
}

func TestMessage_SanitizeIsIdempotent(t *testing.T) {
	input := "  weird\x00 & <spacing>​ here  "
	first := validate.Message(input, 1000)
	second := validate.Message(first.Sanitized, 1000)
	if first.Sanitized != second.Sanitized {
		t.Fatalf("sanitize not idempotent: %q vs %q", first.Sanitized, second.Sanitized)
	}
}

func TestMessage_EmptyRejected(t *testing.T) {
	res := validate.Message("   ", 1000)
	if res.OK {
		t.Fatal("expected whitespace-only message to be rejected")
	}
}

func TestParseCommand_Nick(t *testing.T) {
	cmd, res := validate.ParseCommand("/nick alice", 50)
	if !res.OK || cmd.Verb != "nick" || cmd.Arg != "alice" {
		t.Fatalf("unexpected result: cmd=%+v res=%+v", cmd, res)
	}
}

func TestParseCommand_NickRequiresArg(t *testing.T) {
	_, res := validate.ParseCommand("/nick", 50)
	if res.OK {
		t.Fatal("expected nick without argument to fail")
	}
}

func TestParseCommand_QuitIgnoresArgs(t *testing.T) {
	cmd, res := validate.ParseCommand("/quit now", 50)
	if !res.OK || cmd.Verb != "quit" {
		t.Fatalf("unexpected result: cmd=%+v res=%+v", cmd, res)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for ignored argument")
	}
}

func TestParseCommand_MustBeginWithSlash(t *testing.T) {
	_, res := validate.ParseCommand("nick alice", 50)
	if res.OK {
		t.Fatal("expected command without leading '/' to fail")
	}
}
