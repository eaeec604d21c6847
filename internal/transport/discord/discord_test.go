package discord

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

func TestSplitTextPrefersNewlines(t *testing.T) {
	line := strings.Repeat("a", 900)
	s := line + "\n" + line + "\n" + line
	parts := splitText(s, 2000)
	if len(parts) != 2 {
		t.Fatalf("parts=%d", len(parts))
	}
	if parts[0] != line+"\n"+line {
		t.Fatalf("first chunk not cut at newline")
	}
	for _, p := range parts {
		if len([]rune(p)) > 2000 {
			t.Fatalf("chunk too long: %d", len(p))
		}
	}
}

func TestSplitTextShortIsUntouched(t *testing.T) {
	if got := splitText("hi", 2000); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("got %v", got)
	}
}

func TestMapErr(t *testing.T) {
	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}}
	if err := mapErr(forbidden); !errors.Is(err, transport.ErrForbidden) {
		t.Fatalf("403 not mapped: %v", err)
	}
	missing := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	if err := mapErr(missing); !errors.Is(err, transport.ErrNotFound) {
		t.Fatalf("404 not mapped: %v", err)
	}
	other := errors.New("boom")
	if err := mapErr(other); err != other {
		t.Fatalf("unexpected wrap: %v", err)
	}
	if mapErr(nil) != nil {
		t.Fatalf("nil not preserved")
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
