package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func newTestLogger(level Level) *Logger {
	return &Logger{Level: level, Tag: "test", out: new(bytes.Buffer), mu: new(sync.Mutex)}
}

func TestLogFiltersByLevel(t *testing.T) {
	log := newTestLogger(Warn)
	buf := new(bytes.Buffer)
	log.SetDestination(buf)

	log.Debug("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected Debug to be filtered at Warn level, got %q", buf.String())
	}

	log.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected Warn message to be logged, got %q", buf.String())
	}
}

func TestLogIncludesTagAndMessage(t *testing.T) {
	log := newTestLogger(Debug)
	buf := new(bytes.Buffer)
	log.SetDestination(buf)

	log.Info("hello %s", "world")
	out := buf.String()
	if !strings.Contains(out, "test") {
		t.Fatalf("expected tag in output, got %q", out)
	}
	if !strings.Contains(out, "hello world") {
		t.Fatalf("expected formatted message in output, got %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected trailing newline, got %q", out)
	}
}

func TestWithTagInheritsLevelByDefault(t *testing.T) {
	root := newTestLogger(Info)
	child := root.WithTag("child")
	if child.Level != Info {
		t.Fatalf("expected child to inherit level Info, got %v", child.Level)
	}
	if child.Tag != "child" {
		t.Fatalf("expected tag 'child', got %q", child.Tag)
	}
}

func TestDetermineLevelAppliesTagOverride(t *testing.T) {
	saved := tagLevels
	defer func() { tagLevels = saved }()

	tagLevels = []struct {
		tag   string
		level Level
	}{{"hub", Debug}}

	if got := determineLevel("hub", Warn); got != Debug {
		t.Fatalf("expected tag override Debug, got %v", got)
	}
	if got := determineLevel("other", Warn); got != Warn {
		t.Fatalf("expected fallback Warn for untagged logger, got %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"E":     Error,
		"error": Error,
		"W":     Warn,
		"I":     Info,
		"D":     Debug,
		"3":     Level(3),
	}
	for s, want := range cases {
		got, err := parseLevel(s)
		if err != nil {
			t.Fatalf("parseLevel(%q) unexpected error: %v", s, err)
		}
		if got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := parseLevel("bogus"); err == nil {
		t.Fatal("expected error for invalid level name")
	}
	if _, err := parseLevel("100"); err == nil {
		t.Fatal("expected error for out-of-range numeric level")
	}
}

func TestLevelString(t *testing.T) {
	if Error.String() != "Error" {
		t.Fatalf("expected 'Error', got %q", Error.String())
	}
	if got := Level(5).String(); !strings.Contains(got, "Trace") {
		t.Fatalf("expected Trace(n) for level above Debug, got %q", got)
	}
}
