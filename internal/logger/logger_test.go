package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriters_WithDirOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	cfg := Config{Dir: dir}
	outW, errW, err := cfg.Writers("server")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers when Dir is set")
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	for _, p := range []string{"server.stdout.log", "server.stderr.log"} {
		if _, err := os.Stat(filepath.Join(dir, p)); err != nil {
			t.Fatalf("log file %s not created: %v", p, err)
		}
	}
}

func TestWriters_ExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "custom.out")
	cfg := Config{Dir: dir, StdoutPath: sp}
	outW, errW, err := cfg.Writers("agent")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	defer closeIf(outW)
	defer closeIf(errW)
	if got := outW.(*lj.Logger).Filename; got != sp {
		t.Fatalf("stdout path = %q, want %q", got, sp)
	}
	if got := errW.(*lj.Logger).Filename; got != filepath.Join(dir, "agent.stderr.log") {
		t.Fatalf("stderr path = %q", got)
	}
}

func TestWriters_Defaults(t *testing.T) {
	cfg := Config{}
	if cfg.Enabled() {
		t.Fatal("zero config must not be enabled")
	}
	outW, errW, _ := cfg.Writers("n")
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers when nothing is configured")
	}
	cfg = Config{StdoutPath: "x", StderrPath: "y"}
	outW, errW, _ = cfg.Writers("n")
	for _, w := range []io.WriteCloser{outW, errW} {
		l, ok := w.(*lj.Logger)
		if !ok {
			t.Fatalf("expected *lumberjack.Logger, got %T", w)
		}
		if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
			t.Fatalf("defaults not applied: %+v", l)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l, c := New(Options{Format: "json", Level: "debug"}, &buf)
	defer closeIf(c)
	l.Debug("service started", "service", "server", "pid", 42)
	out := buf.String()
	if !strings.Contains(out, `"msg":"service started"`) || !strings.Contains(out, `"pid":42`) {
		t.Fatalf("unexpected json output: %s", out)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Options{Level: "warn"}, &buf)
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filtering failed: %q", buf.String())
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svcman.log")
	l, c := New(Options{File: path}, nil)
	l.Info("to file")
	closeIf(c)
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(b), "to file") {
		t.Fatalf("file log missing record: %q", b)
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	l := slog.New(h).With("service", "client")
	l.Error("boom")
	out := buf.String()
	// text handler quotes control characters in the message
	if !strings.Contains(out, `\x1b[31mERROR\x1b[0m`) {
		t.Fatalf("missing red level tag: %q", out)
	}
	if !strings.Contains(out, "service=client") {
		t.Fatalf("attrs lost through WithAttrs: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be hidden when showTime=false: %q", out)
	}
}

func TestFanoutHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := NewFanoutHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	l := slog.New(h).WithGroup("svc").With("name", "agent")
	l.Info("only a")
	l.Error("both")
	if !strings.Contains(a.String(), "only a") || !strings.Contains(a.String(), "both") {
		t.Fatalf("handler a: %q", a.String())
	}
	if strings.Contains(b.String(), "only a") || !strings.Contains(b.String(), "svc.name=agent") {
		t.Fatalf("handler b: %q", b.String())
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("fanout must be enabled if any child is")
	}
}

func TestJournalFields(t *testing.T) {
	fields := map[string]string{}
	journalFields(fields, slog.Group("proc", slog.Int("pid", 7), slog.Bool("ok", true)), []string{"svc"})
	journalFields(fields, slog.String("service", "server"), nil)
	if fields["SVC_PROC_PID"] != "7" || fields["SVC_PROC_OK"] != "true" {
		t.Fatalf("group flattening wrong: %v", fields)
	}
	if fields["SERVICE"] != "server" {
		t.Fatalf("plain attr wrong: %v", fields)
	}
}
