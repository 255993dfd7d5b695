package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/llmgw"
	"github.com/voxbridge/voxbridge/internal/sttgw"
)

func TestNewLogger_SelectsLevelAndFormat(t *testing.T) {
	cases := []struct {
		level, format string
		want          slog.Level
	}{
		{"debug", "text", slog.LevelDebug},
		{"warn", "json", slog.LevelWarn},
		{"error", "json", slog.LevelError},
		{"", "json", slog.LevelInfo},
	}
	for _, c := range cases {
		l := newLogger(c.level, c.format)
		if l == nil {
			t.Fatalf("newLogger(%q, %q) returned nil", c.level, c.format)
		}
		if !l.Enabled(context.Background(), c.want) {
			t.Errorf("newLogger(%q, %q): level %v not enabled", c.level, c.format, c.want)
		}
	}
}

func TestSentenceMode(t *testing.T) {
	if sentenceMode(config.SentenceConfig{UseClauseSplitting: false}) != llmgw.SplitSentence {
		t.Error("expected SplitSentence when clause splitting disabled")
	}
	if sentenceMode(config.SentenceConfig{UseClauseSplitting: true}) != llmgw.SplitClause {
		t.Error("expected SplitClause when clause splitting enabled")
	}
}

func TestSTTAudioFormat(t *testing.T) {
	if sttAudioFormat("opus") != sttgw.FormatOpus {
		t.Error("expected FormatOpus for \"opus\"")
	}
	if sttAudioFormat("pcm") != sttgw.FormatPCM {
		t.Error("expected FormatPCM for \"pcm\"")
	}
	if sttAudioFormat("") != sttgw.FormatPCM {
		t.Error("expected FormatPCM as the default")
	}
}

func TestOrDefault(t *testing.T) {
	if got := orDefault(0, 1.5); got != 1.5 {
		t.Errorf("orDefault(0, 1.5) = %v, want 1.5", got)
	}
	if got := orDefault(0.8, 1.5); got != 0.8 {
		t.Errorf("orDefault(0.8, 1.5) = %v, want 0.8", got)
	}
}

func TestBuildLLMGateway_NoBackendsConfiguredReturnsUsableGateway(t *testing.T) {
	gw, err := buildLLMGateway(config.LLMConfig{}, nil)
	if err != nil {
		t.Fatalf("buildLLMGateway: %v", err)
	}
	if gw == nil {
		t.Fatal("expected a non-nil gateway even with no backends configured")
	}
}
