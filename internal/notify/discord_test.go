package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/types"
)

func TestNew_DisabledWithoutToken(t *testing.T) {
	n, err := New(config.NotifyConfig{DiscordChannel: "123"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n != nil {
		t.Error("Expected nil notifier without a token")
	}
}

func TestNew_DisabledWithoutChannel(t *testing.T) {
	n, err := New(config.NotifyConfig{DiscordToken: "abc"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n != nil {
		t.Error("Expected nil notifier without a channel")
	}
}

func TestNew_EnabledWithBoth(t *testing.T) {
	n, err := New(config.NotifyConfig{DiscordToken: "abc", DiscordChannel: "123"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if n == nil {
		t.Fatal("Expected notifier with token and channel set")
	}
	if n.channelID != "123" {
		t.Errorf("Expected channel 123, got %s", n.channelID)
	}
}

// --- formatAlert ---

func TestFormatAlert_Levels(t *testing.T) {
	ts := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		level  types.AlertLevel
		marker string
	}{
		{types.AlertCritical, "CRITICAL"},
		{types.AlertWarning, "WARNING"},
		{types.AlertRecovery, "RECOVERED"},
	}
	for _, tt := range tests {
		msg := formatAlert(types.Alert{
			Level:     tt.level,
			Provider:  "anthropic",
			Message:   "ping failed",
			Timestamp: ts,
		})
		if !strings.Contains(msg, tt.marker) {
			t.Errorf("Expected %s marker in %q", tt.marker, msg)
		}
		if !strings.Contains(msg, "anthropic") {
			t.Errorf("Expected provider name in %q", msg)
		}
		if !strings.Contains(msg, "14:30:00 UTC") {
			t.Errorf("Expected UTC timestamp in %q", msg)
		}
	}
}

// --- formatSummary ---

func TestFormatSummary_Counts(t *testing.T) {
	msg := formatSummary(&types.AnalysisResult{
		Mode:          "incremental",
		Duration:      92 * time.Second,
		ItemsTotal:    10,
		ItemsAnalyzed: 4,
		ItemsSkipped:  6,
		MomentsNew:    7,
		MomentsKept:   12,
		Correlations:  3,
		ImpactBoosts:  5,
		Provider:      "anthropic",
	})

	for _, want := range []string{"incremental", "4 analyzed", "6 skipped", "7 new", "3 found", "anthropic"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in summary:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "error") {
		t.Errorf("Expected no error note in clean summary:\n%s", msg)
	}
}

func TestFormatSummary_IncludesErrors(t *testing.T) {
	msg := formatSummary(&types.AnalysisResult{
		Mode:   "full",
		Errors: []string{"batch of 5 items: timeout", "cache save: disk full"},
	})
	if !strings.Contains(msg, "2 error(s)") {
		t.Errorf("Expected error count in summary:\n%s", msg)
	}
	if !strings.Contains(msg, "timeout") {
		t.Errorf("Expected first error message in summary:\n%s", msg)
	}
}

// --- chunkMessage ---

func TestChunkMessage_ShortMessage(t *testing.T) {
	chunks := chunkMessage("hello", 2000)
	if len(chunks) != 1 {
		t.Errorf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "hello" {
		t.Errorf("Expected 'hello', got %q", chunks[0])
	}
}

func TestChunkMessage_ExactLength(t *testing.T) {
	msg := strings.Repeat("a", 2000)
	chunks := chunkMessage(msg, 2000)
	if len(chunks) != 1 {
		t.Errorf("Expected 1 chunk for exact max length, got %d", len(chunks))
	}
}

func TestChunkMessage_SplitOnParagraph(t *testing.T) {
	part1 := strings.Repeat("a", 1500)
	part2 := strings.Repeat("b", 1500)
	chunks := chunkMessage(part1+"\n\n"+part2, 2000)
	if len(chunks) != 2 {
		t.Errorf("Expected 2 chunks split on paragraph, got %d", len(chunks))
	}
}

func TestChunkMessage_SplitOnLine(t *testing.T) {
	part1 := strings.Repeat("a", 1500)
	part2 := strings.Repeat("b", 1500)
	chunks := chunkMessage(part1+"\n"+part2, 2000)
	if len(chunks) != 2 {
		t.Errorf("Expected 2 chunks split on newline, got %d", len(chunks))
	}
}

func TestChunkMessage_SplitOnWord(t *testing.T) {
	part1 := strings.Repeat("a", 1500)
	part2 := strings.Repeat("b", 1500)
	chunks := chunkMessage(part1+" "+part2, 2000)
	if len(chunks) != 2 {
		t.Errorf("Expected 2 chunks split on space, got %d", len(chunks))
	}
}

func TestChunkMessage_NoDataLoss(t *testing.T) {
	msg := strings.Repeat("x", 5000)
	chunks := chunkMessage(msg, 2000)

	for i, chunk := range chunks {
		if len(chunk) > 2000 {
			t.Errorf("Chunk %d exceeds max length: %d", i, len(chunk))
		}
	}
	if rejoined := strings.Join(chunks, ""); rejoined != msg {
		t.Error("Chunked content doesn't match original")
	}
}

func TestChunkMessage_EmptyString(t *testing.T) {
	chunks := chunkMessage("", 2000)
	if len(chunks) != 1 || chunks[0] != "" {
		t.Errorf("Expected single empty chunk, got %v", chunks)
	}
}

// --- findSplitPoint ---

func TestFindSplitPoint_ShortContent(t *testing.T) {
	if pt := findSplitPoint("hello", 2000); pt != 5 {
		t.Errorf("Expected 5, got %d", pt)
	}
}

func TestFindSplitPoint_ForcedSplitWhenNoBreaks(t *testing.T) {
	content := strings.Repeat("x", 3000)
	if pt := findSplitPoint(content, 2000); pt != 2000 {
		t.Errorf("Expected forced split at 2000, got %d", pt)
	}
}

func TestFindSplitPoint_IgnoresEarlyBreaks(t *testing.T) {
	// A break in the first half of the window should not produce a tiny chunk
	content := "ab\n\n" + strings.Repeat("c", 3000)
	pt := findSplitPoint(content, 2000)
	if pt != 2000 {
		t.Errorf("Expected forced split at 2000 past early break, got %d", pt)
	}
}
