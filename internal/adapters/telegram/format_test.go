package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/advisord/advisord/pkg/models"
)

func TestFormatSignalMessage(t *testing.T) {
	sig := models.NewSignal("NVDA", "buy", "Earnings beat with raised guidance", 0.75)
	sig.EntryTarget = models.Float64Ptr(120)
	sig.StopLoss = models.Float64Ptr(110)
	sig.TakeProfit = models.Float64Ptr(150)
	sig.Horizon = "1-3 months"

	text := FormatSignalMessage(sig, nil)
	for _, want := range []string{
		"*BUY NVDA*",
		"Confidence: 75%",
		"Entry: $120.00",
		"Stop Loss: $110.00",
		"Take Profit: $150.00",
		"Horizon: 1-3 months",
		"_Earnings beat with raised guidance_",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}
}

func TestFormatSignalMessageOptionalFields(t *testing.T) {
	sig := models.NewSignal("TSLA", "sell", "", 0.6)

	text := FormatSignalMessage(sig, nil)
	if strings.Contains(text, "Entry:") || strings.Contains(text, "Stop Loss:") {
		t.Errorf("unset levels should be omitted:\n%s", text)
	}
	if !strings.Contains(text, "*SELL TSLA*") {
		t.Errorf("header missing:\n%s", text)
	}
}

func TestFormatSignalMessageWithMemo(t *testing.T) {
	sig := models.NewSignal("AAPL", "hold", "", 0.5)
	memo := models.NewInvestmentMemo()
	memo.ExecutiveSummary = strings.Repeat("Long thesis. ", 60)

	text := FormatSignalMessage(sig, memo)
	if !strings.Contains(text, "Long thesis.") {
		t.Error("memo summary not appended")
	}
	if len(text) > 700 {
		t.Errorf("summary not truncated, message is %d chars", len(text))
	}
}

func TestSplitMessageKeepsRunesIntact(t *testing.T) {
	// Three-byte runes that never align with a 10-byte limit
	text := strings.Repeat("日本語", 20)
	chunks := splitMessage(text, 10)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 10 {
			t.Errorf("chunk %d is %d bytes, limit 10", i, len(chunk))
		}
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d split inside a rune: %q", i, chunk)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble into the original text")
	}

	short := splitMessage("hello", 10)
	if len(short) != 1 || short[0] != "hello" {
		t.Errorf("text under the limit should pass through, got %v", short)
	}
	if got := splitMessage("", 10); got != nil {
		t.Errorf("empty text should yield no chunks, got %v", got)
	}
}

func TestInputChannelRouting(t *testing.T) {
	a := &Adapter{channels: []Channel{
		{ID: "telegram:main", ChatID: 100, Direction: "both"},
		{ID: "telegram:alerts", ChatID: 200, Direction: "output"},
	}}

	if ch := a.inputChannel(100); ch == nil || ch.ID != "telegram:main" {
		t.Errorf("both-direction channel should accept input, got %+v", ch)
	}
	if ch := a.inputChannel(200); ch != nil {
		t.Errorf("output-only channel must not accept input, got %+v", ch)
	}
	if ch := a.inputChannel(999); ch != nil {
		t.Errorf("unknown chat routed: %+v", ch)
	}

	outs := a.outputChannels()
	if len(outs) != 2 {
		t.Errorf("expected 2 output channels, got %d", len(outs))
	}
}
