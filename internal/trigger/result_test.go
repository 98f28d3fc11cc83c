package trigger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/contestian/internal/contest"
	"github.com/codeGROOVE-dev/contestian/internal/registry"
)

type resultFixture struct {
	contests *mockContests
	registry *registry.Registry
	chat     *mockChat
	builder  *mockBuilder
	trigger  *Result
}

func newResultFixture(t *testing.T, delay time.Duration, contests ...contest.Contest) *resultFixture {
	t.Helper()
	f := &resultFixture{
		contests: &mockContests{contests: contests},
		registry: newTestRegistry(t),
		chat:     newMockChat(),
		builder:  &mockBuilder{result: resultWithRows("abc400", "alice", "bob")},
	}
	f.trigger = NewResult(ResultConfig{
		Contests: f.contests,
		Registry: f.registry,
		Chat:     f.chat,
		Builder:  f.builder,
		Delay:    delay,
	})
	return f
}

func (f *resultFixture) guild(t *testing.T, guildID, channelID string) {
	t.Helper()
	if err := f.registry.SetResultChannel(context.Background(), guildID, channelID); err != nil {
		t.Fatalf("SetResultChannel() error = %v", err)
	}
}

func (f *resultFixture) resultSent(id string) bool {
	c, _ := f.contests.Contest(id)
	return c.ResultSent
}

func TestResult_PublishesAfterEnd(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, 0, abc400(t))
	f.guild(t, "G1", "R1")
	f.guild(t, "G2", "R2")

	// abc400 ends at 22:40.
	if err := f.trigger.Evaluate(ctx, jst(t, "2025-04-05 22:39")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(f.builder.calls) != 0 {
		t.Fatalf("Prepare called before contest end: %v", f.builder.calls)
	}

	if err := f.trigger.Evaluate(ctx, jst(t, "2025-04-05 22:40")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	for _, ch := range []string{"R1", "R2"} {
		msgs := f.chat.sentTo(ch)
		if len(msgs) != 1 {
			t.Fatalf("%s received %d messages, want 1", ch, len(msgs))
		}
		if len(msgs[0].Files) != 2 {
			t.Errorf("%s message has %d files, want png and xlsx", ch, len(msgs[0].Files))
		}
	}
	if !f.resultSent("abc400") {
		t.Error("ResultSent = false after publishing")
	}

	if err := f.trigger.Evaluate(ctx, jst(t, "2025-04-05 22:41")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got := len(f.chat.sentTo("R1")); got != 1 {
		t.Errorf("R1 received %d messages after second tick, want 1", got)
	}
}

func TestResult_Delay(t *testing.T) {
	f := newResultFixture(t, 10*time.Minute, abc400(t))
	f.guild(t, "G1", "R1")

	if err := f.trigger.Evaluate(context.Background(), jst(t, "2025-04-05 22:45")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(f.builder.calls) != 0 {
		t.Errorf("Prepare called during delay: %v", f.builder.calls)
	}
	if err := f.trigger.Evaluate(context.Background(), jst(t, "2025-04-05 22:50")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !f.resultSent("abc400") {
		t.Error("ResultSent = false after delay elapsed")
	}
}

func TestResult_FlagAfterAnySuccess(t *testing.T) {
	tests := []struct {
		name     string
		failing  []string
		wantSent bool
		wantErr  bool
	}{
		{name: "all succeed", wantSent: true},
		{name: "one fails", failing: []string{"R2"}, wantSent: true, wantErr: true},
		{name: "all fail", failing: []string{"R1", "R2"}, wantSent: false, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResultFixture(t, 0, abc400(t))
			f.guild(t, "G1", "R1")
			f.guild(t, "G2", "R2")
			for _, ch := range tt.failing {
				f.chat.sendErr[ch] = errSend
			}

			err := f.trigger.Evaluate(context.Background(), jst(t, "2025-04-05 23:00"))
			if (err != nil) != tt.wantErr {
				t.Errorf("Evaluate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := f.resultSent("abc400"); got != tt.wantSent {
				t.Errorf("ResultSent = %v, want %v", got, tt.wantSent)
			}
		})
	}
}

func TestResult_NoResendAfterPartialSuccess(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, 0, abc400(t))
	f.guild(t, "G1", "R1")
	f.guild(t, "G2", "R2")
	f.chat.sendErr["R2"] = errSend

	if err := f.trigger.Evaluate(ctx, jst(t, "2025-04-05 23:00")); err == nil {
		t.Fatal("Evaluate() error = nil, want R2 failure")
	}
	delete(f.chat.sendErr, "R2")
	if err := f.trigger.Evaluate(ctx, jst(t, "2025-04-05 23:01")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got := len(f.chat.sentTo("R1")); got != 1 {
		t.Errorf("R1 received %d messages, want 1", got)
	}
	if got := len(f.chat.sentTo("R2")); got != 0 {
		t.Errorf("R2 received %d messages after result_sent, want 0", got)
	}
}

func TestResult_RetriesWithCachedSheet(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, 0, abc400(t))
	f.guild(t, "G1", "R1")
	f.chat.sendErr["R1"] = errSend

	if err := f.trigger.Evaluate(ctx, jst(t, "2025-04-05 23:00")); err == nil {
		t.Fatal("Evaluate() error = nil, want send failure")
	}
	delete(f.chat.sendErr, "R1")
	if err := f.trigger.Evaluate(ctx, jst(t, "2025-04-05 23:01")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(f.builder.calls) != 1 {
		t.Errorf("Prepare called %d times, want 1", len(f.builder.calls))
	}
	if !f.resultSent("abc400") {
		t.Error("ResultSent = false after retry succeeded")
	}
}

func TestResult_EmptySheetMarksSent(t *testing.T) {
	f := newResultFixture(t, 0, abc400(t))
	f.guild(t, "G1", "R1")
	f.builder.result = resultWithRows("abc400")

	if err := f.trigger.Evaluate(context.Background(), jst(t, "2025-04-05 23:00")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if f.chat.sendCalls != 0 {
		t.Errorf("SendMessage called %d times, want 0", f.chat.sendCalls)
	}
	if !f.resultSent("abc400") {
		t.Error("ResultSent = false for contest without participants")
	}
}

func TestResult_PrepareFailure(t *testing.T) {
	f := newResultFixture(t, 0, abc400(t))
	f.guild(t, "G1", "R1")
	f.builder.err = errors.New("standings unavailable")

	if err := f.trigger.Evaluate(context.Background(), jst(t, "2025-04-05 23:00")); err == nil {
		t.Error("Evaluate() error = nil, want prepare failure")
	}
	if f.resultSent("abc400") {
		t.Error("ResultSent = true after prepare failure")
	}
}

func TestResult_NoTargets(t *testing.T) {
	f := newResultFixture(t, 0, abc400(t))

	if err := f.trigger.Evaluate(context.Background(), jst(t, "2025-04-05 23:00")); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(f.builder.calls) != 0 {
		t.Errorf("Prepare called without result channels: %v", f.builder.calls)
	}
	if f.resultSent("abc400") {
		t.Error("ResultSent = true without any result channel")
	}
}

func TestResult_PublishTo(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, 0, abc400(t))
	f.guild(t, "G1", "R1")

	if err := f.trigger.PublishTo(ctx, "G1", "abc400"); err != nil {
		t.Fatalf("PublishTo() error = %v", err)
	}
	msgs := f.chat.sentTo("R1")
	if len(msgs) != 1 {
		t.Fatalf("R1 received %d messages, want 1", len(msgs))
	}
	if f.resultSent("abc400") {
		t.Error("PublishTo() set ResultSent")
	}

	// Contests outside the snapshot get a minimal record.
	if err := f.trigger.PublishTo(ctx, "G1", "abc300"); err != nil {
		t.Fatalf("PublishTo(abc300) error = %v", err)
	}
	msgs = f.chat.sentTo("R1")
	if len(msgs) != 2 {
		t.Fatalf("R1 received %d messages, want 2", len(msgs))
	}
	if want := "https://atcoder.jp/contests/abc300/standings"; msgs[1].Embed.URL != want {
		t.Errorf("Embed.URL = %q, want %q", msgs[1].Embed.URL, want)
	}
}

func TestResult_PublishToErrors(t *testing.T) {
	ctx := context.Background()
	f := newResultFixture(t, 0, abc400(t))

	if err := f.trigger.PublishTo(ctx, "G1", "abc400"); !errors.Is(err, ErrNoResultChannel) {
		t.Errorf("PublishTo() without channel error = %v, want %v", err, ErrNoResultChannel)
	}

	f.guild(t, "G1", "R1")
	f.builder.result = resultWithRows("abc400")
	if err := f.trigger.PublishTo(ctx, "G1", "abc400"); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("PublishTo() empty sheet error = %v, want %v", err, ErrNoParticipants)
	}

	f.builder.result = resultWithRows("abc400", "alice")
	f.chat.unavailable["R1"] = true
	if err := f.trigger.PublishTo(ctx, "G1", "abc400"); err == nil {
		t.Error("PublishTo() unavailable channel error = nil")
	}
}

func TestResult_PanicIsolatedPerContest(t *testing.T) {
	arc := testContest(t, "arc195", "AtCoder Regular Contest 195", "2025-04-05 21:00", 120*time.Minute)
	f := newResultFixture(t, 0, abc400(t), arc)
	f.contests.panicOn = "abc400"
	f.guild(t, "G1", "R1")

	err := f.trigger.Evaluate(context.Background(), jst(t, "2025-04-05 23:01"))
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Errorf("Evaluate() error = %v, want recovered panic", err)
	}
	if !f.resultSent("arc195") {
		t.Error("arc195 ResultSent = false, want true despite abc400 panic")
	}
	if got := len(f.chat.sentTo("R1")); got != 2 {
		t.Errorf("sent %d messages, want 2", got)
	}
}
