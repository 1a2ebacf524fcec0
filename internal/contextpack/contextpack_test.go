package contextpack

import (
	"testing"
	"time"

	"github.com/first-fluke/cratos-sub006/internal/planner"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

func TestPacker_IncludesSystemHintThenHistoryThenIncoming(t *testing.T) {
	p := NewPacker(DefaultOptions())
	session := &models.SessionContext{SessionKey: "s1"}
	session.AppendUser("hello", time.Now())
	session.AppendAssistant("hi there", time.Now())

	turns := p.Pack(session, "follow house style", "what now", nil)

	if len(turns) != 4 {
		t.Fatalf("len(turns) = %d, want 4", len(turns))
	}
	if turns[0].Role != models.RoleSystem || turns[0].Content != "follow house style" {
		t.Fatalf("turns[0] = %+v, want system hint first", turns[0])
	}
	if turns[1].Content != "hello" || turns[2].Content != "hi there" {
		t.Fatalf("history out of order: %+v", turns[1:3])
	}
	if turns[3].Role != models.RoleUser || turns[3].Content != "what now" {
		t.Fatalf("turns[3] = %+v, want incoming user turn last", turns[3])
	}
}

func TestPacker_NoSystemHintOmitsSystemTurn(t *testing.T) {
	p := NewPacker(DefaultOptions())
	turns := p.Pack(&models.SessionContext{}, "", "hi", nil)
	if len(turns) != 1 || turns[0].Role != models.RoleUser {
		t.Fatalf("turns = %+v, want single user turn", turns)
	}
}

func TestPacker_MaxMessagesTruncatesOldestFirst(t *testing.T) {
	p := NewPacker(Options{MaxMessages: 2, MaxChars: 1000})
	session := &models.SessionContext{SessionKey: "s1"}
	session.AppendUser("first", time.Now())
	session.AppendAssistant("second", time.Now())
	session.AppendUser("third", time.Now())

	turns := p.Pack(session, "", "", nil)

	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Content != "second" || turns[1].Content != "third" {
		t.Fatalf("turns = %+v, want [second third] (oldest dropped)", turns)
	}
}

func TestPacker_MaxCharsTruncatesOldestFirst(t *testing.T) {
	p := NewPacker(Options{MaxMessages: 100, MaxChars: 6})
	session := &models.SessionContext{SessionKey: "s1"}
	session.AppendUser("aaaaa", time.Now())
	session.AppendAssistant("bbbbb", time.Now())

	turns := p.Pack(session, "", "", nil)

	if len(turns) != 1 || turns[0].Content != "bbbbb" {
		t.Fatalf("turns = %+v, want only most recent message under char budget", turns)
	}
}

func TestPacker_LiveTurnsAlwaysIncludedInFull(t *testing.T) {
	p := NewPacker(Options{MaxMessages: 1, MaxChars: 1000})
	session := &models.SessionContext{SessionKey: "s1"}
	session.AppendUser("old", time.Now())

	live := []planner.Turn{
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{CallID: "c1", ToolName: "echo"}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{CallID: "c1", Success: true, Output: "done"}}},
	}
	turns := p.Pack(session, "", "", live)

	if len(turns) < 2 {
		t.Fatalf("len(turns) = %d, want at least the 2 live turns", turns)
	}
	last2 := turns[len(turns)-2:]
	if len(last2[0].ToolCalls) != 1 || len(last2[1].ToolResults) != 1 {
		t.Fatalf("live turns not preserved in full: %+v", last2)
	}
}

func TestPacker_NilSessionProducesNoHistory(t *testing.T) {
	p := NewPacker(DefaultOptions())
	turns := p.Pack(nil, "", "hi", nil)
	if len(turns) != 1 || turns[0].Content != "hi" {
		t.Fatalf("turns = %+v, want only the incoming turn", turns)
	}
}
