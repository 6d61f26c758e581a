package prompts

import (
	"strings"
	"testing"
)

func TestParseHypotheticalDocuments(t *testing.T) {
	document := "Here is some pointless text\n\n" +
		"```rust\npub fn search() {\n    todo!()\n}```\n\n" +
		"Here is some more pointless text\n\n" +
		"```\npub fn functions() -> serde_json::Value {\n```"

	docs := ParseHypotheticalDocuments(document)
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d: %v", len(docs), docs)
	}
	if !strings.HasPrefix(docs[0], "rust\n") {
		t.Fatalf("language tag not preserved as first line: %q", docs[0])
	}
	if docs[1] != "pub fn functions() -> serde_json::Value {" {
		t.Fatalf("unexpected second document: %q", docs[1])
	}
}

func TestParseHypotheticalDocuments_NoBlocks(t *testing.T) {
	if docs := ParseHypotheticalDocuments("no code here"); len(docs) != 0 {
		t.Fatalf("expected no documents, got %v", docs)
	}
}

func TestFunctions_ProcConditional(t *testing.T) {
	without := Functions(false)
	if len(without) != 3 {
		t.Fatalf("expected 3 functions without proc, got %d", len(without))
	}
	for _, f := range without {
		if f.Name == FuncProc {
			t.Fatal("proc offered before any path was seen")
		}
	}

	with := Functions(true)
	if len(with) != 4 || with[3].Name != FuncProc {
		t.Fatalf("expected proc appended, got %v", with)
	}
}

func TestSystem_PathsTable(t *testing.T) {
	prompt := System([]string{"src/main.rs", "src/lib.rs"})
	if !strings.Contains(prompt, "## PATHS ##") {
		t.Fatal("paths header missing")
	}
	if !strings.Contains(prompt, "0, src/main.rs\n1, src/lib.rs\n") {
		t.Fatal("paths not indexed in order")
	}
	if !strings.Contains(prompt, "ALWAYS call a function") {
		t.Fatal("rules block missing")
	}
}

func TestSystem_NoPaths(t *testing.T) {
	prompt := System(nil)
	if strings.Contains(prompt, "## PATHS ##") {
		t.Fatal("paths header should be omitted when no paths are known")
	}
}

func TestFileExplanation_EmbedsQuestion(t *testing.T) {
	prompt := FileExplanation("find kafka auth", "src/config.rs", "1: fn main() {}")
	if !strings.Contains(prompt, "/src/config.rs") {
		t.Fatal("path missing from prompt")
	}
	if !strings.HasSuffix(prompt, "Q: find kafka auth\nA: ") {
		t.Fatal("prompt must end awaiting the answer")
	}
}

func TestAnswerArticle_VariantByPathCount(t *testing.T) {
	single := AnswerArticle(1, "ctx")
	if !strings.Contains(single, "codescout-markdown") {
		t.Fatal("single-path variant missing markdown rules")
	}
	multi := AnswerArticle(3, "ctx")
	if !strings.Contains(multi, "<QuotedCode>") {
		t.Fatal("multi-path variant missing XML block rules")
	}
}
