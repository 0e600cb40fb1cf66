package emoji

import (
	"strings"
	"testing"
)

var wellFormed = []string{
	"LOAD 10\nPRINT\nHALT",
	"LOAD 10\nADD 5\nMUL 2\nPRINT\nHALT",
	"LOAD 0\nLOOP 5\nADD 1\nRETURN\nPRINT\nHALT",
	"# countdown\nLOAD 3\ntop:\nPRINT\nSUB 1\nCMP 0\nJGT top\nHALT",
	"📥 7\n📋 R2\n⬆️ R2\n⬇️ R1\n💾 12\n📖 12\n🖨️\n🛑",
	"CALL double\nPRINT\nHALT\n🏷️ double\nMUL 2\nRETSUB",
	"INPUT R1\nLOAD R1\nNOT\nXOR -1\nAND 255\nOR 0\nMOD 7\nDIV 1\nSLEEP 2\nNOP\nPRINT\nHALT",
	"LOOP 2\nLOOP 3\nNOP\n🔚\n↩️\nHALT",
}

func TestFormatRoundTrip(t *testing.T) {
	for _, source := range wellFormed {
		p := Parse(source)
		if !p.Valid {
			t.Fatalf("%q: unexpected diagnostics %v", source, p.Diagnostics)
		}

		formatted := Format(p)
		again := Parse(formatted)
		if !again.Valid {
			t.Fatalf("formatted source invalid: %v\n%s", again.Diagnostics, formatted)
		}
		if !Equivalent(p.Instructions, again.Instructions) {
			t.Errorf("round trip changed instructions:\n%s\n---\n%s", source, formatted)
		}
		if Format(again) != formatted {
			t.Errorf("Format is not a fixed point for %q", source)
		}

		mnemonic := Parse(FormatMnemonic(p))
		if !mnemonic.Valid || !Equivalent(p.Instructions, mnemonic.Instructions) {
			t.Errorf("mnemonic round trip failed for %q", source)
		}
	}
}

func TestFormatUsesCanonicalEmoji(t *testing.T) {
	p := Parse("start:\n# note\nMUL 2\nPRINT\nJUMP start")
	got := Format(p)
	want := "🏷️ start\n💬 note\n✖️ 2\n🖨️\n🦘 start\n"
	if got != want {
		t.Errorf("Format =\n%q\nwant\n%q", got, want)
	}
}

func TestEquivalentDetectsDifferences(t *testing.T) {
	a := Parse("LOAD 1\nHALT").Instructions
	b := Parse("\n\nLOAD 1\n\nHALT").Instructions
	if !Equivalent(a, b) {
		t.Error("positions must not matter")
	}
	if Equivalent(a, Parse("LOAD 2\nHALT").Instructions) {
		t.Error("different immediates reported equivalent")
	}
	if Equivalent(a, Parse("LOAD R1\nHALT").Instructions) {
		t.Error("different operand kinds reported equivalent")
	}
	if Equivalent(a, Parse("LOAD 1").Instructions) {
		t.Error("different lengths reported equivalent")
	}
}

func TestDisassemble(t *testing.T) {
	p := Parse("LOAD 1\nloop:\nADD 1\nJUMP loop")
	lines := Disassemble(p)
	if len(lines) != 3 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "0000  📥 LOAD 1") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "<loop>") {
		t.Errorf("line 1 should show label: %q", lines[1])
	}
	if !strings.Contains(lines[2], "line 4") {
		t.Errorf("line 2 should show source line: %q", lines[2])
	}
}

func TestRecordRoundTrip(t *testing.T) {
	p := Parse("JUMP end\nLOAD 5\nend:\nHALT")
	rec := p.Record()

	if rec.ID != p.ID || rec.SourceText != p.Source || !rec.Valid {
		t.Fatalf("record header mismatch: %+v", rec)
	}
	if len(rec.Instructions) != 3 {
		t.Fatalf("got %d instruction records", len(rec.Instructions))
	}
	if rec.Instructions[0].Target == nil || *rec.Instructions[0].Target != 2 {
		t.Errorf("jump target not recorded: %+v", rec.Instructions[0])
	}
	if rec.Instructions[1].Target != nil {
		t.Errorf("immediate operand has a target: %+v", rec.Instructions[1])
	}

	back, matches := FromRecord(&rec)
	if !matches {
		t.Error("record should match its own source")
	}
	if !Equivalent(p.Instructions, back.Instructions) {
		t.Error("FromRecord changed instructions")
	}

	rec.Instructions[1].Operand = "6"
	if _, matches := FromRecord(&rec); matches {
		t.Error("tampered instruction list should not match")
	}
}

func TestRecordKeepsDiagnostics(t *testing.T) {
	rec := Parse("LOAD\nHALT").Record()
	if rec.Valid {
		t.Fatal("record should be invalid")
	}
	if len(rec.Diagnostics) != 1 || rec.Diagnostics[0].Code != CodeMissingOperand || rec.Diagnostics[0].Line != 1 {
		t.Errorf("diagnostics = %+v", rec.Diagnostics)
	}
}
