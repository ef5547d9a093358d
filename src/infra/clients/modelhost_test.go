package clients

import "testing"

func TestParseSeparatorOutputMapping(t *testing.T) {
	out, err := parseSeparatorOutput(map[string]any{
		"vocals_url":    "http://host/v.mp3",
		"no_vocals_url": "http://host/nv.mp3",
	})
	if err != nil {
		t.Fatalf("parseSeparatorOutput: %v", err)
	}
	if out.Vocals() != "http://host/v.mp3" {
		t.Errorf("got vocals %q", out.Vocals())
	}
	nv, ok := out.NoVocals()
	if !ok || nv != "http://host/nv.mp3" {
		t.Errorf("got no_vocals %q ok=%v", nv, ok)
	}
}

func TestParseSeparatorOutputPairWithoutInstrumental(t *testing.T) {
	out, err := parseSeparatorOutput(map[string]any{"vocals": "http://host/v.mp3"})
	if err != nil {
		t.Fatalf("parseSeparatorOutput: %v", err)
	}
	if _, ok := out.NoVocals(); ok {
		t.Error("absent no_vocals must report ok=false")
	}
}

func TestParseSeparatorOutputSingleURL(t *testing.T) {
	out, err := parseSeparatorOutput(map[string]any{"url": "http://host/v.mp3"})
	if err != nil {
		t.Fatalf("parseSeparatorOutput: %v", err)
	}
	if out.Vocals() != "http://host/v.mp3" {
		t.Errorf("got %q", out.Vocals())
	}
	if _, ok := out.NoVocals(); ok {
		t.Error("single-URL shape carries no instrumental")
	}
}

func TestParseSeparatorOutputUnknownShape(t *testing.T) {
	if _, err := parseSeparatorOutput(map[string]any{"something": "else"}); err == nil {
		t.Fatal("expected an error for an unrecognized shape")
	}
}

func TestExtractPlainFromSynced(t *testing.T) {
	lines := extractPlainFromSynced("[00:01.00]Hello world\n[00:04.50]Second line")
	if len(lines) != 2 || lines[0] != "Hello world" || lines[1] != "Second line" {
		t.Errorf("got %v", lines)
	}
}
