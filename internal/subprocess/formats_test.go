package subprocess

import "testing"

func TestAssembleUsesContainerDefaultWhenNoHints(t *testing.T) {
	table := DefaultFormatsTable()
	args, err := table.Assemble(AssembleRequest{
		SourceURL:  "https://example.com/watch?v=1",
		Container:  "mp4",
		OutputPath: "/tmp/out.mp4",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got, want := args[0], "-f"; got != want {
		t.Fatalf("args[0] = %q, want %q", got, want)
	}
	row, _ := table.Get("mp4")
	if args[1] != row.DefaultYTDLP {
		t.Errorf("format selector = %q, want container default %q", args[1], row.DefaultYTDLP)
	}
}

func TestAssembleQualityHintBoundsHeight(t *testing.T) {
	table := DefaultFormatsTable()
	args, err := table.Assemble(AssembleRequest{
		SourceURL:   "https://example.com/watch?v=1",
		Container:   "mp4",
		QualityHint: "720p",
		OutputPath:  "/tmp/out.mp4",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !containsSubstr(args[1], "height<=720") {
		t.Errorf("format selector = %q, want height<=720 clause", args[1])
	}
}

func TestAssembleExplicitFormatCodeWins(t *testing.T) {
	table := DefaultFormatsTable()
	args, err := table.Assemble(AssembleRequest{
		SourceURL:   "https://example.com/watch?v=1",
		Container:   "mp4",
		FormatCode:  "137+140",
		QualityHint: "720p",
		OutputPath:  "/tmp/out.mp4",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !containsSubstr(args[1], "137+140") {
		t.Errorf("format selector = %q, want explicit code first", args[1])
	}
}

func TestAssembleAudioOnlyAddsExtractFlags(t *testing.T) {
	table := DefaultFormatsTable()
	args, err := table.Assemble(AssembleRequest{
		SourceURL:      "https://example.com/watch?v=1",
		Container:      "mp3",
		EmbedThumbnail: true,
		OutputPath:     "/tmp/out.mp3",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !containsArg(args, "--extract-audio") {
		t.Errorf("args = %v, want --extract-audio", args)
	}
	if !containsArg(args, "--embed-thumbnail") {
		t.Errorf("args = %v, want --embed-thumbnail", args)
	}
}

func TestAssembleUnknownContainerErrors(t *testing.T) {
	table := DefaultFormatsTable()
	_, err := table.Assemble(AssembleRequest{Container: "gif"})
	if err == nil {
		t.Fatal("expected error for unknown container")
	}
}

func TestAssembleGPUFlagsAppendedWhenEnabled(t *testing.T) {
	table := DefaultFormatsTable()
	args, err := table.Assemble(AssembleRequest{
		SourceURL:  "https://example.com/watch?v=1",
		Container:  "mp4",
		GPUEnabled: true,
		GPUEncoder: GPUEncoderNVENC,
		OutputPath: "/tmp/out.mp4",
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !containsArg(args, "h264_nvenc") {
		t.Errorf("args = %v, want h264_nvenc", args)
	}
}

func containsArg(args []string, target string) bool {
	for _, a := range args {
		if a == target {
			return true
		}
	}
	return false
}

func containsSubstr(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
