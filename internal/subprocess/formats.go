package subprocess

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GPUEncoder names a hardware encoder family for the assembly rules'
// auto-detect order (NVIDIA → VAAPI → Intel QSV; none ⇒ CPU path).
type GPUEncoder string

const (
	GPUEncoderNone  GPUEncoder = ""
	GPUEncoderNVENC GPUEncoder = "nvenc"
	GPUEncoderVAAPI GPUEncoder = "vaapi"
	GPUEncoderQSV   GPUEncoder = "qsv"
)

// ContainerFormat is one row of the formats table: the default
// codec/container pairing and whether it's audio-only, plus the GPU
// encoder flags to append per hardware family when GPU encoding is on.
type ContainerFormat struct {
	Container    string
	AudioOnly    bool
	DefaultYTDLP string            // default -f selector for this container
	VideoCodec   string            // transcoder video codec for non-copy outputs
	AudioCodec   string            // transcoder audio codec
	GPUFlags     map[GPUEncoder][]string
}

// FormatsTable enumerates every accepted container/codec choice and
// assembles extractor/transcoder arguments from a request, generalized
// from the teacher's ffmpeg.Preset/PresetLibrary (YAML-loaded named
// presets) — here keyed by container name instead of preset name.
type FormatsTable struct {
	rows map[string]ContainerFormat
}

// NewFormatsTable builds a table from rows, keyed by ContainerFormat.Container.
func NewFormatsTable(rows []ContainerFormat) *FormatsTable {
	m := make(map[string]ContainerFormat, len(rows))
	for _, r := range rows {
		m[r.Container] = r
	}
	return &FormatsTable{rows: m}
}

// DefaultFormatsTable returns the built-in rows covering the common
// container families; callers may override via LoadFormatsFile.
func DefaultFormatsTable() *FormatsTable {
	return NewFormatsTable([]ContainerFormat{
		{Container: "mp4", DefaultYTDLP: "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best", VideoCodec: "h264", AudioCodec: "aac",
			GPUFlags: map[GPUEncoder][]string{
				GPUEncoderNVENC: {"-c:v", "h264_nvenc"},
				GPUEncoderVAAPI: {"-c:v", "h264_vaapi"},
				GPUEncoderQSV:   {"-c:v", "h264_qsv"},
			}},
		{Container: "webm", DefaultYTDLP: "bestvideo[ext=webm]+bestaudio[ext=webm]/best[ext=webm]/best", VideoCodec: "vp9", AudioCodec: "opus"},
		{Container: "mkv", DefaultYTDLP: "bestvideo+bestaudio/best", VideoCodec: "copy", AudioCodec: "copy"},
		{Container: "mp3", AudioOnly: true, DefaultYTDLP: "bestaudio/best", AudioCodec: "libmp3lame"},
		{Container: "m4a", AudioOnly: true, DefaultYTDLP: "bestaudio[ext=m4a]/bestaudio", AudioCodec: "aac"},
		{Container: "opus", AudioOnly: true, DefaultYTDLP: "bestaudio[ext=webm]/bestaudio", AudioCodec: "libopus"},
	})
}

// Get retrieves a container's row.
func (t *FormatsTable) Get(container string) (ContainerFormat, bool) {
	if t == nil {
		return ContainerFormat{}, false
	}
	row, ok := t.rows[container]
	return row, ok
}

// LoadFormatsFile reads formats table rows from a YAML file, the same way
// the teacher's ffmpeg.LoadPresetFile does.
func LoadFormatsFile(path string) (*FormatsTable, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("load formats file: %w", err)
	}
	type rawRow struct {
		AudioOnly    bool                `yaml:"audio_only"`
		DefaultYTDLP string              `yaml:"default_ytdlp_format"`
		VideoCodec   string              `yaml:"video_codec"`
		AudioCodec   string              `yaml:"audio_codec"`
		GPUFlags     map[string][]string `yaml:"gpu_flags"`
	}
	var payload struct {
		Containers map[string]rawRow `yaml:"containers"`
	}
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse formats file: %w", err)
	}

	rows := make([]ContainerFormat, 0, len(payload.Containers))
	for name, rr := range payload.Containers {
		gpuFlags := make(map[GPUEncoder][]string, len(rr.GPUFlags))
		for enc, flags := range rr.GPUFlags {
			gpuFlags[GPUEncoder(enc)] = flags
		}
		rows = append(rows, ContainerFormat{
			Container:    name,
			AudioOnly:    rr.AudioOnly,
			DefaultYTDLP: rr.DefaultYTDLP,
			VideoCodec:   rr.VideoCodec,
			AudioCodec:   rr.AudioCodec,
			GPUFlags:     gpuFlags,
		})
	}
	return NewFormatsTable(rows), nil
}

// AssembleRequest is the input to Assemble: a task's request parameters
// plus the server-wide GPU/aria2/proxy configuration.
type AssembleRequest struct {
	SourceURL      string
	Container      string
	FormatCode     string // explicit format selector, if the caller supplied one
	QualityHint    string // "best", "worst", "<N>p"
	AudioOnly      bool
	EmbedThumbnail bool

	GPUEnabled bool
	GPUEncoder GPUEncoder

	Aria2Enabled     bool
	Aria2Connections int
	Aria2Split       int

	Proxy       string
	CookiesFile string

	OutputPath string
}

// Assemble builds the extractor argument list for req, per SPEC_FULL
// §4.3's assembly rules: explicit format code takes precedence, then
// quality hint, then the container's default selector; audio-only
// containers get post-processing flags; GPU/aria2 flags are appended
// when enabled.
func (t *FormatsTable) Assemble(req AssembleRequest) ([]string, error) {
	row, ok := t.Get(req.Container)
	if !ok {
		return nil, fmt.Errorf("subprocess: unknown container %q", req.Container)
	}

	args := []string{}
	args = append(args, "-f", selectFormat(req, row))

	if req.Proxy != "" {
		args = append(args, "--proxy", req.Proxy)
	}
	if req.CookiesFile != "" {
		args = append(args, "--cookies", req.CookiesFile)
	}

	if row.AudioOnly || req.AudioOnly {
		args = append(args, "--extract-audio")
		if row.AudioCodec != "" {
			args = append(args, "--audio-format", row.AudioCodec)
		}
		if req.EmbedThumbnail {
			args = append(args, "--embed-thumbnail")
		}
	} else if req.GPUEnabled {
		if flags, ok := row.GPUFlags[req.GPUEncoder]; ok {
			args = append(args, flags...)
		}
	}

	if req.Aria2Enabled {
		args = append(args, "--downloader", "aria2c",
			"--downloader-args", fmt.Sprintf("aria2c:-x%d -s%d", req.Aria2Connections, req.Aria2Split))
	}

	args = append(args, "--newline", "-o", req.OutputPath, req.SourceURL)
	return args, nil
}

func selectFormat(req AssembleRequest, row ContainerFormat) string {
	if req.FormatCode != "" {
		return req.FormatCode + "/" + row.DefaultYTDLP
	}
	if height, ok := parseQualityHeight(req.QualityHint); ok {
		return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]/%s", height, height, row.DefaultYTDLP)
	}
	switch req.QualityHint {
	case "worst":
		return "worstvideo+worstaudio/worst"
	case "best", "":
		return row.DefaultYTDLP
	default:
		return row.DefaultYTDLP
	}
}
