package probe

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ffprobeOutput mirrors the JSON emitted by
// `ffprobe -print_format json -show_format -show_streams`.
type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	BitRate   string `json:"bit_rate"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// parseFFProbe decodes raw ffprobe JSON into Metadata. The container
// extension comes from the path, not ffprobe's format_name, because
// format_name lists every demuxer alias ("mov,mp4,m4a,3gp,3g2,mj2").
func parseFFProbe(raw []byte, path string) (Metadata, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Metadata{}, err
	}

	meta := Metadata{
		Container:       containerExt(path),
		DurationSeconds: parseFloat(out.Format.Duration),
		SizeBytes:       parseInt(out.Format.Size),
	}

	// Container-level bitrate takes precedence; fall back to the
	// primary video stream when it is absent or zero.
	bits := parseInt(out.Format.BitRate)

	for i := range out.Streams {
		s := &out.Streams[i]
		switch strings.ToLower(s.CodecType) {
		case "video":
			if meta.VideoCodec == "" {
				meta.VideoCodec = strings.ToLower(s.CodecName)
				meta.Width = s.Width
				meta.Height = s.Height
				if bits == 0 {
					bits = parseInt(s.BitRate)
				}
			}
		case "audio":
			if meta.AudioCodec == "" {
				meta.AudioCodec = strings.ToLower(s.CodecName)
			}
		}
	}

	meta.BitrateKbps = bits / 1000
	return meta, nil
}

// containerExt returns the lowercased extension of a path without the
// leading dot.
func containerExt(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 || idx == len(path)-1 {
		return ""
	}
	return strings.ToLower(path[idx+1:])
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
