package generation

import (
	"encoding/json"
	"fmt"
)

// RequestBody is the JSON body sent to the synthesis endpoint. Every field is
// optional; nil fields are omitted entirely.
type RequestBody struct {
	GuidanceScale     *float64 `json:"guidance_scale,omitempty"`
	InferStep         *float64 `json:"infer_step,omitempty"`
	AudioDuration     *float64 `json:"audio_duration,omitempty"`
	Seed              *float64 `json:"seed,omitempty"`
	FullDescribedSong *string  `json:"full_described_song,omitempty"`
	Prompt            *string  `json:"prompt,omitempty"`
	Lyrics            *string  `json:"lyrics,omitempty"`
	DescribedLyrics   *string  `json:"described_lyrics,omitempty"`
	Instrumental      *bool    `json:"instrumental,omitempty"`
}

// ResponseBody is the expected success payload from the synthesis service.
type ResponseBody struct {
	S3Key           string   `json:"s3_key"`
	CoverImageS3Key string   `json:"cover_image_s3_key"`
	Categories      []string `json:"categories"`
}

// ParseResponse decodes a success body. A body that does not decode or lacks
// the blob keys counts as malformed; callers treat that as a soft failure.
func ParseResponse(raw []byte) (*ResponseBody, error) {
	var body ResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if body.S3Key == "" || body.CoverImageS3Key == "" {
		return nil, fmt.Errorf("generation response missing blob keys")
	}
	return &body, nil
}
