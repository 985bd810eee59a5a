// Package update defines the InboundUpdate value object: one raw message
// received from the chat platform, immutable once constructed.
package update

import (
	"github.com/teleclerk/teleclerk/pkg/domain"
)

// InboundUpdate is a single platform update entering the pipeline.
// The platform-assigned UpdateID is unique per bot and drives deduplication.
type InboundUpdate struct {
	// UpdateID is the platform-assigned monotonically increasing id.
	UpdateID int64 `json:"update_id"`

	// PlatformUserID identifies the sender on the platform side.
	PlatformUserID int64 `json:"platform_user_id"`

	// ChatID is where the reply must be delivered.
	ChatID int64 `json:"chat_id"`

	// Text is the raw message text, or the transcription for voice updates.
	Text string `json:"text"`

	// Channel records whether the update arrived as text or voice.
	Channel domain.ChannelKind `json:"channel"`

	// VoiceFileID is set for voice updates that still need transcription.
	VoiceFileID string `json:"voice_file_id,omitempty"`

	// Profile carries optional sender hints (username, first name) used by
	// the identity collaborator when creating a user record.
	Profile domain.Metadata `json:"profile,omitempty"`

	// ReceivedAt is when the platform produced the update.
	ReceivedAt domain.Timestamp `json:"received_at"`
}

// IsVoice reports whether the update carries an untranscribed voice payload.
func (u InboundUpdate) IsVoice() bool {
	return u.Channel == domain.ChannelVoice && u.VoiceFileID != ""
}

// WithText returns a copy of the update with transcribed text filled in.
// The original stays untouched; updates are immutable once received.
func (u InboundUpdate) WithText(text string) InboundUpdate {
	u.Text = text
	u.VoiceFileID = ""
	return u
}
