package workflows

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamID uniquely identifies one live stream passing through a pipeline.
type StreamID string

// MediaNotification is the envelope for information about media on a stream.
// The control plane never carries payload bytes itself; data-plane elements
// report these summaries to the manager, which records the latest one per run
// and forwards it on the operational event feed.
type MediaNotification struct {
	StreamID StreamID     `json:"stream_id"`
	Content  MediaContent `json:"content"`
}

// MediaContent is the variant set carried by a MediaNotification.
type MediaContent interface {
	mediaContent()
}

// NewIncomingStream announces that a stream has connected and media will
// start flowing.
type NewIncomingStream struct {
	StreamName string `json:"stream_name"`
}

// StreamDisconnected announces that the stream's source has gone away. No new
// media arrives without a new NewIncomingStream announcement.
type StreamDisconnected struct{}

// Video summarizes video content on the stream.
type Video struct {
	Codec            string        `json:"codec"`
	IsSequenceHeader bool          `json:"is_sequence_header"`
	IsKeyframe       bool          `json:"is_keyframe"`
	Timestamp        time.Duration `json:"timestamp"`
	SizeBytes        int           `json:"size_bytes"`
}

// Audio summarizes audio content on the stream.
type Audio struct {
	Codec            string        `json:"codec"`
	IsSequenceHeader bool          `json:"is_sequence_header"`
	Timestamp        time.Duration `json:"timestamp"`
	SizeBytes        int           `json:"size_bytes"`
}

// StreamMetadata carries updated stream metadata key-value pairs.
type StreamMetadata struct {
	Data map[string]string `json:"data"`
}

// MediaPayload describes an individual codec-agnostic payload within the
// stream.
type MediaPayload struct {
	// Codec is a high level description of the payload contents.
	Codec string `json:"codec"`

	// Timestamp orders this payload relative to its neighbours. The epoch is
	// unspecified; only relative ordering is meaningful.
	Timestamp time.Duration `json:"timestamp"`

	// IsRequiredForDecoding marks rarely re-sent packets (sequence headers)
	// that later packets cannot be decoded without. Consumers cache these,
	// potentially until StreamDisconnected, so it must not be set for
	// ordinary keyframes.
	IsRequiredForDecoding bool `json:"is_required_for_decoding"`

	// SizeBytes is the payload size; the bytes themselves stay on the data plane.
	SizeBytes int `json:"size_bytes"`
}

func (NewIncomingStream) mediaContent()  {}
func (StreamDisconnected) mediaContent() {}
func (Video) mediaContent()              {}
func (Audio) mediaContent()              {}
func (StreamMetadata) mediaContent()     {}
func (MediaPayload) mediaContent()       {}

// Content type tags on the wire and in the run registry.
const (
	mediaTypeNewIncomingStream = "new_incoming_stream"
	mediaTypeStreamDisconnect  = "stream_disconnected"
	mediaTypeVideo             = "video"
	mediaTypeAudio             = "audio"
	mediaTypeMetadata          = "metadata"
	mediaTypeMediaPayload      = "media_payload"
)

type mediaNotificationJSON struct {
	StreamID StreamID        `json:"stream_id"`
	Type     string          `json:"type"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// MarshalJSON implements json.Marshaler, tagging the content variant so the
// notification survives the run registry and the event feed.
func (n MediaNotification) MarshalJSON() ([]byte, error) {
	var kind string
	switch n.Content.(type) {
	case NewIncomingStream:
		kind = mediaTypeNewIncomingStream
	case StreamDisconnected:
		kind = mediaTypeStreamDisconnect
	case Video:
		kind = mediaTypeVideo
	case Audio:
		kind = mediaTypeAudio
	case StreamMetadata:
		kind = mediaTypeMetadata
	case MediaPayload:
		kind = mediaTypeMediaPayload
	default:
		return nil, fmt.Errorf("unknown media content %T", n.Content)
	}

	content, err := json.Marshal(n.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(mediaNotificationJSON{
		StreamID: n.StreamID,
		Type:     kind,
		Content:  content,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *MediaNotification) UnmarshalJSON(data []byte) error {
	var raw mediaNotificationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	decode := func(into MediaContent) error {
		return json.Unmarshal(raw.Content, into)
	}

	n.StreamID = raw.StreamID
	switch raw.Type {
	case mediaTypeNewIncomingStream:
		var content NewIncomingStream
		if err := decode(&content); err != nil {
			return err
		}
		n.Content = content
	case mediaTypeStreamDisconnect:
		n.Content = StreamDisconnected{}
	case mediaTypeVideo:
		var content Video
		if err := decode(&content); err != nil {
			return err
		}
		n.Content = content
	case mediaTypeAudio:
		var content Audio
		if err := decode(&content); err != nil {
			return err
		}
		n.Content = content
	case mediaTypeMetadata:
		var content StreamMetadata
		if err := decode(&content); err != nil {
			return err
		}
		n.Content = content
	case mediaTypeMediaPayload:
		var content MediaPayload
		if err := decode(&content); err != nil {
			return err
		}
		n.Content = content
	default:
		return fmt.Errorf("unknown media content type %q", raw.Type)
	}
	return nil
}
