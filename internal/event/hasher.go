package event

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hush/internal/constants"
	"hush/pkg/models"
)

// Hasher computes the content and similarity hashes of events.
type Hasher struct {
	algorithm     string
	contentFields []string
}

// NewHasher returns a hasher for algorithm (sha256, sha1 or md5). With no
// content fields the whole payload participates in the content hash.
func NewHasher(algorithm string, contentFields []string) *Hasher {
	if algorithm == "" {
		algorithm = constants.HashSHA256
	}
	return &Hasher{
		algorithm:     strings.ToLower(algorithm),
		contentFields: append([]string(nil), contentFields...),
	}
}

var defaultHasher = NewHasher(constants.HashSHA256, nil)

type Params struct {
	ID        string
	Source    Source
	Type      string
	Payload   map[string]interface{}
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// New builds an event with the default hasher.
func New(p Params) *NotificationEvent {
	return defaultHasher.New(p)
}

func (h *Hasher) New(p Params) *NotificationEvent {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Source == "" {
		p.Source = SourceManual
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Payload == nil {
		p.Payload = map[string]interface{}{}
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}

	e := &NotificationEvent{
		ID:        p.ID,
		Source:    p.Source,
		Type:      p.Type,
		Payload:   p.Payload,
		Metadata:  p.Metadata,
		CreatedAt: p.CreatedAt,
		urgency:   UrgencyUnknown,
	}
	e.ContentHash = h.ContentHash(e)
	e.SimilarityHash = h.SimilarityHash(e)
	return e
}

// FromEnvelope converts the wire envelope. Routing fields are copied into
// the metadata map so rules can address them.
func (h *Hasher) FromEnvelope(env models.MessageEnvelope) *NotificationEvent {
	metadata := make(map[string]interface{}, len(env.Metadata.Attributes)+4)
	for k, v := range env.Metadata.Attributes {
		metadata[k] = v
	}
	if env.Metadata.TeamID != "" {
		metadata["team_id"] = env.Metadata.TeamID
	}
	if env.Metadata.UserID != "" {
		metadata["user_id"] = env.Metadata.UserID
	}
	if env.Metadata.ChannelID != "" {
		metadata["channel_id"] = env.Metadata.ChannelID
	}
	if env.Metadata.TraceID != "" {
		metadata["trace_id"] = env.Metadata.TraceID
	}
	metadata["provider"] = env.Source

	return h.New(Params{
		ID:        env.ID,
		Source:    ParseSource(env.Source),
		Type:      env.EventType,
		Payload:   env.Payload,
		Metadata:  metadata,
		CreatedAt: env.Timestamp,
	})
}

func FromEnvelope(env models.MessageEnvelope) *NotificationEvent {
	return defaultHasher.FromEnvelope(env)
}

func (h *Hasher) ContentHash(e *NotificationEvent) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%v|%v|", e.Source, e.Type))

	if len(h.contentFields) == 0 {
		// json.Marshal sorts map keys, so the encoding is stable
		body, err := json.Marshal(e.Payload)
		if err != nil {
			body = []byte(fmt.Sprintf("%v", e.Payload))
		}
		builder.Write(body)
		return h.sum(builder.String())
	}

	for _, field := range h.contentFields {
		val, _ := e.Lookup(field)
		if val == nil {
			val = ""
		}
		if body, err := json.Marshal(val); err == nil {
			builder.Write(body)
		} else {
			builder.WriteString(fmt.Sprintf("%v", val))
		}
		builder.WriteString("|")
	}
	return h.sum(builder.String())
}

// SimilarityHash is coarse: source, type and subject only.
func (h *Hasher) SimilarityHash(e *NotificationEvent) string {
	return h.sum(fmt.Sprintf("%v|%v|%v|", e.Source, e.Type, e.SubjectID()))
}

func (h *Hasher) sum(input string) string {
	switch h.algorithm {
	case constants.HashMD5:
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	case constants.HashSHA1:
		sum := sha1.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])
	}
}
