// Package chunker splits message text into overlapping chunk entities.
package chunker

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// ChunkType is stored in the chunk_type column of generated chunks.
const ChunkType = "text"

// chunkNamespace seeds the deterministic chunk ids.
var chunkNamespace = uuid.MustParse("6f1c2a52-1d0e-4f6b-9a57-3c8e0b7d9e41")

// Processor splits message content into fixed-size chunks.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed chunk size
	if p.overlap >= p.chunkSize {
		p.overlap = p.chunkSize / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// Process splits the content column of a message into chunk rows.
// Other entity types and empty messages produce no chunks. Chunk ids are
// derived from the message id and position, so ingesting a message again
// replaces its chunks instead of adding new ones.
func (p *Processor) Process(msg domain.Row) []domain.Row {
	if msg.Type != domain.EntityMessage {
		return nil
	}
	content := []rune(msg.Columns["content"])
	if len(content) == 0 {
		return nil
	}

	step := p.chunkSize - p.overlap
	chunks := make([]domain.Row, 0, len(content)/step+1)
	for start, position := 0, 0; start < len(content); start, position = start+step, position+1 {
		end := min(start+p.chunkSize, len(content))
		chunks = append(chunks, domain.Row{
			Type:      domain.EntityChunk,
			ID:        ChunkID(msg.ID, position),
			CreatedAt: msg.CreatedAt,
			Columns: map[string]string{
				"message_id": msg.ID,
				"content":    string(content[start:end]),
				"chunk_type": ChunkType,
				"position":   strconv.Itoa(position),
			},
			MetaInfo: domain.CopyMetadata(msg.MetaInfo),
		})
		if end == len(content) {
			break
		}
	}
	return chunks
}

// ChunkID returns the id of the chunk at position of a message.
func ChunkID(messageID string, position int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(messageID+"/"+strconv.Itoa(position))).String()
}
