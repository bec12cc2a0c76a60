package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/logger"
	"github.com/custodia-labs/carchive/internal/postprocessors/chunker"
)

// maxIngestLine bounds one JSONL record.
const maxIngestLine = 16 << 20

// ingestRecord is one line of an ingest file.
type ingestRecord struct {
	EntityType string            `json:"entity_type"`
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Columns    map[string]string `json:"columns"`
	MetaInfo   map[string]any    `json:"meta_info"`
	Embedding  []float32         `json:"embedding,omitempty"`
	Model      string            `json:"model,omitempty"`
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl|->",
	Short: "Load entities from a JSON Lines file",
	Long: `Loads entity rows, one JSON object per line, into the archive. Rows with
an existing id replace the stored row.

  {"entity_type":"message","id":"m1","created_at":"2024-01-01T00:00:00Z",
   "columns":{"role":"user","content":"the quick fox"},
   "meta_info":{"source":"chatgpt"},
   "embedding":[0.1,0.2],"model":"nomic-embed-text"}

Rows without an id get a random one. Use - to read standard input.
With --chunk, message content is also split into chunk entities.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var (
	ingestChunk        bool
	ingestChunkSize    int
	ingestChunkOverlap int
)

func init() {
	ingestCmd.Flags().BoolVar(&ingestChunk, "chunk", false, "split message content into chunk entities")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", chunker.DefaultChunkSize, "characters per chunk")
	ingestCmd.Flags().IntVar(&ingestChunkOverlap, "chunk-overlap", chunker.DefaultChunkOverlap,
		"characters shared by neighbouring chunks")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if entityWriter == nil {
		return errors.New("entity store not configured")
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	defer logger.Timed("ingest")()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxIngestLine)

	var splitter *chunker.Processor
	if ingestChunk {
		splitter = chunker.New(chunker.WithChunkSize(ingestChunkSize), chunker.WithOverlap(ingestChunkOverlap))
	}

	counts := make(map[domain.EntityType]int)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		row, model, err := decodeIngestRecord(raw)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if model != "" {
			embedding := row.Embedding
			row.Embedding = nil
			if err := entityWriter.PutEntity(cmd.Context(), row); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if err := entityWriter.PutEmbedding(cmd.Context(), row.Ref(), model, embedding); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
		} else if err := entityWriter.PutEntity(cmd.Context(), row); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		counts[row.Type]++

		if splitter == nil {
			continue
		}
		for _, chunk := range splitter.Process(row) {
			if err := entityWriter.PutEntity(cmd.Context(), chunk); err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			counts[chunk.Type]++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	total := 0
	for _, t := range domain.AllEntityTypes() {
		if counts[t] > 0 {
			cmd.Printf("  %-14s %d\n", t, counts[t])
			total += counts[t]
		}
	}
	cmd.Printf("Ingested %d entities\n", total)
	return nil
}

// decodeIngestRecord parses one line. The model is returned separately
// when the embedding should be stored under a named model.
func decodeIngestRecord(raw []byte) (domain.Row, string, error) {
	var rec ingestRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Row{}, "", fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	t, err := domain.ParseEntityType(rec.EntityType)
	if err != nil {
		return domain.Row{}, "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	schema := t.Schema()
	for col := range rec.Columns {
		if !schema.HasColumn(col) {
			return domain.Row{}, "", fmt.Errorf("%w: %s has no column %q", domain.ErrInvalidInput, t, col)
		}
	}
	if len(rec.Embedding) > 0 && !schema.Vectors {
		return domain.Row{}, "", fmt.Errorf("%w: %s does not store embeddings", domain.ErrInvalidInput, t)
	}
	model := rec.Model
	if len(rec.Embedding) == 0 {
		model = ""
	}

	return domain.Row{
		Type:      t,
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt.UTC(),
		Columns:   rec.Columns,
		MetaInfo:  rec.MetaInfo,
		Embedding: rec.Embedding,
	}, model, nil
}
