package opensearch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/rawlogs/rawlogs/internal/store"
	"github.com/rawlogs/rawlogs/internal/types"
)

// Checkpoint document location.
const (
	DefaultCheckpointIndex = "last_fetched"
	CheckpointDocID        = "checkpoint"
)

type checkpointDoc struct {
	LastProcessedEnd int64 `json:"last_processed_end"`
}

// Checkpoints implements store.Checkpoints with one fixed-ID document.
type Checkpoints struct {
	client *opensearch.Client
	index  string

	mu   sync.Mutex
	last types.Checkpoint
	have bool
}

// NewCheckpoints returns a checkpoint store in index.
func NewCheckpoints(client *opensearch.Client, index string) *Checkpoints {
	if index == "" {
		index = DefaultCheckpointIndex
	}
	return &Checkpoints{client: client, index: index}
}

// Load implements store.Checkpoints. A missing index or document means no checkpoint.
func (c *Checkpoints) Load(ctx context.Context) (types.Checkpoint, bool, error) {
	res, err := opensearchapi.GetRequest{Index: c.index, DocumentID: CheckpointDocID}.Do(ctx, c.client)
	if err != nil {
		return types.Checkpoint{}, false, fmt.Errorf("get checkpoint: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return types.Checkpoint{}, false, nil
	}
	if res.IsError() {
		return types.Checkpoint{}, false, responseError("get checkpoint", res)
	}
	var doc struct {
		Found  bool          `json:"found"`
		Source checkpointDoc `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return types.Checkpoint{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	if !doc.Found {
		return types.Checkpoint{}, false, nil
	}
	cp := types.CheckpointFromMillis(doc.Source.LastProcessedEnd)
	c.mu.Lock()
	c.last, c.have = cp, true
	c.mu.Unlock()
	return cp, true, nil
}

// Save implements store.Checkpoints. The write is refreshed so a restart reads it back.
func (c *Checkpoints) Save(ctx context.Context, cp types.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := store.CheckAdvance(c.last, c.have, cp); err != nil {
		return err
	}
	body, err := json.Marshal(checkpointDoc{LastProcessedEnd: cp.Millis()})
	if err != nil {
		return err
	}
	res, err := opensearchapi.IndexRequest{
		Index:      c.index,
		DocumentID: CheckpointDocID,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("save checkpoint", res)
	}
	c.last, c.have = cp, true
	return nil
}
