package repositories

import (
	"agent-town/ai"
	"agent-town/contract"
	"agent-town/domain"
	"context"
	"log/slog"
	"sort"

	"github.com/blugelabs/bluge"
)

// overFetchFactor widens the candidate set pulled from the index before
// re-ranking with the embedder, so a strong semantic match just outside
// the requested page is not lost.
const overFetchFactor = 4

// MemoryRepository stores semantic memories in a Bluge index. Retrieval is
// two-staged: the index narrows candidates by relevance and audience, then
// results are re-ranked by cosine similarity of embedder feature vectors.
// An agent only ever sees memories it spoke or was present for.
type MemoryRepository struct {
	writer   *bluge.Writer
	embedder contract.IEmbedder
	log      *slog.Logger
}

func NewMemoryRepository(writer *bluge.Writer, embedder contract.IEmbedder, log *slog.Logger) *MemoryRepository {
	return &MemoryRepository{writer: writer, embedder: embedder, log: log}
}

func (m *MemoryRepository) SaveMemory(memory domain.Memory) error {
	doc := bluge.NewDocument("mem:" + memory.ID)
	doc.AddField(bluge.NewTextField("text", memory.Text).StoreValue())
	doc.AddField(bluge.NewKeywordField("speaker", memory.SpeakerID).StoreValue())
	doc.AddField(bluge.NewKeywordField("location", string(memory.RoomID)).StoreValue())
	doc.AddField(bluge.NewKeywordField("type", memory.MsgType))
	doc.AddField(bluge.NewDateTimeField("at", memory.At))
	for _, agentID := range memory.Audience {
		doc.AddField(bluge.NewKeywordField("audience", agentID))
	}
	return m.writer.Update(doc.ID(), doc)
}

// UpsertAgent and UpsertLocation keep referent nodes in the index; both
// are idempotent last-write-wins.

func (m *MemoryRepository) UpsertAgent(agentID string) error {
	doc := bluge.NewDocument("agent:" + agentID)
	doc.AddField(bluge.NewKeywordField("kind", "agent"))
	doc.AddField(bluge.NewKeywordField("name", agentID).StoreValue())
	return m.writer.Update(doc.ID(), doc)
}

func (m *MemoryRepository) UpsertLocation(roomID domain.RoomID) error {
	doc := bluge.NewDocument("location:" + string(roomID))
	doc.AddField(bluge.NewKeywordField("kind", "location"))
	doc.AddField(bluge.NewKeywordField("name", string(roomID)).StoreValue())
	return m.writer.Update(doc.ID(), doc)
}

// FindMemories returns the memories most similar to textQuery among those
// the requesting agent witnessed, best first.
func (m *MemoryRepository) FindMemories(ctx context.Context, textQuery, agentID string, limit int) ([]domain.ScoredMemory, error) {
	reader, err := m.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			m.log.Warn("Index reader close failed", "error", err)
		}
	}()

	witnessed := bluge.NewBooleanQuery().
		AddShould(bluge.NewTermQuery(agentID).SetField("speaker")).
		AddShould(bluge.NewTermQuery(agentID).SetField("audience"))
	witnessed.SetMinShould(1)

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewMatchQuery(textQuery).SetField("text")).
		AddMust(witnessed)

	request := bluge.NewTopNSearch(limit*overFetchFactor, query).WithStandardAggregations()
	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	queryVector := m.embedder.Features(textQuery)

	var results []domain.ScoredMemory
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}

		var memory domain.ScoredMemory
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "text":
				memory.Text = string(value)
			case "speaker":
				memory.From = string(value)
			case "location":
				memory.Location = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}

		similarity := ai.Cosine(queryVector, m.embedder.Features(memory.Text))
		memory.Score = match.Score * (1 + similarity)
		results = append(results, memory)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
