package rpc

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/engramhq/engram/embedpipeline"
	"github.com/engramhq/engram/errs"
	"github.com/engramhq/engram/memory"
	"github.com/engramhq/engram/migration"
	"github.com/engramhq/engram/repository"
	"github.com/engramhq/engram/triggers"
)

// Services bundles the core components the RPC handlers are thin
// adapters over. Nothing here is domain logic — it all lives in the
// packages these fields point at.
type Services struct {
	Repo     repository.Repository
	Pipeline *embedpipeline.Pipeline
	Engine   *migration.Engine
	Triggers *triggers.Engine
}

// RegisterMemoryMethods binds the memory.* and health methods onto d.
func RegisterMemoryMethods(d *Dispatcher, svc Services) {
	d.Register("memory.create", svc.handleCreate)
	d.Register("memory.get", svc.handleGet)
	d.Register("memory.update", svc.handleUpdate)
	d.Register("memory.delete", svc.handleDelete)
	d.Register("memory.search", svc.handleSearch)
	d.Register("memory.migrate", svc.handleMigrate)
	d.Register("memory.statistics", svc.handleStatistics)
	d.Register("health", svc.handleHealth)
}

type createParams struct {
	Content         string         `json:"content"`
	ImportanceScore float64        `json:"importance_score"`
	DecayRate       float64        `json:"decay_rate,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentID        string         `json:"parent_id,omitempty"`
}

func (s Services) handleCreate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p createParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, "invalid memory.create params", err)
	}

	var embedding []float32
	if s.Pipeline != nil && p.Content != "" {
		result, err := s.Pipeline.Embed(ctx, embedpipeline.Request{Text: p.Content})
		if err != nil {
			return nil, err
		}
		embedding = result.Embedding
	}

	importance := p.ImportanceScore
	metadata := p.Metadata
	if s.Triggers != nil && p.Content != "" {
		result := s.Triggers.Analyze(p.Content, importance)
		importance = result.BoostedImportance
		if result.Triggered {
			if metadata == nil {
				metadata = map[string]any{}
			}
			metadata["trigger_type"] = string(result.TriggerType)
			metadata["trigger_confidence"] = result.Confidence
		}
	}

	return s.Repo.Create(ctx, memory.Spec{
		Content:         p.Content,
		Embedding:       embedding,
		ImportanceScore: importance,
		DecayRate:       p.DecayRate,
		Metadata:        metadata,
		ParentID:        p.ParentID,
	})
}

type idParams struct {
	ID string `json:"id"`
}

func (s Services) handleGet(ctx context.Context, raw json.RawMessage) (any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, "invalid memory.get params", err)
	}
	return s.Repo.Get(ctx, p.ID)
}

type updateParams struct {
	ID              string         `json:"id"`
	Content         *string        `json:"content,omitempty"`
	ImportanceScore *float64       `json:"importance_score,omitempty"`
	DecayRate       *float64       `json:"decay_rate,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParentID        *string        `json:"parent_id,omitempty"`
}

func (s Services) handleUpdate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p updateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, "invalid memory.update params", err)
	}
	return s.Repo.Update(ctx, p.ID, memory.Patch{
		Content:         p.Content,
		ImportanceScore: p.ImportanceScore,
		DecayRate:       p.DecayRate,
		Metadata:        p.Metadata,
		ParentID:        p.ParentID,
	})
}

func (s Services) handleDelete(ctx context.Context, raw json.RawMessage) (any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, "invalid memory.delete params", err)
	}
	if err := s.Repo.Delete(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

type searchParams struct {
	Mode      string  `json:"mode"`
	QueryText string  `json:"query_text,omitempty"`
	Tier      *string `json:"tier,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	Offset    int     `json:"offset,omitempty"`
}

func (s Services) handleSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var p searchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, "invalid memory.search params", err)
	}

	var queryEmbedding []float32
	if s.Pipeline != nil && p.QueryText != "" {
		result, err := s.Pipeline.Embed(ctx, embedpipeline.Request{Text: p.QueryText})
		if err != nil {
			return nil, err
		}
		queryEmbedding = result.Embedding
	}

	var tier *memory.Tier
	if p.Tier != nil {
		t := memory.Tier(*p.Tier)
		tier = &t
	}

	return s.Repo.Search(ctx, repository.SearchRequest{
		Mode:           repository.SearchMode(p.Mode),
		QueryEmbedding: queryEmbedding,
		Tier:           tier,
		Limit:          p.Limit,
		Offset:         p.Offset,
	})
}

type migrateParams struct {
	ID      string `json:"id"`
	ToTier  string `json:"to_tier"`
	Reason  string `json:"reason,omitempty"`
}

// migrateResult carries the migrated memory alongside its migration
// history so callers don't need a second round trip to see the
// append-only log entries §6 requires every migration to produce.
type migrateResult struct {
	Memory  *memory.Memory                      `json:"memory,omitempty"`
	Batch   *migration.Batch                    `json:"batch,omitempty"`
	History []repository.MigrationHistoryEntry `json:"history"`
}

func (s Services) handleMigrate(ctx context.Context, raw json.RawMessage) (any, error) {
	var p migrateParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidParameter, "invalid memory.migrate params", err)
	}

	m, err := s.Repo.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	result := migrateResult{}
	if s.Engine == nil {
		migrated, migrateErr := s.Repo.Migrate(ctx, p.ID, memory.Tier(p.ToTier), p.Reason)
		result.Memory = migrated
		if history, histErr := s.Repo.GetMigrationHistory(ctx, p.ID); histErr == nil {
			result.History = history
		}
		if migrateErr != nil {
			return nil, migrateErr
		}
		return result, nil
	}

	batch, err := s.Engine.Submit(ctx, []migration.UnitRequest{
		{MemoryID: p.ID, FromTier: m.Tier, ToTier: memory.Tier(p.ToTier), Reason: p.Reason},
	})
	if err != nil {
		return nil, err
	}
	<-batch.Done()
	result.Batch = batch
	if history, histErr := s.Repo.GetMigrationHistory(ctx, p.ID); histErr == nil {
		result.History = history
	}
	return result, nil
}

func (s Services) handleStatistics(ctx context.Context, _ json.RawMessage) (any, error) {
	return s.Repo.GetStatistics(ctx)
}

func (s Services) handleHealth(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]string{"status": "ok"}, nil
}
