package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"adminpanel/internal/store"
)

// LoadAll reads all entity definitions from the database and populates the registry.
func LoadAll(ctx context.Context, q store.Querier, reg *Registry, logger *zap.Logger) error {
	rows, err := store.QueryRows(ctx, q, "SELECT id, tenant_id, name, slug, definition FROM _entities ORDER BY name")
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	entities := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		var entity Entity
		if err := json.Unmarshal([]byte(store.AsString(row["definition"])), &entity); err != nil {
			logger.Warn("skipping entity with invalid definition",
				zap.String("entity", store.AsString(row["name"])), zap.Error(err))
			continue
		}
		// columns are authoritative over the stored document
		entity.ID = store.AsString(row["id"])
		entity.TenantID = store.AsString(row["tenant_id"])
		entity.Name = store.AsString(row["name"])
		entity.Slug = store.AsString(row["slug"])
		entities = append(entities, &entity)
	}

	reg.Load(entities)
	logger.Info("loaded entities into registry", zap.Int("entities", len(entities)))
	return nil
}
