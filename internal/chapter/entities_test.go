package chapter

import (
	"context"
	"testing"

	"github.com/fablepress/storyforge/internal/storymodel"
)

func TestExtractEntitiesAndLedgerSplit(t *testing.T) {
	gw := &fakeGateway{response: `{"entities": [
		{"entity_type": "character", "entity_name": "Mara", "fact": "discovers the forged treaty", "source_quote": "she read the forgery twice"},
		{"entity_type": "world_rule", "entity_name": "blood price", "fact": "magic costs a drop of blood per casting"},
		{"entity_type": "location", "entity_name": "the archive", "fact": "hidden beneath the chapel"}
	]}`}

	entities, _, err := ExtractEntities(context.Background(), gw, "claude-3-5-sonnet-20241022", "chapter text")
	if err != nil {
		t.Fatalf("ExtractEntities: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("entities = %d, want 3", len(entities))
	}

	rows := ToChapterEntities(entities, "chapter-1", "story-1", 4)
	if len(rows) != 3 || !rows[0].IsConsistent {
		t.Fatalf("rows = %+v", rows)
	}

	character, worldState := ToLedgerEntries(entities, "story-1", 4)
	if _, ok := character.Data["Mara"]; !ok {
		t.Errorf("character ledger missing Mara entry: %+v", character.Data)
	}
	if len(worldState.Data) != 2 {
		t.Errorf("world state ledger = %+v, want 2 entries (world_rule + location)", worldState.Data)
	}
}

func TestToChapterEntitiesPreservesEntityType(t *testing.T) {
	entities := []ExtractedEntity{
		{EntityType: storymodel.EntityPlotThread, EntityName: "the missing heir", Fact: "revealed alive"},
	}
	rows := ToChapterEntities(entities, "chapter-2", "story-1", 5)
	if rows[0].EntityType != storymodel.EntityPlotThread {
		t.Errorf("EntityType = %s, want plot_thread", rows[0].EntityType)
	}
}
