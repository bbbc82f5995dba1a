package model

// DocKind enumerates the auxiliary, whole-document-replace CRUD blobs a
// session owns alongside its core state. None of these add new storage
// invariants; they share the same load/save contract.
type DocKind string

const (
	DocMood           DocKind = "mood"
	DocDiscoveries    DocKind = "discoveries"
	DocNPCRelations   DocKind = "npc_relationships"
	DocNPCMemory      DocKind = "npc_memory"
	DocLastDiscovery  DocKind = "last_discovery"
	DocAutoSave       DocKind = "auto_save"
	DocQuests         DocKind = "quests"
	DocWorldFactions  DocKind = "world_factions"
	DocWorldTimeline  DocKind = "world_timeline"
	DocWorldRumors    DocKind = "world_rumors"
	DocWorldFactionCl DocKind = "world_faction_clocks"
)

// KnownDocKinds lists every aux doc kind declared above.
var KnownDocKinds = []DocKind{
	DocMood, DocDiscoveries, DocNPCRelations, DocNPCMemory, DocLastDiscovery,
	DocAutoSave, DocQuests, DocWorldFactions, DocWorldTimeline, DocWorldRumors,
	DocWorldFactionCl,
}

// IsKnownDocKind reports whether kind is one of KnownDocKinds. The storage
// backends do not check the kind they are given.
func IsKnownDocKind(kind DocKind) bool {
	for _, k := range KnownDocKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// TextEntry is one line of a transcript or changelog, addressed by its
// 1-based position within the session's append-only log.
type TextEntry struct {
	Position int64  `json:"id"`
	Text     string `json:"text"`
}
