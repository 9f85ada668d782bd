package kg

// WrongRelationship is one relationship the Janitor rejected, paired with
// the instruction the Architect must follow to repair and re-submit it.
type WrongRelationship struct {
	Relationship ArchitectRelationship `json:"relationship"`
	Instruction  string                `json:"instruction"`
}

// JanitorOutcome tags which variant of JanitorResult is populated.
type JanitorOutcome string

const (
	JanitorOK           JanitorOutcome = "ok"
	JanitorNeedsRepair   JanitorOutcome = "needs_repair"
)

// JanitorResult is the tagged result the Atomic Janitor returns. The Full
// Janitor returns UnitOfWork and the Graph Consolidator returns
// ConsolidationResult directly.
type JanitorResult struct {
	Outcome JanitorOutcome `json:"outcome"`

	// Relationships the Janitor silently accepted or auto-fixed, ready to
	// append to the relationship set. May accompany either Outcome.
	Fixed []ArchitectRelationship `json:"fixed,omitempty"`

	// Populated when Outcome == JanitorNeedsRepair: relationships that failed
	// validation, each with a repair instruction for the Architect to act on.
	Wrong []WrongRelationship `json:"wrong,omitempty"`

	// Consolidation carries a Graph Consolidator result; janitor.Agent's
	// Consolidate returns ConsolidationResult itself rather than this field.
	Consolidation *ConsolidationResult `json:"consolidation,omitempty"`
}

// UnitOfWork is the Full Janitor's input/output shape: exactly one of the
// three fields is populated, mirroring JanitorAgentInputOutput from the
// original source.
type UnitOfWork struct {
	Relationship *ArchitectRelationship `json:"relationship,omitempty"`
	VirtualNode  *Node                  `json:"virtual_node,omitempty"`
	Entity       *ScoutEntity           `json:"entity,omitempty"`
}

// ConsolidationResult is the Graph Consolidator Janitor's per-batch output:
// co-reference merges, edge remaps, and new hierarchical links.
type ConsolidationResult struct {
	Merges        []NodesMerged          `json:"merges,omitempty"`
	EdgeRemaps    []EdgeRemap            `json:"edge_remaps,omitempty"`
	NewHierarchy  []ArchitectRelationship `json:"new_hierarchy,omitempty"`
}

// EdgeRemap redirects an edge endpoint from a merged-away node to its
// survivor during consolidation.
type EdgeRemap struct {
	RelationshipUUID string `json:"relationship_uuid"`
	FromUUID         string `json:"from_uuid"`
	ToUUID           string `json:"to_uuid"`
}
