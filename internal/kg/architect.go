package kg

// EntityRef is the Architect's view of an endpoint node: either a
// previously-extracted ScoutEntity or a brand-new node the Architect
// introduces (an Event hub, for instance). It carries enough shape to be
// upserted directly by the IngestionManager.
type EntityRef struct {
	UUID        string         `json:"uuid"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Properties  map[string]any `json:"properties,omitempty"`
	Description string         `json:"description,omitempty"`
	Polarity    Polarity       `json:"polarity,omitempty"`
	HappenedAt  string         `json:"happened_at,omitempty"`
}

// ArchitectRelationship is one validated edge the Architect produced for a
// single phrase. Tail is the origin of the action, Tip is the destination
// (see the Triangle of Attribution in the Architect package doc).
type ArchitectRelationship struct {
	UUID        string         `json:"uuid"`
	FlowKey     string         `json:"flow_key"`
	Tail        EntityRef      `json:"tail"`
	Tip         EntityRef      `json:"tip"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Amount      *float64       `json:"amount,omitempty"`
}

// RelationshipKey is the dedupe key used by single-shot mode to avoid
// emitting the same edge twice within one Architect run.
type RelationshipKey struct {
	TailUUID string
	TipUUID  string
	Name     string
}

func (r ArchitectRelationship) Key() RelationshipKey {
	return RelationshipKey{TailUUID: r.Tail.UUID, TipUUID: r.Tip.UUID, Name: r.Name}
}
