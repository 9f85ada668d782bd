package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
	"github.com/Lumen-Labs/brainapi2/internal/store"
	"github.com/Lumen-Labs/brainapi2/internal/tokenaccount"
)

// relVectorWorkers/perItemTimeout mirror the teacher's
// ThreadPoolExecutor(max_workers=10) + 180s future.result(timeout=...)
// pattern (spec §4.4).
const (
	relVectorWorkers = 10
	perItemTimeout   = 180 * time.Second
	nearDupSimilarity = 0.90
	relationshipBatchSize = 20
)

// Scout is the subset of scout.Agent the dispatcher depends on.
type Scout interface {
	Extract(ctx context.Context, text string, targeting *kg.Node, brainID string) (kg.ScoutResult, error)
}

// Architect is the subset of architect.Agent the dispatcher depends on.
type Architect interface {
	Build(ctx context.Context, text string, entities []kg.ScoutEntity, targeting *kg.Node, brainID, ingestionSessionID string) ([]kg.ArchitectRelationship, error)
}

// Observer is the subset of observer.Agent the dispatcher depends on.
type Observer interface {
	Observe(ctx context.Context, text string, observateFor []string) ([]string, llm.Usage, error)
}

// IngestionManager is the subset of ingest.Manager the dispatcher depends
// on. A fresh instance must be supplied per ingestion run (via
// Dispatcher.NewIngestionManager),
// matching the original's per-call IngestionManager(...) construction.
type IngestionManager interface {
	ProcessNodeVectors(ctx context.Context, entity *kg.ScoutEntity, brainID string) (string, error)
	ProcessRelVectors(ctx context.Context, rel *kg.ArchitectRelationship, brainID string) (string, *string, error)
}

// Consolidator is the subset of consolidation.Orchestrator the dispatcher
// depends on.
type Consolidator interface {
	Run(ctx context.Context, brainID, sessionID string) (kg.TokenDetail, error)
}

// Producer publishes a job envelope onto a topic; implementations wrap a
// Kafka writer (see consumer.go) or, in tests, record calls in memory.
type Producer interface {
	Enqueue(ctx context.Context, topic string, key string, envelope CommandEnvelope) error
}

// Embedder is the subset of embedding.Client the ingest_data handler needs
// to embed a whole text chunk into the data collection.
type Embedder interface {
	Embed(ctx context.Context, texts []string) []kg.Vector
}

// Dispatcher wires every capability a job handler needs. Scout/Architect are
// shared instances; the IngestionManager is the one collaborator built per
// job, since each ingestion call wants its own IngestionManager.resolvedCache
// (mirroring the original's per-call construction). NewIngestionManager lets
// the caller supply a fresh one per job without the dispatcher importing the
// concrete ingest package.
type Dispatcher struct {
	Scout               Scout
	Architect           Architect
	Observer            Observer
	NewIngestionManager func() IngestionManager
	Consolidator        Consolidator
	Embedder            Embedder

	Graph   store.GraphStore
	Docs    store.DocStore
	Cache   store.Cache
	Vectors store.VectorStore

	Producer Producer
	Status   *StatusStore
}

func newTaskID() string { return uuid.NewString() }

// Dispatch routes one CommandEnvelope to its handler, writing the task's
// terminal status and classifying the returned error for the consumer
// loop's retry/DLQ decision (errkind.Classify).
func (d *Dispatcher) Dispatch(ctx context.Context, env CommandEnvelope) error {
	taskID := env.CorrelationID
	if taskID == "" {
		taskID = newTaskID()
	}
	d.writeStatus(ctx, env.BrainID, taskID, StatusRunning, "")

	var err error
	switch env.JobType {
	case JobIngestData:
		err = d.handleIngestData(ctx, env, taskID)
	case JobIngestStructuredData:
		err = d.handleIngestStructuredData(ctx, env, taskID)
	case JobProcessArchitectRelationships:
		err = d.handleProcessArchitectRelationships(ctx, env, taskID)
	case JobConsolidateGraphAsync:
		err = d.handleConsolidateGraphAsync(ctx, env, taskID)
	default:
		err = fmt.Errorf("tasks: unknown job type %q", env.JobType)
	}

	if err != nil {
		d.writeStatus(ctx, env.BrainID, taskID, StatusFailed, err.Error())
		return err
	}
	d.writeStatus(ctx, env.BrainID, taskID, StatusSucceeded, "")
	return nil
}

func (d *Dispatcher) writeStatus(ctx context.Context, brainID, taskID string, status Status, errMsg string) {
	if d.Status == nil {
		return
	}
	if err := d.Status.Write(ctx, brainID, taskID, status, errMsg); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("task_id", taskID).Msg("task_status_write_failed")
	}
}

// handleIngestData persists the raw chunk, embeds it whole into the data
// collection, generates observations, runs Scout->Architect over the text,
// groups the resulting relationships by flow_key into sub-batches, and fans
// each sub-batch out as a process_architect_relationships job, grounded on
// the original source's ingest_data task body and auto_kg.py's
// enrich_kg_from_input (Scout.run -> Architect.run_tooler).
func (d *Dispatcher) handleIngestData(ctx context.Context, env CommandEnvelope, taskID string) error {
	var payload IngestDataPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("tasks: decode ingest_data payload: %w", err)
	}
	log := observability.LoggerWithTrace(ctx)

	text := payload.Data.TextData
	if payload.Data.DataType == "json" {
		raw, err := json.Marshal(payload.Data.JSONData)
		if err != nil {
			return fmt.Errorf("tasks: marshal ingest_data json_data: %w", err)
		}
		text = string(raw)
	}
	if text == "" {
		return fmt.Errorf("tasks: ingest_data payload carries no text or json data")
	}

	chunk := kg.TextChunk{ID: uuid.NewString(), Text: text, Metadata: payload.MetaKeys}
	chunk, err := d.Docs.SaveTextChunk(ctx, payload.BrainID, chunk)
	if err != nil {
		return fmt.Errorf("tasks: save text chunk: %w", err)
	}

	if d.Embedder != nil {
		vecs := d.Embedder.Embed(ctx, []string{text})
		if len(vecs) > 0 && vecs[0].Embedded() {
			vecs[0].Metadata = map[string]any{"resource_id": chunk.ID}
			if _, err := storeDataVector(ctx, d, payload.BrainID, vecs[0]); err != nil {
				log.Warn().Err(err).Str("chunk_id", chunk.ID).Msg("ingest_data_chunk_embedding_write_failed")
			}
		}
	}

	if d.Observer != nil {
		observations, _, err := d.Observer.Observe(ctx, text, payload.ObservateFor)
		if err != nil {
			log.Warn().Err(err).Str("chunk_id", chunk.ID).Msg("ingest_data_observations_failed")
		} else if len(observations) > 0 {
			if err := d.saveObservations(ctx, payload.BrainID, chunk.ID, observations); err != nil {
				log.Warn().Err(err).Str("chunk_id", chunk.ID).Msg("ingest_data_observations_save_failed")
			}
		}
	}

	scoutResult, err := d.Scout.Extract(ctx, text, nil, payload.BrainID)
	if err != nil {
		return fmt.Errorf("tasks: scout extraction: %w", err)
	}

	sessionID := uuid.NewString()
	relationships, err := d.Architect.Build(ctx, text, scoutResult.Entities, nil, payload.BrainID, sessionID)
	if err != nil {
		return fmt.Errorf("tasks: architect build: %w", err)
	}

	return d.fanOutRelationships(ctx, payload.BrainID, sessionID, relationships)
}

// handleIngestStructuredData runs each structured element's textual_data
// through the same Scout/Architect pipeline as free text, per the original's
// per-element "calls knowledge-graph enrichment for the element".
func (d *Dispatcher) handleIngestStructuredData(ctx context.Context, env CommandEnvelope, taskID string) error {
	var payload IngestStructuredDataPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("tasks: decode ingest_structured_data payload: %w", err)
	}
	log := observability.LoggerWithTrace(ctx)

	for i, el := range payload.Data {
		sd := kg.StructuredData{ID: uuid.NewString(), Metadata: el.Metadata}
		if raw, err := json.Marshal(el.JSONData); err == nil {
			var asMap map[string]any
			if err := json.Unmarshal(raw, &asMap); err == nil {
				sd.Data = asMap
			}
		}
		sd.Types = el.Types
		if err := d.Docs.SaveStructuredData(ctx, payload.BrainID, sd); err != nil {
			return fmt.Errorf("tasks: save structured element %d: %w", i, err)
		}

		if el.TextualData == "" {
			continue
		}
		if d.Observer != nil {
			observations, _, err := d.Observer.Observe(ctx, el.TextualData, payload.ObservateFor)
			if err != nil {
				log.Warn().Err(err).Int("element", i).Msg("ingest_structured_data_observations_failed")
			} else if len(observations) > 0 {
				if err := d.saveObservations(ctx, payload.BrainID, sd.ID, observations); err != nil {
					log.Warn().Err(err).Int("element", i).Msg("ingest_structured_data_observations_save_failed")
				}
			}
		}

		scoutResult, err := d.Scout.Extract(ctx, el.TextualData, nil, payload.BrainID)
		if err != nil {
			return fmt.Errorf("tasks: scout extraction for structured element %d: %w", i, err)
		}
		sessionID := uuid.NewString()
		relationships, err := d.Architect.Build(ctx, el.TextualData, scoutResult.Entities, nil, payload.BrainID, sessionID)
		if err != nil {
			return fmt.Errorf("tasks: architect build for structured element %d: %w", i, err)
		}
		if err := d.fanOutRelationships(ctx, payload.BrainID, sessionID, relationships); err != nil {
			return fmt.Errorf("tasks: fan out structured element %d: %w", i, err)
		}
	}
	return nil
}

func (d *Dispatcher) saveObservations(ctx context.Context, brainID, resourceID string, texts []string) error {
	obs := make([]kg.Observation, 0, len(texts))
	for _, t := range texts {
		obs = append(obs, kg.Observation{ID: uuid.NewString(), Text: t, ResourceID: resourceID, InsertedAt: time.Now()})
	}
	return d.Docs.SaveObservations(ctx, brainID, obs)
}

// fanOutRelationships groups relationships by flow_key into
// relationshipBatchSize-sized sub-batches, stages the session's full
// relationship set in the cache for the eventual Consolidation Orchestrator,
// initializes the fan-in counter to the sub-batch count, and enqueues one
// process_architect_relationships job per sub-batch.
func (d *Dispatcher) fanOutRelationships(ctx context.Context, brainID, sessionID string, relationships []kg.ArchitectRelationship) error {
	if len(relationships) == 0 {
		return nil
	}

	if err := d.stageSessionRelationships(ctx, brainID, sessionID, relationships); err != nil {
		return err
	}

	groups := groupByFlowKey(relationships, relationshipBatchSize)
	if _, err := d.Cache.IncrBy(ctx, brainID, pendingTasksKey(sessionID), int64(len(groups))); err != nil {
		return fmt.Errorf("tasks: init pending-tasks counter: %w", err)
	}

	for _, group := range groups {
		payload := ProcessArchitectRelationshipsPayload{BrainID: brainID, SessionID: sessionID, Relationships: group}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("tasks: marshal process_architect_relationships payload: %w", err)
		}
		env := CommandEnvelope{CorrelationID: uuid.NewString(), JobType: JobProcessArchitectRelationships, BrainID: brainID, Payload: raw}
		if err := d.Producer.Enqueue(ctx, TopicFor(JobProcessArchitectRelationships), sessionID, env); err != nil {
			return fmt.Errorf("tasks: enqueue process_architect_relationships: %w", err)
		}
	}
	return nil
}

// stageSessionRelationships accumulates this call's relationships into
// session:{id}:relationships, appending to whatever is already staged so a
// session spanning multiple ingest_data/ingest_structured_data calls still
// consolidates as one unit.
func (d *Dispatcher) stageSessionRelationships(ctx context.Context, brainID, sessionID string, relationships []kg.ArchitectRelationship) error {
	existing, err := d.Cache.Get(ctx, brainID, relationshipsKey(sessionID))
	var all []kg.ArchitectRelationship
	if err == nil && existing != "" {
		if err := json.Unmarshal([]byte(existing), &all); err != nil {
			return fmt.Errorf("tasks: decode staged session relationships: %w", err)
		}
	}
	all = append(all, relationships...)
	raw, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("tasks: marshal staged session relationships: %w", err)
	}
	return d.Cache.Set(ctx, brainID, relationshipsKey(sessionID), string(raw), statusTTL)
}

func relationshipsKey(sessionID string) string { return fmt.Sprintf("session:%s:relationships", sessionID) }
func pendingTasksKey(sessionID string) string  { return fmt.Sprintf("session:%s:pending_tasks", sessionID) }

// groupByFlowKey splits relationships into contiguous flow_key groups, each
// capped at maxSize, preserving the invariant that edges sharing a flow_key
// are written consecutively within a single job (spec §5 ordering
// guarantees).
func groupByFlowKey(relationships []kg.ArchitectRelationship, maxSize int) [][]kg.ArchitectRelationship {
	byKey := make(map[string][]kg.ArchitectRelationship)
	var order []string
	for _, r := range relationships {
		if _, ok := byKey[r.FlowKey]; !ok {
			order = append(order, r.FlowKey)
		}
		byKey[r.FlowKey] = append(byKey[r.FlowKey], r)
	}

	var groups [][]kg.ArchitectRelationship
	for _, key := range order {
		items := byKey[key]
		for i := 0; i < len(items); i += maxSize {
			end := i + maxSize
			if end > len(items) {
				end = len(items)
			}
			groups = append(groups, items[i:end])
		}
	}
	return groups
}

// handleProcessArchitectRelationships embeds and upserts one sub-batch's
// relationships, bounded by a 10-worker pool with a 180s per-item timeout,
// then decrements the session's fan-in counter in both the success and
// failure path and enqueues consolidate_graph_async once it reaches zero
// (spec §4.6 Fan-out/fan-in).
func (d *Dispatcher) handleProcessArchitectRelationships(ctx context.Context, env CommandEnvelope, taskID string) error {
	var payload ProcessArchitectRelationshipsPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("tasks: decode process_architect_relationships payload: %w", err)
	}
	log := observability.LoggerWithTrace(ctx)

	im := d.NewIngestionManager()
	sem := make(chan struct{}, relVectorWorkers)
	var wg sync.WaitGroup
	for i := range payload.Relationships {
		rel := &payload.Relationships[i]
		wg.Add(1)
		sem <- struct{}{}
		go func(rel *kg.ArchitectRelationship) {
			defer wg.Done()
			defer func() { <-sem }()
			itemCtx, cancel := context.WithTimeout(ctx, perItemTimeout)
			defer cancel()
			if err := d.processRelationship(itemCtx, im, payload.BrainID, rel); err != nil {
				log.Warn().Err(err).Str("relationship_uuid", rel.UUID).Msg("process_architect_relationship_failed")
			}
		}(rel)
	}
	wg.Wait()

	remaining, err := d.Cache.Decr(ctx, payload.BrainID, pendingTasksKey(payload.SessionID))
	if err != nil {
		return fmt.Errorf("tasks: decrement pending-tasks counter: %w", err)
	}
	if remaining == 0 {
		return d.enqueueConsolidation(ctx, payload.BrainID, payload.SessionID)
	}
	return nil
}

func (d *Dispatcher) enqueueConsolidation(ctx context.Context, brainID, sessionID string) error {
	payload := ConsolidateGraphAsyncPayload{BrainID: brainID, SessionID: sessionID}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("tasks: marshal consolidate_graph_async payload: %w", err)
	}
	env := CommandEnvelope{CorrelationID: uuid.NewString(), JobType: JobConsolidateGraphAsync, BrainID: brainID, Payload: raw}
	return d.Producer.Enqueue(ctx, TopicFor(JobConsolidateGraphAsync), sessionID, env)
}

// processRelationship embeds the relationship, checks/embeds its endpoints,
// suppresses near-duplicate edges, and MERGE-upserts tail/relationship/tip,
// per spec §4.4 steps 2-5.
func (d *Dispatcher) processRelationship(ctx context.Context, im IngestionManager, brainID string, rel *kg.ArchitectRelationship) error {
	_, vRelID, err := im.ProcessRelVectors(ctx, rel, brainID)
	if err != nil {
		return fmt.Errorf("embed relationship: %w", err)
	}

	if vRelID != nil {
		dup, err := d.isNearDuplicate(ctx, brainID, *vRelID, rel)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("relationship_uuid", rel.UUID).Msg("near_duplicate_check_failed")
		} else if dup {
			// A near-duplicate edge already exists; the vector was already
			// removed by isNearDuplicate, and no graph write has happened
			// yet for this relationship, so there is nothing left to undo.
			return nil
		}
	}

	tailExists, err := d.Graph.CheckNodeExistence(ctx, brainID, store.NodeFilter{UUID: rel.Tail.UUID, Name: rel.Tail.Name, Labels: []string{rel.Tail.Type}})
	if err != nil {
		return fmt.Errorf("check tail existence: %w", err)
	}
	tipExists, err := d.Graph.CheckNodeExistence(ctx, brainID, store.NodeFilter{UUID: rel.Tip.UUID, Name: rel.Tip.Name, Labels: []string{rel.Tip.Type}})
	if err != nil {
		return fmt.Errorf("check tip existence: %w", err)
	}

	tail := nodeFromRef(rel.Tail)
	tip := nodeFromRef(rel.Tip)

	var toEmbed []*kg.Node
	if !tailExists {
		toEmbed = append(toEmbed, &tail)
	}
	if !tipExists {
		toEmbed = append(toEmbed, &tip)
	}
	for _, n := range toEmbed {
		entity := kg.ScoutEntity{UUID: n.UUID, Type: firstLabel(n.Labels), Name: n.Name, Properties: n.Properties}
		if _, err := im.ProcessNodeVectors(ctx, &entity, brainID); err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("node_uuid", n.UUID).Msg("process_node_vectors_failed")
			continue
		}
		n.Properties = entity.Properties
	}

	if _, err := d.Graph.AddNodes(ctx, brainID, []kg.Node{tail, tip}); err != nil {
		return fmt.Errorf("add nodes: %w", err)
	}

	pred := kg.Predicate{
		UUID:        rel.UUID,
		Name:        rel.Name,
		Description: rel.Description,
		Properties:  rel.Properties,
		FlowKey:     rel.FlowKey,
		Amount:      rel.Amount,
		LastUpdated: time.Now().Unix(),
	}
	if err := d.Graph.AddRelationship(ctx, brainID, tail, pred, tip); err != nil {
		return fmt.Errorf("add relationship: %w", err)
	}
	return nil
}

// isNearDuplicate searches the relationships collection for the top-1
// neighbor of the just-embedded vector; a hit at cosine >= 0.90 sharing the
// same endpoint pair (either direction) marks rel as a near-duplicate of an
// already-ingested edge (spec §4.4 step 4, DESIGN.md's endpoint-identity
// Open Question resolution).
func (d *Dispatcher) isNearDuplicate(ctx context.Context, brainID, vectorID string, rel *kg.ArchitectRelationship) (bool, error) {
	if d.Vectors == nil {
		return false, nil
	}
	hits, err := d.Vectors.SearchSimilarByIDs(ctx, brainID, kg.CollectionRelationships, []string{vectorID}, nearDupSimilarity, 1)
	if err != nil {
		return false, fmt.Errorf("search near-duplicate relationships: %w", err)
	}
	if len(hits) == 0 {
		return false, nil
	}
	top := hits[0]
	nodeIDs, _ := top.Metadata["node_ids"].([]string)
	if len(nodeIDs) != 2 {
		return false, nil
	}
	a, b := nodeIDs[0], nodeIDs[1]
	sameEndpoints := (a == rel.Tail.UUID && b == rel.Tip.UUID) || (a == rel.Tip.UUID && b == rel.Tail.UUID)
	if !sameEndpoints {
		return false, nil
	}
	if err := d.Vectors.RemoveVectors(ctx, brainID, kg.CollectionRelationships, []string{vectorID}); err != nil {
		return false, fmt.Errorf("remove superseded relationship vector: %w", err)
	}
	return true, nil
}

func nodeFromRef(ref kg.EntityRef) kg.Node {
	return kg.Node{
		UUID:        ref.UUID,
		Labels:      []string{ref.Type},
		Name:        ref.Name,
		Description: ref.Description,
		Properties:  ref.Properties,
		Polarity:    ref.Polarity,
		HappenedAt:  ref.HappenedAt,
	}
}

func firstLabel(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return labels[0]
}

// handleConsolidateGraphAsync runs the Consolidation Orchestrator for one
// session (spec §4.5).
func (d *Dispatcher) handleConsolidateGraphAsync(ctx context.Context, env CommandEnvelope, taskID string) error {
	var payload ConsolidateGraphAsyncPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("tasks: decode consolidate_graph_async payload: %w", err)
	}
	detail, err := d.Consolidator.Run(ctx, payload.BrainID, payload.SessionID)
	if err != nil {
		return fmt.Errorf("tasks: consolidation run: %w", err)
	}
	observability.LoggerWithTrace(ctx).Info().
		Str("session_id", payload.SessionID).
		Int("effective_total_tokens", tokenaccount.Merge([]kg.TokenDetail{detail}).EffectiveTotal).
		Msg("consolidation_complete")
	return nil
}

func storeDataVector(ctx context.Context, d *Dispatcher, brainID string, vec kg.Vector) ([]string, error) {
	if d.Vectors == nil {
		return nil, fmt.Errorf("tasks: no vector store available to embed chunk")
	}
	return d.Vectors.AddVectors(ctx, brainID, kg.CollectionData, []kg.Vector{vec})
}
