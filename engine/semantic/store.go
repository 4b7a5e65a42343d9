package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// snapshotSuffix matches the "_YYYYMMDDhhmmss" suffix appended to every
// timestamped snapshot collection name.
var snapshotSuffix = regexp.MustCompile(`_([0-9]{14})$`)

const snapshotTimeLayout = "20060102150405"

// VectorStore is the sole owner of all Qdrant operations: collection
// lifecycle, aliasing, and search with embedding performed internally,
// matching rag_core_api's QdrantDatabase wrapper rather than treating
// embedding as an upstream pipeline stage. Upload writes dense and sparse
// vectors; Search queries the dense vector only.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient

	alias          string
	dense          Embedder
	sparse         SparseEmbedder
	dims           uint64
	historyCount   int
}

// Config configures a VectorStore.
type Config struct {
	Addr           string
	Alias          string // the production-pointer alias, e.g. "rag"
	DenseEmbedder  Embedder
	SparseEmbedder SparseEmbedder
	Dims           uint64
	HistoryCount   int // snapshots retained by EvictOldest; 0 disables cleanup
}

// New dials Qdrant and returns a ready VectorStore.
func New(cfg Config) (*VectorStore, error) {
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", cfg.Addr, err)
	}
	return &VectorStore{
		conn:         conn,
		points:       pb.NewPointsClient(conn),
		collections:  pb.NewCollectionsClient(conn),
		alias:        cfg.Alias,
		dense:        cfg.DenseEmbedder,
		sparse:       cfg.SparseEmbedder,
		dims:         cfg.Dims,
		historyCount: cfg.HistoryCount,
	}, nil
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	return v.conn.Close()
}

func newSnapshotName(alias string) string {
	return fmt.Sprintf("%s_%s", alias, time.Now().UTC().Format(snapshotTimeLayout))
}

// Collections lists every collection name in the database.
func (v *VectorStore) Collections(ctx context.Context) ([]string, error) {
	resp, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("semantic: list collections: %w", err)
	}
	names := make([]string, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		names = append(names, c.GetName())
	}
	return names, nil
}

// AliasTarget is a (alias_name, collection_name) pair.
type AliasTarget struct {
	Alias      string
	Collection string
}

// Aliases lists every alias in the database.
func (v *VectorStore) Aliases(ctx context.Context) ([]AliasTarget, error) {
	resp, err := v.collections.ListAliases(ctx, &pb.ListAliasesRequest{})
	if err != nil {
		return nil, fmt.Errorf("semantic: list aliases: %w", err)
	}
	out := make([]AliasTarget, 0, len(resp.GetAliases()))
	for _, a := range resp.GetAliases() {
		out = append(out, AliasTarget{Alias: a.GetAliasName(), Collection: a.GetCollectionName()})
	}
	return out, nil
}

// aliasesOfInterest returns the alias entries pointing at v.alias, mirroring
// QdrantDatabase._get_aliases_of_interest.
func (v *VectorStore) aliasesOfInterest(ctx context.Context) ([]AliasTarget, error) {
	all, err := v.Aliases(ctx)
	if err != nil {
		return nil, err
	}
	var out []AliasTarget
	for _, a := range all {
		if a.Alias == v.alias {
			out = append(out, a)
		}
	}
	return out, nil
}

// AliasTargets returns the alias entries currently pointing at the
// production alias. Normal operation has exactly one; zero means the alias
// is unbound, more than one means the alias database is in a corrupt,
// ambiguous state.
func (v *VectorStore) AliasTargets(ctx context.Context) ([]AliasTarget, error) {
	return v.aliasesOfInterest(ctx)
}

// SortedSnapshots returns collection names prefixed by the production
// alias, sorted ascending by their embedded timestamp; latest is the last
// element. Returns ErrNoSuchCollection if none exist.
func (v *VectorStore) SortedSnapshots(ctx context.Context) ([]string, error) {
	all, err := v.Collections(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range all {
		if snapshotSuffix.MatchString(name) && hasPrefix(name, v.alias) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: alias %q", domain.ErrNoSuchCollection, v.alias)
	}
	sort.Slice(names, func(i, j int) bool {
		ti, _ := snapshotTime(names[i])
		tj, _ := snapshotTime(names[j])
		return ti.Before(tj)
	})
	return names, nil
}

func hasPrefix(name, prefix string) bool {
	return len(name) >= len(prefix) && name[:len(prefix)] == prefix
}

func snapshotTime(name string) (time.Time, error) {
	m := snapshotSuffix.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("semantic: %q has no snapshot suffix", name)
	}
	return time.Parse(snapshotTimeLayout, m[1])
}

// EnsureCollection creates a timestamped snapshot collection with named
// dense+sparse vectors if one does not already exist under the alias.
func (v *VectorStore) EnsureCollection(ctx context.Context) (string, error) {
	interest, err := v.aliasesOfInterest(ctx)
	if err != nil {
		return "", err
	}
	if len(interest) > 0 {
		return interest[0].Collection, nil
	}

	name := newSnapshotName(v.alias)
	if err := v.createCollection(ctx, name, nil); err != nil {
		return "", err
	}
	if err := v.bindAlias(ctx, name, v.alias); err != nil {
		return "", err
	}
	return name, nil
}

func (v *VectorStore) createCollection(ctx context.Context, name string, initFrom *string) error {
	req := &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{
					Map: map[string]*pb.VectorParams{
						denseVectorName: {Size: v.dims, Distance: pb.Distance_Cosine},
					},
				},
			},
		},
		SparseVectorsConfig: &pb.SparseVectorConfig{
			Map: map[string]*pb.SparseVectorParams{
				sparseVectorName: {},
			},
		},
	}
	if initFrom != nil {
		req.InitFromCollection = initFrom
	}
	if _, err := v.collections.Create(ctx, req); err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", name, err)
	}
	return nil
}

func (v *VectorStore) bindAlias(ctx context.Context, collection, alias string) error {
	_, err := v.collections.UpdateAliases(ctx, &pb.ChangeAliases{
		Actions: []*pb.AliasOperations{
			{
				Action: &pb.AliasOperations_CreateAlias{
					CreateAlias: &pb.CreateAlias{CollectionName: collection, AliasName: alias},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: bind alias %s -> %s: %w", alias, collection, err)
	}
	return nil
}

// CreateFrom creates targetCollection by copying the vector configuration
// and points of sourceCollection, mirroring create_collection_from.
func (v *VectorStore) CreateFrom(ctx context.Context, sourceCollection, targetCollection string) error {
	src := sourceCollection
	return v.createCollection(ctx, targetCollection, &src)
}

// Upload embeds and upserts pieces into the resolved target collection.
// Resolution order mirrors QdrantDatabase.upload: explicit snapshot name,
// then the alias's current collection, then a freshly created+aliased one.
func (v *VectorStore) Upload(ctx context.Context, pieces []domain.InformationPiece, targetCollection string) error {
	if len(pieces) == 0 {
		return nil
	}

	collection := targetCollection
	if collection == "" {
		resolved, err := v.EnsureCollection(ctx)
		if err != nil {
			return err
		}
		collection = resolved
	}

	points := make([]*pb.PointStruct, len(pieces))
	for i, p := range pieces {
		dense, err := v.dense.Embed(ctx, p.Text)
		if err != nil {
			return fmt.Errorf("semantic: embed piece %s: %w", p.ID, err)
		}
		vectors := &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vectors{
				Vectors: &pb.NamedVectors{
					Vectors: map[string]*pb.Vector{
						denseVectorName: {Data: dense},
					},
				},
			},
		}
		if v.sparse != nil {
			indices, values, err := v.sparse.EmbedSparse(ctx, p.Text)
			if err == nil && len(indices) > 0 {
				vectors.GetVectors().Vectors[sparseVectorName] = &pb.Vector{
					Data:    values,
					Indices: &pb.SparseIndices{Data: indices},
				}
			}
		}

		payload, err := piecePayload(p)
		if err != nil {
			return fmt.Errorf("semantic: build payload for %s: %w", p.ID, err)
		}

		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: vectors,
			Payload: payload,
		}
	}

	wait := true
	if _, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(points), collection, err)
	}
	return nil
}

func piecePayload(p domain.InformationPiece) (map[string]*pb.Value, error) {
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, err
	}
	relatedJSON, err := json.Marshal(p.Related)
	if err != nil {
		return nil, err
	}
	payload := map[string]*pb.Value{
		payloadContent: {Kind: &pb.Value_StringValue{StringValue: p.Text}},
		"id":           {Kind: &pb.Value_StringValue{StringValue: p.ID}},
		"type":         {Kind: &pb.Value_StringValue{StringValue: string(p.Type)}},
		"related":      {Kind: &pb.Value_StringValue{StringValue: string(relatedJSON)}},
		payloadMetadata: {Kind: &pb.Value_StringValue{StringValue: string(metaJSON)}},
		"chunk":        {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.Chunk)}},
		"chunk_length": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.ChunkLength)}},
	}
	if p.DocumentURL != "" {
		payload["document_url"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: p.DocumentURL}}
	}
	if p.Base64Image != "" {
		payload["base64_image"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: p.Base64Image}}
	}
	return payload, nil
}

func pointToPiece(payload map[string]*pb.Value) domain.InformationPiece {
	p := domain.InformationPiece{}
	if v, ok := payload["id"]; ok {
		p.ID = v.GetStringValue()
	}
	if v, ok := payload[payloadContent]; ok {
		p.Text = v.GetStringValue()
	}
	if v, ok := payload["type"]; ok {
		p.Type = domain.PieceType(v.GetStringValue())
	}
	if v, ok := payload["related"]; ok {
		_ = json.Unmarshal([]byte(v.GetStringValue()), &p.Related)
	}
	if v, ok := payload[payloadMetadata]; ok {
		_ = json.Unmarshal([]byte(v.GetStringValue()), &p.Metadata)
	}
	if v, ok := payload["chunk"]; ok {
		p.Chunk = int(v.GetIntegerValue())
	}
	if v, ok := payload["chunk_length"]; ok {
		p.ChunkLength = int(v.GetIntegerValue())
	}
	if v, ok := payload["document_url"]; ok {
		p.DocumentURL = v.GetStringValue()
	}
	if v, ok := payload["base64_image"]; ok {
		p.Base64Image = v.GetStringValue()
	}
	return p
}

// Delete removes points matching the given metadata filter from the
// resolved target collection, mirroring QdrantDatabase.delete.
func (v *VectorStore) Delete(ctx context.Context, filter map[string]string, targetCollection string) error {
	collection := targetCollection
	if collection == "" {
		interest, err := v.aliasesOfInterest(ctx)
		if err != nil {
			return err
		}
		if len(interest) == 0 {
			return fmt.Errorf("%w: alias %q has no collection", domain.ErrNoSuchCollection, v.alias)
		}
		collection = interest[0].Collection
	}

	must := make([]*pb.Condition, 0, len(filter))
	for k, val := range filter {
		must = append(must, fieldMatch(k, val))
	}

	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: &pb.Filter{Must: must}},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete from %s: %w", collection, err)
	}
	return nil
}

// GetByID scrolls the production collection for a single piece by its
// top-level "id" payload field, mirroring get_specific_document.
func (v *VectorStore) GetByID(ctx context.Context, id string) (domain.InformationPiece, bool, error) {
	resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: v.alias,
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("id", id)},
		},
		Limit:       ptrUint32(1),
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return domain.InformationPiece{}, false, fmt.Errorf("semantic: scroll for id %s: %w", id, err)
	}
	points := resp.GetResult()
	if len(points) == 0 {
		return domain.InformationPiece{}, false, nil
	}
	return pointToPiece(points[0].GetPayload()), true, nil
}

// All pages through every point in the production alias via Scroll,
// feeding retrieval quarks (e.g. the lexical quark) that need the full
// corpus rather than a vector similarity ranking.
func (v *VectorStore) All(ctx context.Context) ([]domain.InformationPiece, error) {
	var pieces []domain.InformationPiece
	var offset *pb.PointId

	for {
		req := &pb.ScrollPoints{
			CollectionName: v.alias,
			Limit:          ptrUint32(256),
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		}
		if offset != nil {
			req.Offset = offset
		}
		resp, err := v.points.Scroll(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("semantic: scroll all: %w", err)
		}
		points := resp.GetResult()
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			pieces = append(pieces, pointToPiece(p.GetPayload()))
		}
		next := resp.GetNextPageOffset()
		if next == nil {
			break
		}
		offset = next
	}
	return pieces, nil
}

// Search performs dense-vector similarity search against the production
// alias (the sparse vectors written on Upload are not queried) and, when
// requested, expands each hit with its single hop of related pieces
// (callers dedup; see engine/retriever).
func (v *VectorStore) Search(ctx context.Context, req SearchRequest) ([]SearchHit, error) {
	denseVec, err := v.dense.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	topK := uint64(req.TopK)
	if topK == 0 {
		topK = 10
	}

	search := &pb.SearchPoints{
		CollectionName: v.alias,
		Vector:         denseVec,
		VectorName:     ptrString(denseVectorName),
		Limit:          topK,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(req.Filter) > 0 {
		must := make([]*pb.Condition, 0, len(req.Filter))
		for k, val := range req.Filter {
			must = append(must, fieldMatch("metadata."+k, val))
		}
		search.Filter = &pb.Filter{Must: must}
	}

	resp, err := v.points.Search(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]SearchHit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		piece := pointToPiece(r.GetPayload())
		if req.SkipSummary && piece.Type == domain.PieceSummary {
			continue
		}
		hits = append(hits, SearchHit{Piece: piece, Score: r.GetScore()})
	}

	if req.WithRelated {
		expanded, err := v.expandRelated(ctx, hits)
		if err != nil {
			return nil, err
		}
		hits = append(hits, expanded...)
	}

	return hits, nil
}

func (v *VectorStore) expandRelated(ctx context.Context, hits []SearchHit) ([]SearchHit, error) {
	var out []SearchHit
	for _, h := range hits {
		for _, id := range h.Piece.Related {
			piece, found, err := v.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if found {
				out = append(out, SearchHit{Piece: piece, Score: h.Score})
			}
		}
	}
	return out, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func ptrString(s string) *string { return &s }
func ptrUint32(u uint32) *uint32 { return &u }

// Alias returns the production-pointer alias this store is bound to.
func (v *VectorStore) Alias() string { return v.alias }

// DeleteCollection drops a collection outright. Used by EvictOldest.
func (v *VectorStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", name, err)
	}
	return nil
}

// SwitchAlias repoints the production alias at targetCollection, mirroring
// switch_collections: a no-op (reported through noop, not an error) when the alias already
// points there, otherwise an atomic delete+create of the alias binding.
func (v *VectorStore) SwitchAlias(ctx context.Context, targetCollection string) (noop bool, err error) {
	interest, err := v.aliasesOfInterest(ctx)
	if err != nil {
		return false, err
	}
	if len(interest) == 1 && interest[0].Collection == targetCollection {
		return true, nil
	}

	actions := []*pb.AliasOperations{
		{
			Action: &pb.AliasOperations_CreateAlias{
				CreateAlias: &pb.CreateAlias{CollectionName: targetCollection, AliasName: v.alias},
			},
		},
	}
	if len(interest) > 0 {
		actions = append([]*pb.AliasOperations{{
			Action: &pb.AliasOperations_DeleteAlias{
				DeleteAlias: &pb.DeleteAlias{AliasName: v.alias},
			},
		}}, actions...)
	}

	if _, err := v.collections.UpdateAliases(ctx, &pb.ChangeAliases{Actions: actions}); err != nil {
		return false, fmt.Errorf("semantic: switch alias %s -> %s: %w", v.alias, targetCollection, err)
	}
	return false, nil
}

// HistoryCount returns the configured number of snapshots EvictOldest keeps.
func (v *VectorStore) HistoryCount() int { return v.historyCount }

// Ready reports whether the production alias points at a collection and
// that collection holds at least one point, the readiness gate engine/retriever
// checks before running any quark.
func (v *VectorStore) Ready(ctx context.Context) (bool, error) {
	aliases, err := v.aliasesOfInterest(ctx)
	if err != nil {
		return false, err
	}
	if len(aliases) == 0 {
		return false, nil
	}
	resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: v.alias,
		Limit:          ptrUint32(1),
	})
	if err != nil {
		return false, fmt.Errorf("semantic: readiness scroll: %w", err)
	}
	return len(resp.GetResult()) > 0, nil
}
