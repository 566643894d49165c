// Package retrieval is the vector index over monthly unit summaries used to
// answer questions.
package retrieval

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stockpulse/internal/model"
)

// AnswerUnavailable is returned as the answer text when retrieval or
// generation fails.
const AnswerUnavailable = "Answer unavailable."

// ErrIndexConsistency means an add found a live document for its key. It
// signals a broken invariant inside the store, never a normal re-upsert.
var ErrIndexConsistency = eris.New("retrieval: duplicate document for key")

// ErrNotIndexed is returned by Delete for a key with no live document.
var ErrNotIndexed = eris.New("retrieval: key not indexed")

// Repository persists indexed documents so the index survives restarts.
type Repository interface {
	SaveDocument(ctx context.Context, doc model.IndexedDocument) error
	DeleteDocument(ctx context.Context, key model.UnitKey) error
	LoadDocuments(ctx context.Context) ([]model.IndexedDocument, error)
}

// Options configures a Store.
type Options struct {
	// Repository, when set, receives every upsert and backs Load.
	Repository Repository
	// Dimensions is the required embedding length.
	Dimensions int
}

// Result is one search hit.
type Result struct {
	Key      model.UnitKey `json:"key"`
	Text     string        `json:"text"`
	Distance float64       `json:"distance"`
}

// Answer is a generated answer and the context it drew on.
type Answer struct {
	Text     string   `json:"text"`
	Sources  []Result `json:"sources"`
	Degraded bool     `json:"degraded"`
}

type entry struct {
	doc model.IndexedDocument
	seq uint64
}

// Store holds at most one document per (company, month). Upserts are
// serialized; searches run concurrently under a read lock and never see a
// half-applied replace.
type Store struct {
	embedder  Embedder
	generator Generator
	opts      Options
	now       func() time.Time

	mu      sync.RWMutex
	entries []entry
	byKey   map[model.UnitKey]int
	nextSeq uint64
}

// New creates an empty Store.
func New(embedder Embedder, generator Generator, opts Options) *Store {
	return &Store{
		embedder:  embedder,
		generator: generator,
		opts:      opts,
		now:       time.Now,
		byKey:     make(map[model.UnitKey]int),
	}
}

// Upsert embeds text and stores it under key, replacing any existing
// document for key.
func (s *Store) Upsert(ctx context.Context, key model.UnitKey, text string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return eris.Wrapf(err, "retrieval: embed %s", key)
	}
	if err := s.checkDims(vec); err != nil {
		return err
	}

	doc := model.IndexedDocument{Key: key, Text: text, Embedding: vec, IndexedAt: s.now().UTC()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Repository != nil {
		if err := s.opts.Repository.SaveDocument(ctx, doc); err != nil {
			return eris.Wrapf(err, "retrieval: persist %s", key)
		}
	}
	s.remove(key)
	return s.add(doc)
}

// Search returns up to topK documents nearest to query by squared L2
// distance. Ties keep insertion order.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		return []Result{}, nil
	}

	var (
		vec []float32
		err error
	)
	if qe, ok := s.embedder.(QueryEmbedder); ok {
		vec, err = qe.EmbedQuery(ctx, query)
	} else {
		vec, err = s.embedder.Embed(ctx, query)
	}
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: embed query")
	}
	if err := s.checkDims(vec); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		e    entry
		dist float64
	}
	all := make([]scored, len(s.entries))
	for i, e := range s.entries {
		all[i] = scored{e: e, dist: squaredL2(vec, e.doc.Embedding)}
	}
	slices.SortFunc(all, func(a, b scored) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.e.seq, b.e.seq)
	})

	n := min(topK, len(all))
	out := make([]Result, n)
	for i := range n {
		out[i] = Result{Key: all[i].e.doc.Key, Text: all[i].e.doc.Text, Distance: all[i].dist}
	}
	return out, nil
}

// Delete removes the document for key from the index and the repository.
func (s *Store) Delete(ctx context.Context, key model.UnitKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[key]; !ok {
		return eris.Wrapf(ErrNotIndexed, "key %s", key)
	}
	if s.opts.Repository != nil {
		if err := s.opts.Repository.DeleteDocument(ctx, key); err != nil {
			return eris.Wrapf(err, "retrieval: delete %s", key)
		}
	}
	s.remove(key)
	return nil
}

// Answer retrieves context for query and asks the generator. Any failure
// yields AnswerUnavailable with Degraded set.
func (s *Store) Answer(ctx context.Context, query string, topK int) Answer {
	log := zap.L().With(zap.String("query", query))

	hits, err := s.Search(ctx, query, topK)
	if err != nil {
		log.Warn("retrieval: search failed", zap.Error(err))
		return Answer{Text: AnswerUnavailable, Degraded: true}
	}
	if s.generator == nil {
		log.Warn("retrieval: no generator configured")
		return Answer{Text: AnswerUnavailable, Sources: hits, Degraded: true}
	}

	text, err := s.generator.Generate(ctx, BuildPrompt(query, hits))
	if err != nil {
		log.Warn("retrieval: generation failed", zap.Error(err))
		return Answer{Text: AnswerUnavailable, Sources: hits, Degraded: true}
	}
	return Answer{Text: text, Sources: hits}
}

// BuildPrompt joins the hit texts as context for query.
func BuildPrompt(query string, hits []Result) string {
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}
	return "Context: " + strings.Join(texts, "\n") + "\n\nQuestion: " + query + "\nAnswer:"
}

// Load restores persisted documents without re-embedding. It replaces
// current contents and returns the number of documents loaded.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.opts.Repository == nil {
		return 0, nil
	}
	docs, err := s.opts.Repository.LoadDocuments(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "retrieval: load documents")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = s.entries[:0]
	s.byKey = make(map[model.UnitKey]int, len(docs))
	for _, doc := range docs {
		if err := s.checkDims(doc.Embedding); err != nil {
			zap.L().Warn("retrieval: skipping stored document",
				zap.String("key", doc.Key.String()), zap.Error(err))
			continue
		}
		s.remove(doc.Key)
		if err := s.add(doc); err != nil {
			return len(s.entries), err
		}
	}
	return len(s.entries), nil
}

// Len returns the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns the document for key.
func (s *Store) Get(key model.UnitKey) (model.IndexedDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byKey[key]
	if !ok {
		return model.IndexedDocument{}, false
	}
	return s.entries[i].doc, true
}

// remove drops key's document. Caller holds mu.
func (s *Store) remove(key model.UnitKey) {
	i, ok := s.byKey[key]
	if !ok {
		return
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	delete(s.byKey, key)
	for j := i; j < len(s.entries); j++ {
		s.byKey[s.entries[j].doc.Key] = j
	}
}

// add appends doc. Caller holds mu and has removed any previous document.
// Upsert and Load always remove first, so ErrIndexConsistency from here
// means byKey and entries have diverged; it is an assertion, not a
// replace path.
func (s *Store) add(doc model.IndexedDocument) error {
	if _, ok := s.byKey[doc.Key]; ok {
		zap.L().Error("retrieval: index consistency violation",
			zap.String("company", doc.Key.Company),
			zap.String("month", doc.Key.Month),
		)
		return eris.Wrapf(ErrIndexConsistency, "key %s", doc.Key)
	}
	s.nextSeq++
	s.entries = append(s.entries, entry{doc: doc, seq: s.nextSeq})
	s.byKey[doc.Key] = len(s.entries) - 1
	return nil
}

func (s *Store) checkDims(vec []float32) error {
	if s.opts.Dimensions > 0 && len(vec) != s.opts.Dimensions {
		return eris.Errorf("retrieval: embedding has %d dimensions, want %d", len(vec), s.opts.Dimensions)
	}
	if len(vec) == 0 {
		return eris.New("retrieval: empty embedding")
	}
	return nil
}

func squaredL2(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}
