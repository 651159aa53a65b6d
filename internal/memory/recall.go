package memory

import (
	"context"
	"math"
	"sort"
	"strings"
)

// EmbeddingProvider generates a vector for a chunk of text. Concrete
// implementations wrap whatever API runtime.Memory.EmbeddingProvider
// names (openai, gemini, openrouter); Recaller works with none at all
// and degrades to keyword-only recall.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Model() string
}

// Options tunes the hybrid recall scoring, mirroring runtime.Memory
// (§4.10) without importing internal/config to avoid a cycle.
type Options struct {
	MaxResults   int
	MaxChunkLen  int
	VectorWeight float64
	TextWeight   float64
	MinScore     float64
}

// Recaller implements the hybrid keyword+vector recall pipeline.
type Recaller struct {
	store    Store
	embedder EmbeddingProvider
	opts     Options
}

// NewRecaller builds a Recaller. embedder may be nil.
func NewRecaller(store Store, embedder EmbeddingProvider, opts Options) *Recaller {
	if opts.VectorWeight == 0 && opts.TextWeight == 0 {
		opts.VectorWeight, opts.TextWeight = 0.7, 0.3
	}
	return &Recaller{store: store, embedder: embedder, opts: opts}
}

type scored struct {
	item  Item
	score float64
}

// memoryIntentPhrases are explicit signals the caller wants something
// recalled, bypassing the low-signal short-circuit below even for a
// short or greeting-shaped query (§4.10).
var memoryIntentPhrases = []string{
	"remember", "previously", "last time", "you said", "we talked about",
	"we discussed", "recall", "do you know", "what did i",
}

// greetings are low-signal openers that, on their own, short-circuit
// recall to an empty result rather than spend a search on them.
var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yo": true, "sup": true,
	"thanks": true, "thank you": true, "ok": true, "okay": true, "k": true,
	"bye": true, "goodbye": true, "good morning": true, "good night": true,
	"lol": true, "cool": true, "nice": true, "np": true,
}

const lowSignalMaxWords = 3

// isLowSignalQuery reports whether query is too short or too
// greeting-shaped to be worth a recall search on its own (§4.10).
func isLowSignalQuery(query string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(query))
	trimmed = strings.Trim(trimmed, ".!? ")
	if trimmed == "" {
		return true
	}
	if greetings[trimmed] {
		return true
	}
	return len(strings.Fields(trimmed)) <= lowSignalMaxWords
}

// hasMemoryIntent reports whether query explicitly asks to recall
// something, which overrides isLowSignalQuery's short-circuit.
func hasMemoryIntent(query string) bool {
	lower := strings.ToLower(query)
	for _, p := range memoryIntentPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Recall returns up to maxTokens worth of the most relevant, mutually
// diverse memory items for query, scored by a weighted blend of FTS5
// keyword relevance and cosine similarity over embeddings (§4.10).
// Short or greeting-like queries yield no results unless they carry
// explicit memory intent ("remember", "previously", "last time", ...).
func (r *Recaller) Recall(ctx context.Context, groupFolder, query string, maxTokens int) ([]Item, error) {
	if isLowSignalQuery(query) && !hasMemoryIntent(query) {
		return nil, nil
	}

	limit := r.opts.MaxResults
	if limit <= 0 {
		limit = 20
	}

	keywordHits, err := r.store.KeywordSearch(ctx, groupFolder, query, limit*2)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*scored, len(keywordHits))
	for rank, it := range keywordHits {
		// bm25 rank position converted to a decaying [0,1] relevance —
		// sqlite's bm25() returns unbounded, smaller-is-better scores,
		// so rank order is the portable signal across sqlite builds.
		textScore := 1.0 / float64(rank+1)
		byID[it.ID] = &scored{item: it, score: r.opts.TextWeight * textScore}
	}

	if r.embedder != nil {
		queryVec, err := r.embedder.Embed(ctx, query)
		if err == nil {
			candidates, err := r.store.AllWithEmbeddings(ctx, groupFolder)
			if err == nil {
				for _, it := range candidates {
					sim := cosineSimilarity(queryVec, it.Embedding)
					if existing, ok := byID[it.ID]; ok {
						existing.score += r.opts.VectorWeight * sim
					} else {
						byID[it.ID] = &scored{item: it, score: r.opts.VectorWeight * sim}
					}
				}
			}
		}
	}

	candidates := make([]scored, 0, len(byID))
	for _, s := range byID {
		if s.score >= r.opts.MinScore {
			candidates = append(candidates, *s)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	diversified := diversify(candidates, limit)
	return packToBudget(diversified, maxTokens, r.opts.MaxChunkLen), nil
}

// diversify greedily selects candidates, skipping any whose content
// substantially overlaps an already-selected item's content (a
// keyword-shingle Jaccard check when no embeddings are present,
// cosine otherwise) so recall doesn't return five restatements of the
// same fact.
func diversify(candidates []scored, limit int) []Item {
	var selected []Item
	for _, c := range candidates {
		if len(selected) >= limit {
			break
		}
		redundant := false
		for _, s := range selected {
			if similar(c.item, s) {
				redundant = true
				break
			}
		}
		if !redundant {
			selected = append(selected, c.item)
		}
	}
	return selected
}

func similar(a, b Item) bool {
	const redundancyThreshold = 0.8
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosineSimilarity(a.Embedding, b.Embedding) >= redundancyThreshold
	}
	return jaccardShingles(a.Content, b.Content) >= redundancyThreshold
}

// packToBudget truncates the item list (already ranked by relevance)
// so the total packed length stays under maxTokens, estimating tokens
// at four characters each — the same rough heuristic runtime.Batch
// uses for PromptMaxChars.
func packToBudget(items []Item, maxTokens, maxChunkLen int) []Item {
	if maxTokens <= 0 {
		return items
	}
	budget := maxTokens * 4
	var out []Item
	used := 0
	for _, it := range items {
		content := it.Content
		if maxChunkLen > 0 && len(content) > maxChunkLen {
			content = content[:maxChunkLen]
			it.Content = content
		}
		if used+len(content) > budget {
			break
		}
		used += len(content)
		out = append(out, it)
	}
	return out
}

// BuildUserProfile renders a compact system-prompt block from the
// recalled items, grouped by tag, for injection ahead of the agent
// turn (§4.10).
func BuildUserProfile(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known context about this chat:\n")
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it.Content)
		if len(it.Tags) > 0 {
			b.WriteString(" [")
			b.WriteString(strings.Join(it.Tags, ", "))
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func jaccardShingles(a, b string) float64 {
	sa, sb := shingleSet(a), shingleSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if sb[w] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func shingleSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
