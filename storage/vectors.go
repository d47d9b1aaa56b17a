package storage

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// VectorRepository keeps one normalised embedding per task and answers
// brute-force cosine similarity queries.
type VectorRepository struct {
	s *Storage
}

// Match is a task scored against a query vector.
type Match struct {
	TaskID     string  `json:"taskId"`
	Similarity float64 `json:"similarity"`
}

// Upsert stores the embedding of a task, replacing any previous one.
func (r *VectorRepository) Upsert(ctx context.Context, taskID string, vector []float32) error {
	normalized := normalize(vector)
	_, err := r.s.exec(ctx, r.s.db,
		`INSERT INTO task_embeddings (task_id, embedding, dimensions, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (task_id) DO UPDATE SET
		   embedding = excluded.embedding, dimensions = excluded.dimensions, updated_at = excluded.updated_at`,
		taskID, float32ToBlob(normalized), len(normalized), r.s.now())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Search returns up to limit tasks of ownerID whose similarity to query is at
// least threshold, best first.
func (r *VectorRepository) Search(ctx context.Context, ownerID string, query []float32, threshold float64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	q := normalize(query)
	rows, err := r.s.query(ctx, r.s.db,
		`SELECT e.task_id, e.embedding, e.dimensions FROM task_embeddings e
		 JOIN tasks t ON t.id = e.task_id
		 JOIN lists l ON l.id = t.list_id
		 JOIN boards b ON b.id = l.board_id
		 WHERE b.owner_id = ? AND b.is_archived = ?`, ownerID, false)
	if err != nil {
		return nil, fmt.Errorf("select embeddings: %w", err)
	}
	defer rows.Close()

	h := &minHeap{}
	for rows.Next() {
		var (
			id   string
			blob []byte
			dims int
		)
		if err := rows.Scan(&id, &blob, &dims); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec := blobToFloat32(blob, dims)
		if len(vec) != len(q) {
			continue
		}
		score := dotProduct(q, vec)
		if score < threshold {
			continue
		}
		if h.Len() < limit {
			heap.Push(h, Match{TaskID: id, Similarity: score})
		} else if score > (*h)[0].Similarity {
			(*h)[0] = Match{TaskID: id, Similarity: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	return out, nil
}

type minHeap []Match

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].Similarity < h[j].Similarity }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	norm = math.Sqrt(norm)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func float32ToBlob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func blobToFloat32(b []byte, dims int) []float32 {
	if len(b) < dims*4 {
		dims = len(b) / 4
	}
	out := make([]float32, dims)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
