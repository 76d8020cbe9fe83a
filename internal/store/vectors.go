package store

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// SaveEmbedding persists an embedding under its cache key. Saving the
// same key again replaces the row, matching second-write-wins upstream.
func (s *SQLiteStore) SaveEmbedding(rec *MediaRecord, vector []float32) error {
	vecBuf := new(bytes.Buffer)
	if err := binary.Write(vecBuf, binary.LittleEndian, vector); err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}

	query := `INSERT INTO media (key, modality, owner_id, transcript, confidence, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			modality = excluded.modality,
			owner_id = excluded.owner_id,
			transcript = excluded.transcript,
			confidence = excluded.confidence,
			vector = excluded.vector`
	_, err := s.db.Exec(query, rec.Key, rec.Modality, rec.OwnerID, rec.Transcript, rec.Confidence, vecBuf.Bytes(), rec.CreatedAt)
	return err
}

func (s *SQLiteStore) GetEmbedding(key string) (*MediaRecord, []float32, error) {
	row := s.db.QueryRow(`SELECT key, modality, owner_id, transcript, confidence, vector, created_at FROM media WHERE key = ?`, key)

	var rec MediaRecord
	var vecBlob []byte
	if err := row.Scan(&rec.Key, &rec.Modality, &rec.OwnerID, &rec.Transcript, &rec.Confidence, &vecBlob, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("embedding not found: %s", key)
		}
		return nil, nil, err
	}

	vector := make([]float32, len(vecBlob)/4)
	if err := binary.Read(bytes.NewReader(vecBlob), binary.LittleEndian, &vector); err != nil {
		return nil, nil, fmt.Errorf("failed to decode vector: %w", err)
	}
	return &rec, vector, nil
}

// FindSimilar ranks persisted embeddings by cosine similarity against the
// query vector. Naive full scan; fine for local stores.
func (s *SQLiteStore) FindSimilar(queryVector []float32, limit int) ([]SimilarMedia, error) {
	rows, err := s.db.Query(`SELECT key, modality, owner_id, transcript, confidence, vector, created_at FROM media`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []SimilarMedia
	for rows.Next() {
		var rec MediaRecord
		var vecBlob []byte
		if err := rows.Scan(&rec.Key, &rec.Modality, &rec.OwnerID, &rec.Transcript, &rec.Confidence, &vecBlob, &rec.CreatedAt); err != nil {
			continue
		}

		vector := make([]float32, len(vecBlob)/4)
		if err := binary.Read(bytes.NewReader(vecBlob), binary.LittleEndian, &vector); err != nil {
			continue
		}

		scored = append(scored, SimilarMedia{
			Record:     rec,
			Similarity: cosineSimilarity(queryVector, vector),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, rows.Err()
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}
	var dot, magA, magB float32
	for i := 0; i < len(a); i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0.0
	}
	return dot / (float32(math.Sqrt(float64(magA))) * float32(math.Sqrt(float64(magB))))
}
