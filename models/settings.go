package models

import "time"

// Settings is the pipeline configuration editable at runtime.
type Settings struct {
	ID                  string    `bson:"_id" json:"-"`
	VectorStoreEndpoint string    `bson:"vector_store_endpoint" json:"vector_store_endpoint"`
	EmbeddingProvider   string    `bson:"embedding_provider" json:"embedding_provider"`
	EmbeddingModel      string    `bson:"embedding_model" json:"embedding_model"`
	LLMProvider         string    `bson:"llm_provider" json:"llm_provider"`
	LLMModel            string    `bson:"llm_model" json:"llm_model"`
	ChunkSize           int       `bson:"chunk_size" json:"chunk_size"`
	ChunkOverlap        int       `bson:"chunk_overlap" json:"chunk_overlap"`
	MaxResults          int       `bson:"max_results" json:"max_results"`
	MinScore            float64   `bson:"min_score" json:"min_score"`
	Revision            int64     `bson:"revision" json:"revision"`
	UpdatedAt           time.Time `bson:"updated_at" json:"updated_at"`
}

// SettingsID is the key of the single settings document.
const SettingsID = "pipeline"

// SettingsPatch carries the fields a PUT /settings request may change.
type SettingsPatch struct {
	VectorStoreEndpoint *string  `json:"vector_store_endpoint"`
	EmbeddingProvider   *string  `json:"embedding_provider"`
	EmbeddingModel      *string  `json:"embedding_model"`
	LLMProvider         *string  `json:"llm_provider"`
	LLMModel            *string  `json:"llm_model"`
	ChunkSize           *int     `json:"chunk_size"`
	ChunkOverlap        *int     `json:"chunk_overlap"`
	MaxResults          *int     `json:"max_results"`
	MinScore            *float64 `json:"min_score"`
}

// ChangesEmbedding reports whether applying p to s changes the embedding
// provider or model.
func (p SettingsPatch) ChangesEmbedding(s *Settings) bool {
	if p.EmbeddingProvider != nil && *p.EmbeddingProvider != s.EmbeddingProvider {
		return true
	}
	return p.EmbeddingModel != nil && *p.EmbeddingModel != s.EmbeddingModel
}

// Apply returns a copy of s with the patch applied.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.VectorStoreEndpoint != nil {
		s.VectorStoreEndpoint = *p.VectorStoreEndpoint
	}
	if p.EmbeddingProvider != nil {
		s.EmbeddingProvider = *p.EmbeddingProvider
	}
	if p.EmbeddingModel != nil {
		s.EmbeddingModel = *p.EmbeddingModel
	}
	if p.LLMProvider != nil {
		s.LLMProvider = *p.LLMProvider
	}
	if p.LLMModel != nil {
		s.LLMModel = *p.LLMModel
	}
	if p.ChunkSize != nil {
		s.ChunkSize = *p.ChunkSize
	}
	if p.ChunkOverlap != nil {
		s.ChunkOverlap = *p.ChunkOverlap
	}
	if p.MaxResults != nil {
		s.MaxResults = *p.MaxResults
	}
	if p.MinScore != nil {
		s.MinScore = *p.MinScore
	}
	return s
}

// SettingsChange is the outcome of a settings update.
type SettingsChange struct {
	Settings        *Settings `json:"settings"`
	ReembedRequired bool      `json:"reembed_required"`
	Warning         string    `json:"warning,omitempty"`
}

// RAGStatus reports pipeline health.
type RAGStatus struct {
	Status         string `json:"status"`
	VectorBackend  string `json:"vector_backend"`
	VectorStore    string `json:"vector_store"`
	EmbeddingModel string `json:"embedding_model"`
	LLMModel       string `json:"llm_model"`
	LLMAvailable   bool   `json:"llm_available"`
	IngestMode     string `json:"ingest_mode"`
}
