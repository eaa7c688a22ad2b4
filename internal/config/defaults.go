package config

// Defaults returns a config with documented defaults. Numeric choices
// (top-k, similarity floor, chunk sizes, retry bounds) are tunable policy,
// not hard rules.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.voxrag/data",
			LogLevel: "info",
		},
		LLM: LLMConfig{
			BackendConfig: BackendConfig{
				Kind:  "ollama",
				Model: "llama3.1:8b",
			},
			Temperature:    0.7,
			MaxTokens:      2000,
			TimeoutSeconds: 60,
			MaxRetries:     2,
		},
		Embedding: EmbeddingConfig{
			Kind:            "hash",
			Dimension:       256,
			CacheTTLSeconds: 600,
		},
		Index: IndexConfig{
			Metric:       "cosine",
			SnapshotPath: "~/.voxrag/data/index.db",
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinScore:      0.25,
			MinQueryWords: 3,
		},
		Context: ContextConfig{
			BudgetChars: 4000,
			HistoryCap:  40,
		},
		Documents: DocumentsConfig{
			Dir:          "~/.voxrag/documents",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Watch:        false,
		},
		Audio: AudioConfig{
			Enabled: false,
			STT: STTConfig{
				Model: "whisper-1",
			},
			TTS: TTSConfig{
				Kind:  "openai",
				Model: "tts-1",
				Voice: "alloy",
			},
		},
	}
}
