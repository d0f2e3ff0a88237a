package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/RichardoC/tablechat/internal/models"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "TABLECHAT"

type Server struct {
	Addr          string        `mapstructure:"addr"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LLM struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

type Agent struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxRounds    int    `mapstructure:"max_rounds"`
	SearchK      int    `mapstructure:"search_k"`
}

type Config struct {
	Debug        bool                      `mapstructure:"debug"`
	Server       Server                    `mapstructure:"server"`
	LLM          LLM                       `mapstructure:"llm"`
	Agent        Agent                     `mapstructure:"agent"`
	VectorStores []models.VectorStoreProps `mapstructure:"vector_stores"`
	Databases    []models.DatabaseProps    `mapstructure:"databases"`
}

// New returns a viper instance with defaults and environment overrides set
// up. TABLECHAT_LLM_MODEL overrides llm.model, and so on; OPENAI_API_KEY is
// honored for llm.api_key.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("debug", false)
	v.SetDefault("server.addr", ":8100")
	v.SetDefault("server.session_ttl", 12*time.Hour)
	v.SetDefault("server.sweep_interval", 10*time.Minute)
	v.SetDefault("llm.base_url", "http://localhost:11434/v1/")
	v.SetDefault("llm.model", "llama3.1:8b")
	v.SetDefault("llm.embedding_model", "nomic-embed-text")
	v.SetDefault("agent.max_rounds", 6)
	v.SetDefault("agent.search_k", 3)
	v.SetDefault("vector_stores", []map[string]any{{"id": "default", "type": string(models.VectorStoreInMemory)}})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "OPENAI_API_KEY")
	return v
}

// Load reads .env (when present) and the optional config file into v and
// decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return errors.New("llm.base_url and llm.model are required")
	}
	for _, vs := range c.VectorStores {
		switch vs.Type {
		case models.VectorStoreInMemory, models.VectorStorePersistent, "":
		default:
			return errors.Errorf("vector store %s: unknown type %q", vs.ID, vs.Type)
		}
	}
	return nil
}
