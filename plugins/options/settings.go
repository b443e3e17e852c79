package options

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/YJPM/ti-options/plugins/options/llm"
)

// Click behaviours for option buttons.
const (
	SendModeAuto   = "auto"   // write to composer and send
	SendModeManual = "manual" // write to composer only
	SendModeMulti  = "multi"  // toggle selection, composer holds the joined selection
)

// Pace and plot modes steer the generated options.
const (
	ModeNormal = "normal"
	PaceFast   = "fast"
	PaceSlow   = "slow"
	PlotTwist  = "twist"
	PlotCalm   = "calm"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 50
)

// DefaultTemplate asks for options wrapped in 【】.
const DefaultTemplate = `你是一位创意写作助手，根据当前对话为用户提供下一步回复的建议。

角色设定：
{{char_card}}

世界信息：
{{world_info}}

最近对话：
{{context}}

用户正在输入：{{user_input}}

请给出 3 到 5 个简短、风格各异的回复选项，第一个为最推荐的选项。每个选项用【】包裹，不要输出其他内容。`

// Settings is the extension's persisted settings record. JSON names are the
// keys used in host storage.
type Settings struct {
	Enabled          bool   `json:"enabled"`
	ShowCharName     bool   `json:"showCharName"`
	AnimationEnabled bool   `json:"animationEnabled"`
	CustomText       string `json:"customText"`
	Debug            bool   `json:"debug"`

	OptionsGenEnabled bool   `json:"optionsGenEnabled"`
	OptionsAPIType    string `json:"optionsApiType"`
	OptionsAPIKey     string `json:"optionsApiKey"`
	OptionsAPIModel   string `json:"optionsApiModel"`
	OptionsBaseURL    string `json:"optionsBaseUrl"`
	OptionsTemplate   string `json:"optionsTemplate"`

	SendMode      string `json:"sendMode"`
	PaceMode      string `json:"paceMode"`
	PlotMode      string `json:"plotMode"`
	StreamOptions bool   `json:"streamOptions"`
	HistoryLimit  int    `json:"historyLimit"`
}

// DefaultSettings returns the compiled-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:          true,
		ShowCharName:     true,
		AnimationEnabled: true,
		CustomText:       "正在输入…",
		Debug:            false,

		OptionsGenEnabled: false,
		OptionsAPIType:    llm.APITypeOpenAI,
		OptionsAPIKey:     "",
		OptionsAPIModel:   "gpt-4o-mini",
		OptionsBaseURL:    llm.DefaultOpenAIBaseURL,
		OptionsTemplate:   DefaultTemplate,

		SendMode:      SendModeAuto,
		PaceMode:      ModeNormal,
		PlotMode:      ModeNormal,
		StreamOptions: false,
		HistoryLimit:  defaultHistoryLimit,
	}
}

// Validate rejects values outside the accepted enums.
func (s Settings) Validate() error {
	switch s.OptionsAPIType {
	case llm.APITypeOpenAI, llm.APITypeGemini:
	default:
		return fmt.Errorf("optionsApiType must be openai or gemini, got %q", s.OptionsAPIType)
	}
	switch s.SendMode {
	case SendModeAuto, SendModeManual, SendModeMulti:
	default:
		return fmt.Errorf("sendMode must be auto, manual or multi, got %q", s.SendMode)
	}
	switch s.PaceMode {
	case ModeNormal, PaceFast, PaceSlow:
	default:
		return fmt.Errorf("invalid paceMode %q", s.PaceMode)
	}
	switch s.PlotMode {
	case ModeNormal, PlotTwist, PlotCalm:
	default:
		return fmt.Errorf("invalid plotMode %q", s.PlotMode)
	}
	return nil
}

// Limit returns HistoryLimit clamped to 1..50, with 0 meaning the default.
func (s Settings) Limit() int {
	switch {
	case s.HistoryLimit == 0:
		return defaultHistoryLimit
	case s.HistoryLimit < 1:
		return 1
	case s.HistoryLimit > maxHistoryLimit:
		return maxHistoryLimit
	}
	return s.HistoryLimit
}

// LLMConfig maps the API settings to a provider configuration.
func (s Settings) LLMConfig() llm.Config {
	return llm.Config{
		APIType: s.OptionsAPIType,
		APIKey:  s.OptionsAPIKey,
		Model:   s.OptionsAPIModel,
		BaseURL: s.OptionsBaseURL,
		Stream:  s.StreamOptions,
	}
}

// Masked returns a copy safe to hand to clients.
func (s Settings) Masked() Settings {
	s.OptionsAPIKey = MaskAPIKey(s.OptionsAPIKey)
	return s
}

// SettingsBackend is the host storage the settings live in. The plugin's
// ConfigStore satisfies it.
type SettingsBackend interface {
	Values() (map[string]string, error)
	SetMany(values map[string]string) error
}

// SettingsStore loads and saves Settings through a backend.
type SettingsStore struct {
	mu      sync.Mutex
	backend SettingsBackend
	secret  string // API key encryption secret
	logger  *slog.Logger
}

// NewSettingsStore creates a store over backend.
func NewSettingsStore(backend SettingsBackend, secret string, logger *slog.Logger) *SettingsStore {
	return &SettingsStore{backend: backend, secret: secret, logger: logger}
}

// Load merges stored values over the defaults. Keys missing from storage are
// backfilled and persisted; stored keys unknown to this version are left in
// place. If storage cannot be read the defaults are returned for this call
// and nothing is written.
func (s *SettingsStore) Load() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.backend.Values()
	if err != nil {
		s.logger.Error("settings store unavailable, using defaults", "err", err)
		return DefaultSettings()
	}

	merged, missing := mergeSettings(DefaultSettings(), stored)

	if key, ok := stored["optionsApiKey"]; ok {
		plain, err := Decrypt(key, s.secret)
		if err != nil {
			s.logger.Warn("stored api key unreadable, ignoring it", "err", err)
			plain = ""
		}
		merged.OptionsAPIKey = plain
	}

	if len(missing) > 0 {
		values, err := s.encode(merged)
		if err != nil {
			s.logger.Error("encode settings", "err", err)
			return merged
		}
		backfill := make(map[string]string, len(missing))
		for _, k := range missing {
			backfill[k] = values[k]
		}
		if err := s.backend.SetMany(backfill); err != nil {
			s.logger.Warn("backfill settings", "keys", missing, "err", err)
		}
	}
	return merged
}

// Save writes the whole record.
func (s *SettingsStore) Save(st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.encode(st)
	if err != nil {
		return err
	}
	if err := s.backend.SetMany(values); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Update applies a client-supplied record. A masked API key keeps the
// stored one.
func (s *SettingsStore) Update(st Settings) (Settings, error) {
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}
	if isMasked(st.OptionsAPIKey) {
		st.OptionsAPIKey = s.Load().OptionsAPIKey
	}
	if err := s.Save(st); err != nil {
		return Settings{}, err
	}
	return st, nil
}

// Reset writes the defaults and returns them.
func (s *SettingsStore) Reset() (Settings, error) {
	d := DefaultSettings()
	if err := s.Save(d); err != nil {
		return Settings{}, err
	}
	return d, nil
}

func (s *SettingsStore) encode(st Settings) (map[string]string, error) {
	values := settingsToValues(st)
	enc, err := Encrypt(st.OptionsAPIKey, s.secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt api key: %w", err)
	}
	values["optionsApiKey"] = enc
	return values, nil
}

// settingsToValues flattens st to storage strings keyed by JSON name.
func settingsToValues(st Settings) map[string]string {
	fields := settingsFields(st)
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case bool:
			out[k] = strconv.FormatBool(x)
		case float64:
			out[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case string:
			out[k] = x
		}
	}
	return out
}

// mergeSettings overlays stored strings on defaults, typed by the default
// value of each key. It returns the merged record and the sorted keys that
// were absent or unparsable.
func mergeSettings(defaults Settings, stored map[string]string) (Settings, []string) {
	fields := settingsFields(defaults)
	var missing []string
	for k, def := range fields {
		raw, ok := stored[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		switch def.(type) {
		case bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				missing = append(missing, k)
				continue
			}
			fields[k] = b
		case float64:
			n, err := strconv.Atoi(raw)
			if err != nil {
				missing = append(missing, k)
				continue
			}
			fields[k] = n
		default:
			fields[k] = raw
		}
	}
	sort.Strings(missing)

	var out Settings
	raw, _ := json.Marshal(fields)
	if err := json.Unmarshal(raw, &out); err != nil {
		return defaults, missing
	}
	return out, missing
}

func settingsFields(st Settings) map[string]any {
	raw, _ := json.Marshal(st)
	var m map[string]any
	json.Unmarshal(raw, &m)
	return m
}
