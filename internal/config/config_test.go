package config

import "testing"

func TestDefaultReturnsDocumentedDefaults(t *testing.T) {
	cfg := Default()
	if cfg.OutputDir != "output" || cfg.LM.Provider != "mock" || cfg.Server.Port != 8080 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.EventBus.Enabled {
		t.Error("expected event bus enabled by default")
	}
}

func TestLoadMissingFileAppliesEnvOnly(t *testing.T) {
	t.Setenv("BACKEND_PORT", "9100")
	t.Setenv("EVENT_BUS_ENABLED", "false")
	t.Setenv("EVENT_BUS_PORT", "4222")

	cfg, err := Load("/does/not/exist.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected port overridden to 9100, got %d", cfg.Server.Port)
	}
	if cfg.EventBus.Enabled {
		t.Error("expected event bus disabled by env override")
	}
	if cfg.EventBus.Port != 4222 {
		t.Errorf("expected event bus port 4222, got %d", cfg.EventBus.Port)
	}
}

func TestApplyEnvUseRealLMSwitchesProvider(t *testing.T) {
	t.Setenv("USE_REAL_LM", "true")
	t.Setenv("LM_API_KEY", "secret")
	t.Setenv("LM_MODEL", "gpt-test")

	cfg := Default()
	applyEnv(cfg)

	if cfg.LM.Provider != "real" {
		t.Errorf("expected provider real, got %s", cfg.LM.Provider)
	}
	if cfg.LM.APIKey != "secret" || cfg.LM.Model != "gpt-test" {
		t.Errorf("expected api key/model applied, got %+v", cfg.LM)
	}
}
