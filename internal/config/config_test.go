package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置加载失败: %v", err)
	}
	if cfg.Server.ListenAddr != ":5050" {
		t.Fatalf("默认监听地址不正确: %s", cfg.Server.ListenAddr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("默认驱动应为 sqlite: %s", cfg.Database.Driver)
	}
	if cfg.Cache.Grid != 5*time.Minute {
		t.Fatalf("默认网格应为 5m: %s", cfg.Cache.Grid)
	}
	if cfg.Cache.Timezone != "Australia/Sydney" {
		t.Fatalf("默认时区不正确: %s", cfg.Cache.Timezone)
	}
	if cfg.Freshness.PriceFresh != 15*time.Minute {
		t.Fatalf("价格新鲜阈值不正确: %s", cfg.Freshness.PriceFresh)
	}
	if cfg.Freshness.UsageLagging != 4*time.Hour {
		t.Fatalf("用量滞后阈值不正确: %s", cfg.Freshness.UsageLagging)
	}
	if cfg.Forecast.MaxHours != 6 {
		t.Fatalf("预报上限应为 6: %d", cfg.Forecast.MaxHours)
	}
	if cfg.Amber.Credentialed() {
		t.Fatal("未配置 token 时不应视为有凭据")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  listen_addr: ":8080"
amber:
  token: "abc"
  site_id: "site-1"
cache:
  timezone: "UTC"
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("写配置文件失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("文件值应覆盖默认值: %s", cfg.Server.ListenAddr)
	}
	if !cfg.Amber.Credentialed() {
		t.Fatal("token 与 site_id 齐全时应视为有凭据")
	}
	loc, err := cfg.Cache.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("时区解析不正确: %v %v", loc, err)
	}
}

func TestLoadCredentialsFromEnv(t *testing.T) {
	t.Setenv("HOMEWATT_AMBER_TOKEN", "env-token")
	t.Setenv("HOMEWATT_AMBER_SITE_ID", "env-site")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Amber.Token != "env-token" {
		t.Fatalf("环境变量 token 未生效: %q", cfg.Amber.Token)
	}
	if cfg.Amber.SiteID != "env-site" {
		t.Fatalf("环境变量 site_id 未生效: %q", cfg.Amber.SiteID)
	}
	if !cfg.Amber.Credentialed() {
		t.Fatal("仅靠环境变量配置凭据时应视为有凭据")
	}
}

func TestLoadDSNFromEnv(t *testing.T) {
	t.Setenv("HOMEWATT_DATABASE_DSN", "postgres://env-host/db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Database.DSN != "postgres://env-host/db" {
		t.Fatalf("环境变量 dsn 未生效: %q", cfg.Database.DSN)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("默认配置加载失败: %v", err)
		}
		return cfg
	}

	cfg := base(t)
	cfg.Database.Driver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatal("未知驱动应校验失败")
	}

	cfg = base(t)
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres 缺 DSN 应校验失败")
	}

	cfg = base(t)
	cfg.Cache.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("非法时区应校验失败")
	}

	cfg = base(t)
	cfg.Freshness.UsageLagging = cfg.Freshness.UsageFresh
	if err := cfg.Validate(); err == nil {
		t.Fatal("滞后阈值不大于新鲜阈值应校验失败")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置加载失败: %v", err)
	}
	if got := cfg.ResolveMaxPoints(0); got != cfg.Export.MaxDataPoints {
		t.Fatalf("无覆盖时应用配置值: %d", got)
	}
	if got := cfg.ResolveMaxPoints(500); got != 500 {
		t.Fatalf("覆盖值应优先: %d", got)
	}
}
