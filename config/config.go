// Package config holds the audasnap configuration: YAML file, environment
// overrides and defaults. Vendor selectors live here rather than in code.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level audasnap configuration.
type Config struct {
	Listen   string        `yaml:"listen"`
	LogLevel string        `yaml:"log_level"`
	Browser  BrowserConfig `yaml:"browser"`
	Session  SessionConfig `yaml:"session"`
	Site     SiteConfig    `yaml:"site"`
	Walk     WalkConfig    `yaml:"walk"`
	Archive  ArchiveConfig `yaml:"archive"`
	Journal  JournalConfig `yaml:"journal"`
	Mirror   MirrorConfig  `yaml:"mirror"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Bin              string   `yaml:"bin"`
	Stealth          string   `yaml:"stealth"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
	UserAgent        string   `yaml:"user_agent"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// SessionConfig controls cookie reuse and form login.
type SessionConfig struct {
	CookieFile    string `yaml:"cookie_file"`
	EncryptionKey string `yaml:"encryption_key"` // 32+ chars enables sealed cookie files
	LoginAttempts int    `yaml:"login_attempts"`
}

// SiteConfig describes the vendor application: entry URL, step names and selectors.
type SiteConfig struct {
	BaseURL        string    `yaml:"base_url"`
	LoggedInMarker string    `yaml:"logged_in_marker"`
	VINStep        string    `yaml:"vin_step"`
	DamageStep     string    `yaml:"damage_step"`
	Selectors      Selectors `yaml:"selectors"`
}

// Selectors are the vendor CSS selectors and element ids the workflow depends on.
type Selectors struct {
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Submit          string `yaml:"submit"`
	Captcha         string `yaml:"captcha"`
	Table           string `yaml:"table"`
	Rows            string `yaml:"rows"`
	ConfirmModal    string `yaml:"confirm_modal"`
	ViewsLink       string `yaml:"views_link"`
	SearchBox       string `yaml:"search_box"`
	MoreIcon        string `yaml:"more_icon"`
	OpenTask        string `yaml:"open_task"`
	VINInput        string `yaml:"vin_input"`
	DamageFrame     string `yaml:"damage_frame"`
	FrameConfirm    string `yaml:"frame_confirm"`
	Breadcrumb      string `yaml:"breadcrumb"`
	SheetBreadcrumb string `yaml:"sheet_breadcrumb"`
	ZoneTree        string `yaml:"zone_tree"`
	ZoneItem        string `yaml:"zone_item"`
	ZoneDescPrefix  string `yaml:"zone_desc_prefix"`
	SheetPrefix     string `yaml:"sheet_prefix"`
	PictogramGrid   string `yaml:"pictogram_grid"`
	PictogramSect   string `yaml:"pictogram_section"`
	PictogramSVG    string `yaml:"pictogram_svg"`
}

// WalkConfig bounds waits and retries during the zone walk.
type WalkConfig struct {
	PageTimeout      time.Duration `yaml:"page_timeout"`
	ShortTimeout     time.Duration `yaml:"short_timeout"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	Settle           time.Duration `yaml:"settle"`
	ZoneClickRetries int           `yaml:"zone_click_retries"`
}

// ArchiveConfig controls the on-disk output tree.
type ArchiveConfig struct {
	Root           string        `yaml:"root"`
	URLPrefix      string        `yaml:"url_prefix"`
	KeepRecords    int           `yaml:"keep_records"`
	SVGZip         bool          `yaml:"svg_zip"`
	ScreenshotsPDF bool          `yaml:"screenshots_pdf"`
	CacheSize      int           `yaml:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// JournalConfig locates the SQLite run journal.
type JournalConfig struct {
	DBPath string `yaml:"db_path"`
}

// MirrorConfig configures the optional S3-compatible archive mirror.
// An empty Endpoint disables mirroring.
type MirrorConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// NotifyConfig lists webhooks called after each archived run.
type NotifyConfig struct {
	Webhooks []string      `yaml:"webhooks"`
	Retries  int           `yaml:"retries"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML configuration file, applies defaults and then
// environment overrides. An empty path yields the defaults.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overrides fields from AUDASNAP_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("AUDASNAP_LISTEN", &c.Listen)
	str("AUDASNAP_LOG_LEVEL", &c.LogLevel)
	str("AUDASNAP_BROWSER_REMOTE", &c.Browser.Remote)
	str("AUDASNAP_BROWSER_BIN", &c.Browser.Bin)
	str("AUDASNAP_BROWSER_STEALTH", &c.Browser.Stealth)
	str("AUDASNAP_COOKIE_FILE", &c.Session.CookieFile)
	str("AUDASNAP_COOKIE_KEY", &c.Session.EncryptionKey)
	str("AUDASNAP_BASE_URL", &c.Site.BaseURL)
	str("AUDASNAP_ARCHIVE_ROOT", &c.Archive.Root)
	str("AUDASNAP_JOURNAL_DB", &c.Journal.DBPath)
	str("AUDASNAP_S3_ENDPOINT", &c.Mirror.Endpoint)
	str("AUDASNAP_S3_ACCESS_KEY", &c.Mirror.AccessKey)
	str("AUDASNAP_S3_SECRET_KEY", &c.Mirror.SecretKey)
	str("AUDASNAP_S3_BUCKET", &c.Mirror.Bucket)
	if v := getenv("AUDASNAP_S3_USE_SSL"); v != "" {
		c.Mirror.UseSSL, _ = strconv.ParseBool(v)
	}
	if v := getenv("AUDASNAP_WEBHOOKS"); v != "" {
		c.Notify.Webhooks = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 YaBrowser/24.7.0.0 Safari/537.36"
	}
	if c.Session.CookieFile == "" {
		c.Session.CookieFile = "cookies.json"
	}
	if c.Session.LoginAttempts <= 0 {
		c.Session.LoginAttempts = 2
	}
	if c.Site.BaseURL == "" {
		c.Site.BaseURL = "https://www.audatex.ru/breclient/ui?process=NO_PROCESS&step=WorkListGrid#"
	}
	if c.Site.LoggedInMarker == "" {
		c.Site.LoggedInMarker = "breclient/ui"
	}
	if c.Site.VINStep == "" {
		c.Site.VINStep = "Osago+Vehicle+Identification"
	}
	if c.Site.DamageStep == "" {
		c.Site.DamageStep = "Damage+capturing"
	}
	c.Site.Selectors.applyDefaults()
	if c.Walk.PageTimeout <= 0 {
		c.Walk.PageTimeout = 30 * time.Second
	}
	if c.Walk.ShortTimeout <= 0 {
		c.Walk.ShortTimeout = 10 * time.Second
	}
	if c.Walk.ProbeTimeout <= 0 {
		c.Walk.ProbeTimeout = 5 * time.Second
	}
	if c.Walk.Settle <= 0 {
		c.Walk.Settle = 500 * time.Millisecond
	}
	if c.Walk.ZoneClickRetries <= 0 {
		c.Walk.ZoneClickRetries = 3
	}
	if c.Archive.Root == "" {
		c.Archive.Root = "static"
	}
	if c.Archive.URLPrefix == "" {
		c.Archive.URLPrefix = "/static"
	}
	if c.Archive.KeepRecords <= 0 {
		c.Archive.KeepRecords = 1
	}
	if c.Archive.CacheSize <= 0 {
		c.Archive.CacheSize = 256
	}
	if c.Archive.CacheTTL <= 0 {
		c.Archive.CacheTTL = 15 * time.Minute
	}
	if c.Journal.DBPath == "" {
		c.Journal.DBPath = "db/runs.db"
	}
	if c.Mirror.Prefix == "" {
		c.Mirror.Prefix = "audasnap"
	}
	if c.Notify.Retries <= 0 {
		c.Notify.Retries = 3
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 10 * time.Second
	}
}

func (s *Selectors) applyDefaults() {
	set := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	set(&s.Username, "input[name='username']")
	set(&s.Password, "input[name='password']")
	set(&s.Submit, "input[type='submit']")
	set(&s.Captcha, "iframe[src*='captcha']")
	set(&s.Table, "#BREForm div.worklist-grid-component div.react-datagrid div.z-content-wrapper-fix > div")
	set(&s.Rows, "#BREForm .react-datagrid .z-row")
	set(&s.ConfirmModal, "#confirm > div > div > div.modal-footer > button")
	set(&s.ViewsLink, "#view-link-worklistgrid_custom_sent")
	set(&s.SearchBox, "#root\\.quickfilter\\.searchbox")
	set(&s.MoreIcon, "#BREForm div.worklist-grid-component div.z-content-wrapper-fix > div > div:nth-child(1) > div.z-last.z-cell > div")
	set(&s.OpenTask, "#openTask")
	set(&s.VINInput, "#root\\.task\\.basicClaimData\\.vehicle\\.vehicleIdentification\\.VINQuery-VIN")
	set(&s.DamageFrame, "#iframe_root\\.task\\.damageCapture\\.inlineWebPad")
	set(&s.FrameConfirm, "div.modal .btn.btn-confirm")
	set(&s.Breadcrumb, "#breadcrumb-navigation-title")
	set(&s.SheetBreadcrumb, "#breadcrumb-sheet-title")
	set(&s.ZoneTree, "#tree-navigation-zones-container")
	set(&s.ZoneItem, "div.navigation-tree-zone-container")
	set(&s.ZoneDescPrefix, "tree-navigation-zone-description-")
	set(&s.SheetPrefix, "sheet_")
	set(&s.PictogramGrid, "main div.pictograms-grid.visible")
	set(&s.PictogramSect, "section.pictogram-section")
	set(&s.PictogramSVG, "div.navigation-pictogram-svg-container svg")
}

// Validate ensures the configuration is coherent.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil {
		return fmt.Errorf("config: invalid site.base_url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("config: site.base_url must include a host")
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth must be headless or headful, got %q", c.Browser.Stealth)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	if k := c.Session.EncryptionKey; k != "" && len(k) < 32 {
		return fmt.Errorf("config: session.encryption_key must be at least 32 bytes")
	}
	if c.Mirror.Endpoint != "" && c.Mirror.Bucket == "" {
		return fmt.Errorf("config: mirror.bucket is required when mirror.endpoint is set")
	}
	for _, h := range c.Notify.Webhooks {
		wu, err := url.Parse(h)
		if err != nil || (wu.Scheme != "http" && wu.Scheme != "https") || wu.Host == "" {
			return fmt.Errorf("config: invalid webhook URL %q", h)
		}
	}
	if !strings.HasPrefix(c.Archive.URLPrefix, "/") {
		return fmt.Errorf("config: archive.url_prefix must start with /")
	}
	return nil
}
