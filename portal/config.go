package portal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes the portal: where it lives, how to find its elements and
// how long to wait for it. Zero values are replaced by the national portal
// defaults.
type Config struct {
	URLs      URLs          `yaml:"urls"`
	Selectors Selectors     `yaml:"selectors"`
	Timeouts  Timeouts      `yaml:"timeouts"`
	Browser   BrowserConfig `yaml:"browser"`

	// NoRecordsMarker is the text the notes screen shows for an empty result.
	NoRecordsMarker string `yaml:"no_records_marker"`
	// LoginPathMarker identifies the login page in a URL.
	LoginPathMarker string `yaml:"login_path_marker"`
	// StrictLogin turns the "still on the login page" warning into a fatal error.
	StrictLogin bool `yaml:"strict_login"`
}

// URLs of the portal screens.
type URLs struct {
	Login    string `yaml:"login"`
	Emitted  string `yaml:"emitted"`
	Received string `yaml:"received"`
	// EmittedPath and ReceivedPath are the URL fragments expected after
	// clicking the menu icons.
	EmittedPath  string `yaml:"emitted_path"`
	ReceivedPath string `yaml:"received_path"`
}

// Selectors are locator chains for every element the bot touches.
type Selectors struct {
	LoginField    Chain `yaml:"login_field"`
	PasswordField Chain `yaml:"password_field"`
	Submit        Chain `yaml:"submit"`
	LoginAlert    Chain `yaml:"login_alert"`

	MenuEmitted  Chain `yaml:"menu_emitted"`
	MenuReceived Chain `yaml:"menu_received"`

	DateStart Chain `yaml:"date_start"`
	DateEnd   Chain `yaml:"date_end"`
	Search    Chain `yaml:"search"`

	Rows        string `yaml:"rows"`
	Cells       string `yaml:"cells"`
	MenuWrapper Chain  `yaml:"menu_wrapper"`
	MenuTrigger Chain  `yaml:"menu_trigger"`
	Menu        Chain  `yaml:"menu"`
	XMLLink     Chain  `yaml:"xml_link"`
	PDFLink     Chain  `yaml:"pdf_link"`
}

// Timeouts bound every suspension point.
type Timeouts struct {
	Element      time.Duration `yaml:"element"`       // login form lookup
	Navigation   time.Duration `yaml:"navigation"`    // opening the login page
	LoginWait    time.Duration `yaml:"login_wait"`    // navigation after submit
	MenuClick    time.Duration `yaml:"menu_click"`    // note menu icon
	URLWait      time.Duration `yaml:"url_wait"`      // URL change after menu click
	DirectNav    time.Duration `yaml:"direct_nav"`    // fallback navigation
	RowsWait     time.Duration `yaml:"rows_wait"`     // table or no-records marker
	Download     time.Duration `yaml:"download"`      // download event after click
	MenuSettle   time.Duration `yaml:"menu_settle"`   // after opening a row menu
	RowPause     time.Duration `yaml:"row_pause"`     // between rows
	FormSettle   time.Duration `yaml:"form_settle"`   // before probing date inputs
	SearchSettle time.Duration `yaml:"search_settle"` // after clicking search
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BrowserConfig controls the Chrome instance.
type BrowserConfig struct {
	// Remote is the DevTools WebSocket URL of an existing Chrome.
	// Empty launches a local headless Chrome.
	Remote string `yaml:"remote"`
	// Headful shows the browser window; only useful on a desktop.
	Headful bool `yaml:"headful"`
	// Bin overrides the Chrome binary.
	Bin string `yaml:"bin"`
	// SlowMotion delays each input action.
	SlowMotion time.Duration `yaml:"slow_motion"`
	// ResourceBlocking lists resource types to drop (images, fonts, media, stylesheets).
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// DefaultConfig returns the national portal configuration.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML file. A missing path yields DefaultConfig. Env
// overrides are applied last.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("portal: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("portal: parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides URLs and the remote browser from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("NFSE_LOGIN_URL"); v != "" {
		c.URLs.Login = v
	}
	if v := getenv("NFSE_EMITIDAS_URL"); v != "" {
		c.URLs.Emitted = v
	}
	if v := getenv("NFSE_RECEBIDAS_URL"); v != "" {
		c.URLs.Received = v
	}
	if v := getenv("NFSE_BROWSER_REMOTE"); v != "" {
		c.Browser.Remote = v
	}
}

func (c *Config) applyDefaults() {
	u := &c.URLs
	if u.Login == "" {
		u.Login = "https://www.nfse.gov.br/EmissorNacional/Login?ReturnUrl=%2fEmissorNacional"
	}
	if u.Emitted == "" {
		u.Emitted = "https://www.nfse.gov.br/EmissorNacional/Notas/Emitidas"
	}
	if u.Received == "" {
		u.Received = "https://www.nfse.gov.br/EmissorNacional/Notas/Recebidas"
	}
	if u.EmittedPath == "" {
		u.EmittedPath = "/Notas/Emitidas"
	}
	if u.ReceivedPath == "" {
		u.ReceivedPath = "/Notas/Recebidas"
	}
	if c.NoRecordsMarker == "" {
		c.NoRecordsMarker = "Nenhum registro encontrado"
	}
	if c.LoginPathMarker == "" {
		c.LoginPathMarker = "/Login"
	}

	s := &c.Selectors
	def := func(ch *Chain, v Chain) {
		if len(*ch) == 0 {
			*ch = v
		}
	}
	def(&s.LoginField, CSS(`input[name="Login"]`, `input[id="Login"]`, `input[type="text"]`))
	def(&s.PasswordField, CSS(`input[name="Senha"]`, `input[id="Senha"]`, `input[type="password"]`))
	def(&s.Submit, Chain{
		{CSS: `button[type="submit"]`},
		{CSS: `input[type="submit"]`},
		{CSS: "button", Text: "Entrar"},
		{CSS: "button", Text: "Acessar"},
	})
	def(&s.LoginAlert, CSS(".validation-summary-errors", ".alert-danger", ".alert", ".text-danger"))
	def(&s.MenuEmitted, CSS(`[title="NFS-e Emitidas"]`))
	def(&s.MenuReceived, CSS(`[title="NFS-e Recebidas"]`))
	def(&s.DateStart, CSS(
		`input[id*="DataInicio"]`, `input[name*="DataInicio"]`,
		`input[id*="DataEmissaoInicial"]`, `input[name*="DataEmissaoInicial"]`,
		`input[id*="DataCompetenciaInicio"]`, `input[name*="DataCompetenciaInicio"]`,
	))
	def(&s.DateEnd, CSS(
		`input[id*="DataFim"]`, `input[name*="DataFim"]`,
		`input[id*="DataEmissaoFinal"]`, `input[name*="DataEmissaoFinal"]`,
		`input[id*="DataCompetenciaFim"]`, `input[name*="DataCompetenciaFim"]`,
	))
	def(&s.Search, Chain{
		{CSS: `button[type="submit"]`, Text: "Pesquisar"},
		{CSS: "button", Text: "Consultar"},
		{CSS: "button", Text: "Buscar"},
		{CSS: `input[type="submit"][value*="Pesquisar"]`},
		{CSS: `input[type="submit"][value*="Consultar"]`},
		{CSS: `input[type="submit"][value*="Buscar"]`},
	})
	if s.Rows == "" {
		s.Rows = "table tbody tr"
	}
	if s.Cells == "" {
		s.Cells = "td"
	}
	def(&s.MenuWrapper, CSS(".menu-suspenso-tabela"))
	def(&s.MenuTrigger, CSS(".icone-trigger"))
	def(&s.Menu, CSS(".menu-content", ".list-group"))
	def(&s.XMLLink, Chain{
		{CSS: "a", Text: "Download XML"},
		{CSS: "a", Text: "XML"},
		{CSS: `a[href*="DownloadXml"]`},
		{CSS: `a[href*="xml"]`},
	})
	def(&s.PDFLink, Chain{
		{CSS: "a", Text: "Download DANFS-e"},
		{CSS: "a", Text: "Download DANFS"},
		{CSS: "a", Text: "DANFS-e"},
		{CSS: "a", Text: "DANFS"},
		{CSS: "a", Text: "PDF"},
		{CSS: `a[href*="DANFS"]`},
		{CSS: `a[href*="pdf"]`},
	})

	t := &c.Timeouts
	dur := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	dur(&t.Element, 5*time.Second)
	dur(&t.Navigation, 30*time.Second)
	dur(&t.LoginWait, 15*time.Second)
	dur(&t.MenuClick, 8*time.Second)
	dur(&t.URLWait, 15*time.Second)
	dur(&t.DirectNav, 20*time.Second)
	dur(&t.RowsWait, 10*time.Second)
	dur(&t.Download, 25*time.Second)
	dur(&t.MenuSettle, 400*time.Millisecond)
	dur(&t.RowPause, 300*time.Millisecond)
	dur(&t.FormSettle, time.Second)
	dur(&t.SearchSettle, 3*time.Second)
	dur(&t.PollInterval, 250*time.Millisecond)
}

// noteURL returns where the listing for a note type lives and how to reach it.
func (c *Config) noteURL(received bool) (url, path string, menu Chain, title string) {
	if received {
		return c.URLs.Received, c.URLs.ReceivedPath, c.Selectors.MenuReceived, "NFS-e Recebidas"
	}
	return c.URLs.Emitted, c.URLs.EmittedPath, c.Selectors.MenuEmitted, "NFS-e Emitidas"
}
