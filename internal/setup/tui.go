package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcintyre94/jupalyse/config"
	"github.com/mcintyre94/jupalyse/internal/domain"
)

const (
	ConfigFile = "config.gen.yaml"
	EnvFile    = ".env"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers holds everything the wizard asks for.
type Answers struct {
	Addresses    string
	Products     []string
	OrdersDir    string
	PriceSource  string
	Symbols      string
	MinInterval  string
	CacheMissing bool
	CacheBackend string
	CacheDir     string
	CacheURL     string
	OutPath      string
	APIKey       string
	SaveAPIKey   bool
}

// RunTUI launches the terminal configuration wizard and writes config.gen.yaml
// into the working directory. The API key goes to .env only when the user asks.
func RunTUI() error {
	a := Answers{
		OrdersDir:    "./orders",
		PriceSource:  config.PriceSourceBirdeye,
		MinInterval:  "600ms",
		CacheMissing: true,
		CacheBackend: config.CacheWAL,
		OutPath:      "jupalyse.csv",
	}
	for _, p := range domain.Products {
		a.Products = append(a.Products, string(p))
	}

	var confirm bool

	// step 1: wallets
	step("STEP 1: WALLETS", true)
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Wallet addresses").
				Description("One per line or comma separated").
				Value(&a.Addresses).
				Validate(func(s string) error {
					if len(splitAddresses(s)) == 0 {
						return fmt.Errorf("at least one address is required")
					}
					return nil
				}),
			huh.NewMultiSelect[string]().
				Title("Products to include").
				Options(
					huh.NewOption("DCA (legacy)", string(domain.ProductDCA)).Selected(true),
					huh.NewOption("Value average (legacy)", string(domain.ProductValueAverage)).Selected(true),
					huh.NewOption("Recurring", string(domain.ProductRecurring)).Selected(true),
					huh.NewOption("Trigger", string(domain.ProductTrigger)).Selected(true),
				).
				Value(&a.Products),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2: order history
	step("STEP 2: ORDER HISTORY", false)
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Order history directory").
				Description("Files laid out as <dir>/<address>/<product>.json").
				Value(&a.OrdersDir),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 3: prices
	step("STEP 3: PRICES", false)
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Price history source").
				Options(
					huh.NewOption("Birdeye (needs API key)", config.PriceSourceBirdeye),
					huh.NewOption("Binance 1m klines", config.PriceSourceBinance),
					huh.NewOption("Bybit 1m klines", config.PriceSourceBybit),
				).
				Value(&a.PriceSource),
			huh.NewInput().
				Title("Minimum interval between requests").
				Description("Duration string (600ms keeps Birdeye at 100 req/min)").
				Value(&a.MinInterval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
			huh.NewConfirm().
				Title("Remember prices the provider has no data for?").
				Value(&a.CacheMissing),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.PriceSource != config.PriceSourceBirdeye {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewText().
					Title("Mint to trading symbol map").
					Description("One mint=SYMBOL per line, e.g. So11111111111111111111111111111111111111112=SOLUSDT").
					Value(&a.Symbols).
					Validate(func(s string) error {
						if len(parseSymbols(s)) == 0 {
							return fmt.Errorf("at least one mint=SYMBOL line is required")
						}
						return nil
					}),
			),
		).Run()
		if err != nil {
			return err
		}
	} else {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Birdeye API key").
					Description("Leave empty to use BIRDEYE_API_KEY from the environment").
					Value(&a.APIKey).
					EchoMode(huh.EchoModePassword),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	// step 4: cache
	step("STEP 4: PRICE CACHE", false)
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where to keep resolved prices").
				Options(
					huh.NewOption("Memory (this run only)", config.CacheMemory),
					huh.NewOption("Local write-ahead log", config.CacheWAL),
					huh.NewOption("Redis", config.CacheRedis),
					huh.NewOption("Postgres", config.CachePostgres),
				).
				Value(&a.CacheBackend),
		),
	).Run()
	if err != nil {
		return err
	}

	switch a.CacheBackend {
	case config.CacheWAL:
		a.CacheDir = "./wal/prices"
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("WAL directory").Value(&a.CacheDir),
		)).Run()
	case config.CacheRedis, config.CachePostgres:
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Connection URL").
				Value(&a.CacheURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("url cannot be empty")
					}
					return nil
				}),
		)).Run()
	}
	if err != nil {
		return err
	}

	// confirmation
	step("FINAL CONFIRMATION", false)

	summary := fmt.Sprintf(
		"Wallets: %d\nProducts: %s\nPrices: %s\nCache: %s\nOutput: %s\n",
		len(splitAddresses(a.Addresses)), strings.Join(a.Products, ", "), a.PriceSource, a.CacheBackend, a.OutPath,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	fields := []huh.Field{
		huh.NewConfirm().
			Title("Save Configuration?").
			Affirmative("Yes, save").
			Negative("No, exit").
			Value(&confirm),
	}
	if a.APIKey != "" {
		fields = append(fields, huh.NewConfirm().
			Title("Store the API key in .env?").
			Description("The key stays on this machine; skip it to keep the key in your shell environment").
			Value(&a.SaveAPIKey))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := Save(".", a); err != nil {
		return err
	}

	msg := fmt.Sprintf("\n✓ Configuration saved to %s\nRun: jupalyse --config %s", ConfigFile, ConfigFile)
	if a.SaveAPIKey {
		msg += "\n✓ API key saved to " + EnvFile
	}
	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(msg))
	return nil
}

func step(title string, welcome bool) {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("JUPALYSE CONFIG WIZARD"))
	if welcome {
		fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Export your recurring and trigger order history.\n"))
	}
	fmt.Println(stepStyle.Render(title))
}

// Build turns wizard answers into the yaml config shape.
func Build(a Answers) config.ConfigTmp {
	minInterval, _ := time.ParseDuration(a.MinInterval)

	c := config.ConfigTmp{
		Addresses: splitAddresses(a.Addresses),
		Products:  a.Products,
		Orders:    config.OrdersTmp{Source: config.OrdersFile, Dir: a.OrdersDir},
		Prices: config.PricesTmp{
			Source:          a.PriceSource,
			MinInterval:     minInterval,
			CacheMissingStr: fmt.Sprintf("%t", a.CacheMissing),
			Symbols:         parseSymbols(a.Symbols),
		},
		Cache:  config.CacheTmp{Backend: a.CacheBackend, Dir: a.CacheDir},
		Export: config.ExportTmp{Path: a.OutPath},
	}

	switch a.CacheBackend {
	case config.CacheRedis:
		c.Cache.RedisURL = a.CacheURL
	case config.CachePostgres:
		c.Cache.PostgresURL = a.CacheURL
	}

	return c
}

// Save writes config.gen.yaml into dir and, when requested, merges the API key
// into dir/.env without dropping existing entries.
func Save(dir string, a Answers) error {
	data, err := yaml.Marshal(Build(a))
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := filepath.Join(dir, ConfigFile)
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	if !a.SaveAPIKey || a.APIKey == "" {
		return nil
	}

	envPath := filepath.Join(dir, EnvFile)
	env := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		env, err = godotenv.Read(envPath)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", envPath, err)
		}
	}
	env[config.CredentialEnvVars[0]] = a.APIKey

	if err := godotenv.Write(env, envPath); err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}

	return os.Chmod(envPath, 0600)
}

func splitAddresses(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == ' ' || r == '\t'
	})
}

func parseSymbols(s string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(s, "\n") {
		mint, symbol, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || mint == "" || symbol == "" {
			continue
		}
		out[strings.TrimSpace(mint)] = strings.ToUpper(strings.TrimSpace(symbol))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
