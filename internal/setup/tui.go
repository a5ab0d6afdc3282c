package setup

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vadiminshakov/tally/config"
	"github.com/vadiminshakov/tally/internal/domain"
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

// Answers collected by the wizard.
type Answers struct {
	DataDir   string
	Account   string
	Currency  string
	Quote     string
	Providers []string
	FeedURL   string
	Start     string
	Wallets   string
}

// RunTUI launches the terminal configuration wizard and writes the result to filename.
func RunTUI(filename string) error {
	a := Answers{
		DataDir:   "data",
		Account:   "default",
		Currency:  "USD",
		Quote:     "USDT",
		Providers: []string{config.ProviderBinance, config.ProviderBybit},
	}
	var confirm bool

	// step 1: storage
	screen("STEP 1: STORAGE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Where your ledger lives.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Write-ahead log and snapshots are kept here").
				Value(&a.DataDir).
				Validate(notEmpty("data directory")),
			huh.NewInput().
				Title("Account name").
				Value(&a.Account).
				Validate(notEmpty("account")),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2: valuation
	screen("STEP 2: VALUATION")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Reporting currency").
				Description("ISO 4217 code (e.g. USD, EUR)").
				Value(&a.Currency).
				Validate(validateCurrency),
			huh.NewInput().
				Title("Exchange quote asset").
				Description("Assets are priced against it (e.g. USDT)").
				Value(&a.Quote).
				Validate(notEmpty("quote asset")),
			huh.NewInput().
				Title("Price history start").
				Description("YYYY-MM-DD, empty to fetch everything available").
				Value(&a.Start).
				Validate(validateDay),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 3: providers
	screen("STEP 3: PRICE PROVIDERS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Price providers, tried in this order").
				Options(
					huh.NewOption("Binance", config.ProviderBinance),
					huh.NewOption("Bybit", config.ProviderBybit),
					huh.NewOption("Hyperliquid", config.ProviderHyperliquid),
					huh.NewOption("Custom HTTP feed", config.ProviderHTTP),
				).
				Value(&a.Providers).
				Validate(func(s []string) error {
					if len(s) == 0 {
						return fmt.Errorf("choose at least one provider")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	if contains(a.Providers, config.ProviderHTTP) {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Price feed URL").
					Value(&a.FeedURL).
					Validate(notEmpty("feed url")),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	// step 4: wallets
	screen("STEP 4: WALLETS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title("Ethereum addresses").
				Description("One per line, optionally followed by a label (0xabc... main)").
				Value(&a.Wallets).
				Validate(validateWallets),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	screen("FINAL CONFIRMATION")
	tmp := a.Config()
	summary := fmt.Sprintf(
		"Data: %s\nAccount: %s\nCurrency: %s\nProviders: %s\nWallets: %d\n",
		tmp.DataDir, tmp.Account, tmp.Currency, strings.Join(tmp.PriceProviders, ", "), len(tmp.Wallets),
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := config.Save(filename, tmp); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", filename)))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Secrets are read from ETHERSCAN_API_KEY, BINANCE_API_KEY and BYBIT_API_KEY."))
	time.Sleep(500 * time.Millisecond)
	return nil
}

// Config converts the answers to the yaml form of the configuration.
func (a Answers) Config() config.ConfigTmp {
	tmp := config.ConfigTmp{
		DataDir:        strings.TrimSpace(a.DataDir),
		Account:        strings.TrimSpace(a.Account),
		Currency:       strings.ToUpper(strings.TrimSpace(a.Currency)),
		PriceQuote:     strings.ToUpper(strings.TrimSpace(a.Quote)),
		PriceProviders: a.Providers,
		PriceFeedURL:   strings.TrimSpace(a.FeedURL),
		PriceStart:     strings.TrimSpace(a.Start),
	}
	for _, line := range strings.Split(a.Wallets, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		w := config.WalletTmp{Address: fields[0]}
		if len(fields) > 1 {
			w.Label = strings.Join(fields[1:], " ")
		}
		tmp.Wallets = append(tmp.Wallets, w)
	}
	return tmp
}

func screen(step string) {
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(headerStyle.Render("TALLY CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

func notEmpty(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		return nil
	}
}

func validateCurrency(s string) error {
	s = strings.TrimSpace(s)
	if len(s) != 3 {
		return fmt.Errorf("must be a 3-letter currency code")
	}
	return nil
}

func validateDay(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	_, err := domain.ParseDay(strings.TrimSpace(s))
	return err
}

func validateWallets(s string) error {
	for i, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if !common.IsHexAddress(fields[0]) {
			return fmt.Errorf("line %d: invalid address %q", i+1, fields[0])
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
