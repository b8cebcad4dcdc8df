package portal

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/fieldgate/fieldgate/pkg/models"
)

// Config configures the Playwright driver.
type Config struct {
	// BaseURL is the portal origin, e.g. https://idme.moe.gov.my.
	BaseURL string

	// Headless controls whether Chromium runs without a display.
	Headless bool

	// NavTimeout bounds each page navigation.
	NavTimeout time.Duration

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// PlaywrightDriver implements Driver using a Chromium browser.
type PlaywrightDriver struct {
	config Config
	pw     *playwright.Playwright
	logger *slog.Logger
}

// NewPlaywrightDriver installs browsers if needed and starts the
// Playwright runtime.
func NewPlaywrightDriver(config Config) (*PlaywrightDriver, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("portal base URL is required")
	}
	if config.NavTimeout == 0 {
		config.NavTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &PlaywrightDriver{
		config: config,
		pw:     pw,
		logger: config.Logger.With("component", "portal"),
	}, nil
}

// Close stops the Playwright runtime.
func (d *PlaywrightDriver) Close() error {
	if d.pw == nil {
		return nil
	}
	return d.pw.Stop()
}

// PrepareChange navigates to the profile form, fills the new income
// value and returns the staged session with its pre-save screenshot.
// The browser stays open; the returned session must be committed or
// disposed by the caller.
func (d *PlaywrightDriver) PrepareChange(ctx context.Context, cookies []models.PortalCookie, newValue int64) (*Prepared, error) {
	if len(cookies) == 0 {
		return nil, ErrNoActiveSession
	}

	browser, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.config.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	session := &playwrightSession{browser: browser, logger: d.logger}

	prepared, err := d.stage(ctx, session, cookies, newValue)
	if err != nil {
		session.Dispose()
		return nil, err
	}
	return prepared, nil
}

func (d *PlaywrightDriver) stage(ctx context.Context, session *playwrightSession, cookies []models.PortalCookie, newValue int64) (*Prepared, error) {
	browserCtx, err := session.browser.NewContext(playwright.BrowserNewContextOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	session.context = browserCtx

	if err := browserCtx.AddCookies(toPlaywrightCookies(cookies)); err != nil {
		return nil, fmt.Errorf("failed to add cookies: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	session.page = page
	page.SetDefaultTimeout(float64(d.config.NavTimeout.Milliseconds()))

	d.logger.Debug("navigating to dashboard")
	if _, err := page.Goto(d.config.BaseURL+"/dashboard", playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(d.config.NavTimeout.Milliseconds())),
	}); err != nil {
		return nil, fmt.Errorf("failed to open dashboard: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Menu path: Aplikasi → Pengurusan Awam → Pengurusan Profil, then
	// the Maklumat Peribadi tab.
	steps := []struct {
		label string
		pause time.Duration
	}{
		{"Aplikasi", 800 * time.Millisecond},
		{"Pengurusan Awam", 800 * time.Millisecond},
		{"Pengurusan Profil", 1200 * time.Millisecond},
		{"Maklumat Peribadi", time.Second},
	}
	for _, step := range steps {
		d.logger.Debug("navigating menu", "item", step.label)
		link := page.Locator("text=" + step.label).First()
		if err := humanClick(page, link); err != nil {
			return nil, fmt.Errorf("failed to open %q: %w", step.label, err)
		}
		time.Sleep(step.pause)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	input, err := d.locateField(page)
	if err != nil {
		return nil, err
	}
	if err := input.ScrollIntoViewIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to scroll to field: %w", err)
	}
	time.Sleep(500 * time.Millisecond)

	prepared := &Prepared{Session: session}
	if raw, err := input.InputValue(); err == nil {
		if value, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); perr == nil {
			prepared.PreviousValue = &value
		}
	}
	d.logger.Debug("previous value read", "value", prepared.PreviousValue)

	if err := humanType(input, strconv.FormatInt(newValue, 10)); err != nil {
		return nil, fmt.Errorf("failed to fill field: %w", err)
	}
	time.Sleep(400 * time.Millisecond)

	d.logger.Debug("taking pre-save screenshot")
	shot, err := page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	prepared.Screenshot = shot

	return prepared, nil
}

// locateField finds the Pendapatan input, trying each candidate
// selector in turn until one is present on the page.
func (d *PlaywrightDriver) locateField(page playwright.Page) (playwright.Locator, error) {
	candidates := []playwright.Locator{
		page.GetByLabel("Pendapatan").First(),
		page.Locator(`input[name*="pendapatan" i]`).First(),
		page.Locator(`input[name*="income" i]`).First(),
	}
	for _, loc := range candidates {
		count, err := loc.Count()
		if err != nil {
			continue
		}
		if count > 0 {
			return loc, nil
		}
	}
	return nil, fmt.Errorf("income field not found on profile form")
}

var (
	simpanPattern = regexp.MustCompile(`(?i)simpan`)

	// saveButtonRole is the ARIA role the save control is looked up by.
	saveButtonRole = *playwright.AriaRoleButton
)

// playwrightSession keeps one staged browser alive for the
// confirmation gate.
type playwrightSession struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	logger  *slog.Logger
}

// Commit clicks the Simpan button and waits for the save to settle.
func (s *playwrightSession) Commit(ctx context.Context) error {
	if s.page == nil {
		return fmt.Errorf("session page is gone")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	button := s.page.GetByRole(saveButtonRole, playwright.PageGetByRoleOptions{
		Name: simpanPattern,
	}).First()
	count, err := button.Count()
	if err != nil || count == 0 {
		button = s.page.Locator("button:has-text('Simpan')").First()
	}

	if err := humanClick(s.page, button); err != nil {
		return fmt.Errorf("failed to click save: %w", err)
	}
	// Wait for navigation or a success toast.
	s.page.WaitForTimeout(3000)
	s.logger.Debug("save clicked")
	return nil
}

// Dispose closes every browser resource. Failures are logged and
// swallowed; the session may already be gone.
func (s *playwrightSession) Dispose() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.logger.Debug("page close failed", "error", err)
		}
	}
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			s.logger.Debug("context close failed", "error", err)
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Debug("browser close failed", "error", err)
		}
	}
}

// humanClick moves the mouse to the element before clicking so the
// interaction paces like a person.
func humanClick(page playwright.Page, loc playwright.Locator) error {
	if box, err := loc.BoundingBox(); err == nil && box != nil {
		if err := page.Mouse().Move(
			box.X+box.Width/2,
			box.Y+box.Height/2,
			playwright.MouseMoveOptions{Steps: playwright.Int(10)},
		); err == nil {
			time.Sleep(150 * time.Millisecond)
		}
	}
	return loc.Click()
}

// humanType clears the field and types the text character by character.
func humanType(loc playwright.Locator, text string) error {
	if err := loc.Click(); err != nil {
		return err
	}
	if err := loc.Fill(""); err != nil {
		return err
	}
	return loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay: playwright.Float(200),
	})
}

func toPlaywrightCookies(cookies []models.PortalCookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := playwright.OptionalCookie{
			Name:  c.Name,
			Value: c.Value,
		}
		if c.Domain != "" {
			cookie.Domain = playwright.String(c.Domain)
		}
		if c.Path != "" {
			cookie.Path = playwright.String(c.Path)
		}
		if c.Expires != 0 {
			cookie.Expires = playwright.Float(c.Expires)
		}
		if c.HTTPOnly {
			cookie.HttpOnly = playwright.Bool(true)
		}
		if c.Secure {
			cookie.Secure = playwright.Bool(true)
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			cookie.SameSite = playwright.SameSiteAttributeStrict
		case "lax":
			cookie.SameSite = playwright.SameSiteAttributeLax
		case "none":
			cookie.SameSite = playwright.SameSiteAttributeNone
		}
		out = append(out, cookie)
	}
	return out
}
