// Package browser implements the scripted SSO login with a transient
// headless Chromium instance driven over the DevTools protocol.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	appLog "untisfeed/internal/log"
	"untisfeed/internal/session"
)

const (
	// DefaultTimeout bounds the whole login flow including the SSO
	// redirect chain and dashboard load.
	DefaultTimeout = 90 * time.Second

	// settleDelay gives the single-page app time to finish
	// establishing its server-side session after each navigation.
	settleDelay = 3 * time.Second

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Automator drives the SSO login flow:
//
//  1. open the school's login page
//  2. click the identity-provider button (ButtonLabel)
//  3. fill the IdP credential form and submit
//  4. follow the OAuth callback back to the timetable host
//  5. load the dashboard so the session cookie is established
//  6. capture the bearer token and all cookies
//
// The browser instance is transient: it is started per Login call and
// torn down on every exit path, including failures.
type Automator struct {
	// Server is the timetable hostname, e.g. "peleus.webuntis.com".
	Server string
	// School is the school identifier in the login URL.
	School string
	// ButtonLabel is the visible text of the SSO button on the login
	// page.
	ButtonLabel string

	Headless bool
	Timeout  time.Duration
}

var _ session.LoginAutomator = (*Automator)(nil)

// Login performs the scripted login and returns the captured bearer
// token and cookie set.
func (a *Automator) Login(parentCtx context.Context, creds session.Credentials) (session.LoginResult, error) {
	if a.Server == "" {
		return session.LoginResult{}, errors.New("browser: Server is required")
	}
	if a.ButtonLabel == "" {
		return session.LoginResult{}, errors.New("browser: ButtonLabel is required")
	}
	if creds.Username == "" || creds.Password == "" {
		return session.LoginResult{}, errors.New("browser: credentials are required")
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
		chromedp.WindowSize(1920, 1080),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	// One timeout covers the entire flow; cancellation tears the
	// browser down through the context chain above.
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	loginURL := a.pageURL("#/basic/login")
	dashboardURL := a.pageURL("#/today")
	buttonXPath := fmt.Sprintf(`//button[contains(., %q)]`, a.ButtonLabel)

	var token string
	var cookies []*http.Cookie

	tasks := chromedp.Tasks{
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(buttonXPath, chromedp.BySearch),
		chromedp.Click(buttonXPath, chromedp.BySearch),
		// The click redirects to the identity provider; its credential
		// form appearing is the signal the redirect completed.
		chromedp.WaitVisible(`#username`, chromedp.ByID),
		chromedp.SendKeys(`#username`, creds.Username, chromedp.ByID),
		chromedp.SendKeys(`#password`, creds.Password, chromedp.ByID),
		chromedp.Click(`#kc-login`, chromedp.ByID),
		// OAuth callback lands back on the timetable host.
		waitForHost(a.Server),
		// The SPA must load a real page before the session cookie is
		// issued.
		chromedp.Navigate(dashboardURL),
		chromedp.Sleep(settleDelay),
		captureToken(&token),
		captureCookies(&cookies),
	}

	appLog.Info("scripted login starting", "server", a.Server, "headless", a.Headless)

	if err := chromedp.Run(ctx, tasks); err != nil {
		return session.LoginResult{}, fmt.Errorf("browser: login flow failed: %w", err)
	}

	token = strings.Trim(strings.TrimSpace(token), `"`)
	if token == "" {
		return session.LoginResult{}, errors.New("browser: no bearer token captured")
	}

	appLog.Info("scripted login completed", "cookies", len(cookies))

	return session.LoginResult{BearerToken: token, Cookies: cookies}, nil
}

func (a *Automator) pageURL(fragment string) string {
	return fmt.Sprintf("https://%s/WebUntis/?school=%s%s", a.Server, url.QueryEscape(a.School), fragment)
}

// waitForHost polls the page location until it lands on the given host.
func waitForHost(host string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			var loc string
			if err := chromedp.Location(&loc).Do(ctx); err != nil {
				return err
			}
			if strings.Contains(loc, host) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
	})
}

// captureToken asks the page itself to call the token-refresh endpoint,
// which rides on the freshly established session cookie.
func captureToken(out *string) chromedp.Action {
	const script = `fetch('/WebUntis/api/token/new').then(r => r.text())`
	return chromedp.Evaluate(script, out, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
}

// captureCookies reads the full browser cookie set over CDP, including
// cookies scoped to other domains in the redirect chain.
func captureCookies(out *[]*http.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		cs, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		*out = convertCookies(cs)
		return nil
	})
}

func convertCookies(cs []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cs))
	for _, c := range cs {
		out = append(out, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}
	return out
}
