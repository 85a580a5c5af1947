// Package stealth makes a headless session present as an ordinary desktop
// browser: consistent user agent, languages, screen, timezone and locale, plus
// an init script that patches the usual automation tells.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// Screen is the emulated display.
type Screen struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Persona is the browser profile a session presents.
type Persona struct {
	UserAgent           string   `json:"userAgent"`
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
	Timezone            string   `json:"timezone,omitempty"`
	Locale              string   `json:"locale,omitempty"`
	Screen              Screen   `json:"screen"`
	HardwareConcurrency int      `json:"hardwareConcurrency,omitempty"`
	WebGLVendor         string   `json:"webglVendor,omitempty"`
	WebGLRenderer       string   `json:"webglRenderer,omitempty"`
}

// DefaultPersona is a common Linux desktop Chrome.
var DefaultPersona = Persona{
	UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36",
	Platform:            "Linux x86_64",
	Languages:           []string{"en-US", "en"},
	Timezone:            "UTC",
	Locale:              "en-US",
	Screen:              Screen{Width: 1280, Height: 1000},
	HardwareConcurrency: 8,
	WebGLVendor:         "Intel Inc.",
	WebGLRenderer:       "Intel Iris OpenGL Engine",
}

// Apply returns the CDP actions that install persona on the current target.
// It must run on a context whose target already exists.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := logger.Named("stealth")

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(p.UserAgent).
			WithPlatform(p.Platform).
			WithAcceptLanguage(strings.Join(p.Languages, ",")),
	}

	if al := AcceptLanguage(p.Languages); al != "" {
		tasks = append(tasks, network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": al}))
	}
	if p.Screen.Width > 0 && p.Screen.Height > 0 {
		tasks = append(tasks, emulation.SetDeviceMetricsOverride(p.Screen.Width, p.Screen.Height, 1.0, false))
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(strings.ReplaceAll(p.Locale, "_", "-")))
	}

	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		script, err := Script(p)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("stealth: failed to add script on new document: %w", err)
		}
		l.Debug("Stealth persona applied.", zap.String("user_agent", p.UserAgent), zap.String("platform", p.Platform))
		return nil
	}))

	return tasks
}

// Script returns the init script with the persona bound as __persona.
func Script(p Persona) (string, error) {
	personaJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("stealth: failed to marshal persona: %w", err)
	}
	return fmt.Sprintf("(() => {\nconst __persona = %s;\n%s\n})();", personaJSON, evasionsScript), nil
}

// AcceptLanguage formats languages as an Accept-Language header with
// descending quality values, e.g. "ja-JP,ja;q=0.9,en;q=0.8".
func AcceptLanguage(languages []string) string {
	if len(languages) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(languages[0])
	for i := 1; i < len(languages); i++ {
		q := 1.0 - float64(i)*0.1
		if q < 0.5 {
			q = 0.5
		}
		fmt.Fprintf(&sb, ",%s;q=%.1f", languages[i], q)
	}
	return sb.String()
}
