package auth

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"go.uber.org/zap"
)

// DefaultInstructionsTemplate renders the manual login instructions.
const DefaultInstructionsTemplate = "Open {{ .VerificationURI }}, enter {{ .UserCode }}\n"

// BrowserLauncher surfaces a device code grant to the user.
type BrowserLauncher interface {
	Launch(grant *DeviceCodeGrant) error
}

// PrintInstructionsLauncher writes the verification URI and user code so the
// user can enter them manually.
type PrintInstructionsLauncher struct {
	Out      io.Writer
	Template *template.Template
}

// NewPrintInstructionsLauncher parses text as the instructions template. An
// empty text selects DefaultInstructionsTemplate. Sprig functions are
// available to the template.
func NewPrintInstructionsLauncher(out io.Writer, text string) (*PrintInstructionsLauncher, error) {
	if text == "" {
		text = DefaultInstructionsTemplate
	}
	tmpl, err := template.New("instructions").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid instructions template: %w", err)
	}
	return &PrintInstructionsLauncher{Out: out, Template: tmpl}, nil
}

func (p *PrintInstructionsLauncher) Launch(grant *DeviceCodeGrant) error {
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	if p.Template == nil {
		_, err := fmt.Fprintf(out, "Open %s, enter %s\n", grant.VerificationURI, grant.UserCode)
		return err
	}
	var sb strings.Builder
	if err := p.Template.Execute(&sb, grant); err != nil {
		return fmt.Errorf("failed to render instructions: %w", err)
	}
	text := sb.String()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := io.WriteString(out, text)
	return err
}

// SystemBrowserLauncher opens the verification page in the default browser
// and delegates to Fallback when that is not possible.
type SystemBrowserLauncher struct {
	// Open starts the browser. Defaults to the platform opener.
	Open     func(url string) error
	Fallback BrowserLauncher
	Log      *zap.SugaredLogger
}

func (s *SystemBrowserLauncher) Launch(grant *DeviceCodeGrant) error {
	open := s.Open
	if open == nil {
		open = openBrowser
	}
	url := grant.BrowserURL()
	err := errors.New("no verification uri")
	if url != "" {
		err = open(url)
	}
	if err == nil {
		return nil
	}
	if s.Log != nil {
		s.Log.Debugw("Could not open browser, printing instructions", "error", err.Error())
	}
	if s.Fallback == nil {
		return err
	}
	return s.Fallback.Launch(grant)
}

// NewBrowserLauncher returns the launcher for the headless setting: printing
// only when headless, otherwise the system browser with printing as fallback.
func NewBrowserLauncher(headless bool, printer *PrintInstructionsLauncher, log *zap.SugaredLogger) BrowserLauncher {
	if headless {
		return printer
	}
	return &SystemBrowserLauncher{Fallback: printer, Log: log}
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			return errors.New("no graphical session available")
		}
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
